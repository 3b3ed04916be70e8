package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/rs/zerolog"
)

// Repository handles users database operations.
// Database: users.db (users and portfolios tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new users repository.
//
// Parameters:
//   - db: Database connection to users.db
//   - log: Structured logger
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "users").Logger(),
	}
}

// SaveUser inserts the user or updates name, tag, risk profile and the
// portfolio flag of an existing one.
func (r *Repository) SaveUser(ctx context.Context, u User) error {
	if u.RiskProfile != "" && !u.RiskProfile.Valid() {
		return fmt.Errorf("invalid risk profile %q", u.RiskProfile)
	}
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (user_id, name, tag, risk_profile, has_portfolio, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			tag = excluded.tag,
			risk_profile = excluded.risk_profile,
			has_portfolio = excluded.has_portfolio,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.Tag, nullableProfile(u.RiskProfile), boolToInt(u.HasPortfolio), now, now)
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	return nil
}

// GetUser returns the user or ErrNotFound.
func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	var (
		u            User
		profile      sql.NullString
		hasPortfolio int
		created      int64
		updated      int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, name, tag, risk_profile, has_portfolio, created_at, updated_at
		FROM users WHERE user_id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Tag, &profile, &hasPortfolio, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	u.RiskProfile = RiskProfile(profile.String)
	u.HasPortfolio = hasPortfolio != 0
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()
	return &u, nil
}

// SetRiskProfile stores the profile of an existing user.
func (r *Repository) SetRiskProfile(ctx context.Context, id int64, profile RiskProfile) error {
	if !profile.Valid() {
		return fmt.Errorf("invalid risk profile %q", profile)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET risk_profile = ?, updated_at = ? WHERE user_id = ?",
		string(profile), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set risk profile of user %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// HasRiskProfile reports whether the user exists and has picked a profile.
func (r *Repository) HasRiskProfile(ctx context.Context, id int64) (bool, error) {
	u, err := r.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.RiskProfile.Valid(), nil
}

// SavePortfolio replaces the user's saved portfolio and sets the portfolio
// flag in one transaction.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: Telegram user ID; the user must exist
//   - result: Optimization result to keep
func (r *Repository) SavePortfolio(ctx context.Context, id int64, result optimization.PortfolioResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode portfolio of user %d: %w", id, err)
	}

	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET has_portfolio = 1, updated_at = ? WHERE user_id = ?", time.Now().Unix(), id)
		if err != nil {
			return fmt.Errorf("failed to flag portfolio of user %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("user %d: %w", id, ErrNotFound)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO portfolios (user_id, portfolio, objective, expected_return, expected_volatility, sharpe_ratio, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				portfolio = excluded.portfolio,
				objective = excluded.objective,
				expected_return = excluded.expected_return,
				expected_volatility = excluded.expected_volatility,
				sharpe_ratio = excluded.sharpe_ratio,
				created_at = excluded.created_at`,
			id, string(payload), string(result.Objective),
			result.ExpectedReturn, result.ExpectedVolatility, result.SharpeRatio, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to save portfolio of user %d: %w", id, err)
		}
		return nil
	})
}

// GetPortfolio returns the saved portfolio or ErrNotFound.
func (r *Repository) GetPortfolio(ctx context.Context, id int64) (*SavedPortfolio, error) {
	var (
		payload string
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT portfolio, created_at FROM portfolios WHERE user_id = ?", id).Scan(&payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio of user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio of user %d: %w", id, err)
	}

	saved := &SavedPortfolio{UserID: id, CreatedAt: time.Unix(created, 0).UTC()}
	if err := json.Unmarshal([]byte(payload), &saved.Result); err != nil {
		return nil, fmt.Errorf("failed to decode portfolio of user %d: %w", id, err)
	}
	return saved, nil
}

// Count returns the number of registered users.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func nullableProfile(p RiskProfile) interface{} {
	if p == "" {
		return nil
	}
	return string(p)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
