// Package users stores bot users, their risk profiles and saved portfolios.
package users

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/modules/optimization"
)

// ErrNotFound is returned when a user or portfolio does not exist.
var ErrNotFound = errors.New("not found")

// RiskProfile is the user's tolerance for volatility.
type RiskProfile string

const (
	RiskLow    RiskProfile = "low_risk"
	RiskMedium RiskProfile = "medium_risk"
	RiskHigh   RiskProfile = "high_risk"
)

var targetRisk = map[RiskProfile]float64{
	RiskLow:    0.05,
	RiskMedium: 0.12,
	RiskHigh:   0.20,
}

// RiskProfiles lists the profiles from least to most risky.
func RiskProfiles() []RiskProfile {
	return []RiskProfile{RiskLow, RiskMedium, RiskHigh}
}

// Valid reports whether p is a known profile.
func (p RiskProfile) Valid() bool {
	_, ok := targetRisk[p]
	return ok
}

// TargetRisk returns the annualized volatility budget of the profile, or
// optimization.DefaultTargetRisk for an unknown profile.
func (p RiskProfile) TargetRisk() float64 {
	if v, ok := targetRisk[p]; ok {
		return v
	}
	return optimization.DefaultTargetRisk
}

// ParseRiskProfile accepts "low", "low_risk" and their medium/high variants.
func ParseRiskProfile(s string) (RiskProfile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasSuffix(s, "_risk") {
		s += "_risk"
	}
	p := RiskProfile(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown risk profile %q", s)
	}
	return p, nil
}

// User is a bot user. RiskProfile is empty until the user picks one.
type User struct {
	ID           int64       `json:"user_id"`
	Name         string      `json:"name"`
	Tag          string      `json:"tag"`
	RiskProfile  RiskProfile `json:"risk_profile,omitempty"`
	HasPortfolio bool        `json:"has_portfolio"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// SavedPortfolio is the last optimization result kept for a user.
type SavedPortfolio struct {
	UserID    int64                        `json:"user_id"`
	Result    optimization.PortfolioResult `json:"result"`
	CreatedAt time.Time                    `json:"created_at"`
}
