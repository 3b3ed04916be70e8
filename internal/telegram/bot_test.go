package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/fundfolio/internal/modules/charts"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/aristath/fundfolio/internal/modules/users"
	testdb "github.com/aristath/fundfolio/internal/testing"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chatID = int64(1001)
	userID = int64(42)
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	photoErr error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := c.(tgbotapi.PhotoConfig); ok && f.photoErr != nil {
		return tgbotapi.Message{}, f.photoErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts renders sent messages as text; photos are prefixed with "[photo] ".
func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, c := range f.sent {
		switch v := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, v.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, "[photo] "+v.Caption)
		}
	}
	return out
}

func (f *fakeSender) last() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeSender) lastMarkup() tgbotapi.InlineKeyboardMarkup {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if msg, ok := f.sent[i].(tgbotapi.MessageConfig); ok {
			if markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
				return markup
			}
		}
	}
	return tgbotapi.InlineKeyboardMarkup{}
}

type fakeOptimizer struct {
	requests []optimization.RunRequest
	errs     []error // consumed one per call; nil entries succeed
}

func (f *fakeOptimizer) Run(ctx context.Context, req optimization.RunRequest) (*optimization.RunResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("run without deadline")
	}
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &optimization.RunResult{Result: optimization.PortfolioResult{
		Objective:          req.Objective,
		Weights:            map[string]float64{"Фонд А": 0.6, "Фонд Б": 0.4},
		ExpectedReturn:     0.1,
		ExpectedVolatility: 0.05,
		SharpeRatio:        1.6,
		TargetRisk:         req.TargetRisk,
	}}, nil
}

type testBot struct {
	*Bot
	sender    *fakeSender
	optimizer *fakeOptimizer
	users     *users.Repository
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	sender := &fakeSender{}
	optimizer := &fakeOptimizer{}
	repo := users.NewRepository(testdb.NewTestDB(t, "users").Conn(), zerolog.Nop())

	bot := NewBot(sender, optimizer, repo, time.Second, zerolog.Nop())
	bot.render = func(string, []charts.Slice) ([]byte, error) { return []byte("png"), nil }
	return &testBot{Bot: bot, sender: sender, optimizer: optimizer, users: repo}
}

func (b *testBot) command(text string) {
	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: userID, FirstName: "Иван", LastName: "Петров", UserName: "ivan"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}})
}

func (b *testBot) text(text string) {
	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: userID},
	}})
}

func (b *testBot) press(data string) {
	b.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID, FirstName: "Иван", LastName: "Петров", UserName: "ivan"},
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}})
}

func (b *testBot) state() state {
	return b.sessions.get(chatID).state
}

func (b *testBot) saveProfile(t *testing.T, profile users.RiskProfile) {
	t.Helper()
	require.NoError(t, b.users.SaveUser(context.Background(), users.User{ID: userID, Name: "Иван", RiskProfile: profile}))
}

func TestStart_ShowsMainMenu(t *testing.T) {
	b := newTestBot(t)
	b.command("/start")

	assert.Equal(t, msgGreeting, b.sender.last())
	markup := b.sender.lastMarkup()
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, cbAssemble, *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, cbCheckPortfolio, *markup.InlineKeyboard[1][0].CallbackData)
}

func TestAssemble_NewUserPicksRiskLevel(t *testing.T) {
	b := newTestBot(t)

	b.press(cbAssemble)
	assert.Equal(t, msgChooseRisk, b.sender.last())
	assert.Equal(t, stateRiskLevel, b.state())

	b.press(string(users.RiskMedium))
	assert.Equal(t, msgChooseGoal, b.sender.last())
	u, err := b.users.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, users.RiskMedium, u.RiskProfile)
	assert.Equal(t, "Иван Петров", u.Name)
	assert.Equal(t, "ivan", u.Tag)

	b.press(string(optimization.ObjectiveRisk))
	require.Len(t, b.optimizer.requests, 1)
	assert.Equal(t, optimization.ObjectiveRisk, b.optimizer.requests[0].Objective)
	assert.Equal(t, 0.12, b.optimizer.requests[0].TargetRisk)

	last := b.sender.last()
	assert.True(t, strings.HasPrefix(last, "[photo] "+msgPortfolioHead), last)
	assert.Contains(t, last, "Фонд А: 60.00%")
	assert.Equal(t, stateIdle, b.state())

	saved, err := b.users.GetPortfolio(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0.6, saved.Result.Weights["Фонд А"])
}

func TestAssemble_ExistingProfileSkipsRiskQuestion(t *testing.T) {
	b := newTestBot(t)
	b.saveProfile(t, users.RiskHigh)

	b.press(cbAssemble)
	assert.Equal(t, msgChooseGoal, b.sender.last())
	assert.Equal(t, stateObjective, b.state())

	b.press(string(optimization.ObjectiveLiquidity))
	assert.Equal(t, msgChooseMetric, b.sender.last())

	b.press(string(optimization.MetricTurnoverRatio))
	require.Len(t, b.optimizer.requests, 1)
	assert.Equal(t, optimization.MetricTurnoverRatio, b.optimizer.requests[0].LiquidityMetric)
	assert.Equal(t, 0.20, b.optimizer.requests[0].TargetRisk)
}

func TestReturnObjective_ValidatesInput(t *testing.T) {
	b := newTestBot(t)
	b.saveProfile(t, users.RiskLow)
	b.press(cbAssemble)
	b.press(string(optimization.ObjectiveReturn))
	assert.Equal(t, msgEnterReturn, b.sender.last())

	b.text("много")
	assert.Contains(t, b.sender.last(), "Некорректное значение доходности")
	b.text("150")
	assert.Contains(t, b.sender.last(), "от 0 до 100")
	assert.Empty(t, b.optimizer.requests)
	assert.Equal(t, stateReturnInput, b.state())

	b.text("12,5")
	require.Len(t, b.optimizer.requests, 1)
	require.NotNil(t, b.optimizer.requests[0].TargetReturn)
	assert.InDelta(t, 0.125, *b.optimizer.requests[0].TargetReturn, 1e-12)
	assert.Equal(t, stateIdle, b.state())
}

func TestReturnObjective_UnattainableTargetReprompts(t *testing.T) {
	b := newTestBot(t)
	b.saveProfile(t, users.RiskLow)
	b.optimizer.errs = []error{
		fmt.Errorf("optimize: %w", &optimization.TargetReturnError{Target: 0.5, MaxAttainable: 0.21}),
	}

	b.press(cbAssemble)
	b.press(string(optimization.ObjectiveReturn))
	b.text("50")

	assert.Contains(t, b.sender.last(), "Максимально достижимая доходность: 21.00%")
	assert.Equal(t, stateReturnInput, b.state())

	b.text("20")
	assert.True(t, strings.HasPrefix(b.sender.last(), "[photo] "))
	assert.Len(t, b.optimizer.requests, 2)
}

func TestLiquidityObjective_MetricWithoutData(t *testing.T) {
	b := newTestBot(t)
	b.saveProfile(t, users.RiskLow)
	b.optimizer.errs = []error{fmt.Errorf("%w: no bid/ask data", optimization.ErrInsufficientData)}

	b.press(cbAssemble)
	b.press(string(optimization.ObjectiveLiquidity))
	b.press(string(optimization.MetricBidAskSpread))

	assert.Equal(t, msgMetricNoData, b.sender.last())
	assert.Equal(t, stateLiquidityMetric, b.state())

	b.press(string(optimization.MetricAverageTradingVolume))
	assert.Len(t, b.optimizer.requests, 2)
	assert.Equal(t, stateIdle, b.state())
}

func TestOptimizerFailure_ReturnsToMainMenu(t *testing.T) {
	b := newTestBot(t)
	b.saveProfile(t, users.RiskLow)
	b.optimizer.errs = []error{fmt.Errorf("%w: singular", optimization.ErrNumericDegeneracy)}

	b.press(cbAssemble)
	b.press(string(optimization.ObjectiveRisk))

	assert.Equal(t, msgFailed, b.sender.last())
	assert.Equal(t, stateIdle, b.state())
	_, err := b.users.GetPortfolio(context.Background(), userID)
	assert.ErrorIs(t, err, users.ErrNotFound)
}

func TestCancel(t *testing.T) {
	b := newTestBot(t)
	b.saveProfile(t, users.RiskLow)
	b.press(cbAssemble)

	b.press(cbCancel)
	assert.Equal(t, msgCancelled, b.sender.last())
	assert.Equal(t, stateIdle, b.state())

	b.press(string(optimization.ObjectiveRisk))
	assert.Empty(t, b.optimizer.requests, "stale button after cancel")

	sent := len(b.sender.texts())
	b.command("/cancel")
	assert.Len(t, b.sender.texts(), sent, "cancel outside a dialogue is silent")
}

func TestCheckPortfolio(t *testing.T) {
	t.Run("offers to assemble when none saved", func(t *testing.T) {
		b := newTestBot(t)
		b.press(cbCheckPortfolio)
		assert.Equal(t, msgNoPortfolio, b.sender.last())

		b.press(cbYes)
		assert.Equal(t, msgChooseRisk, b.sender.last())
	})

	t.Run("declining returns to menu", func(t *testing.T) {
		b := newTestBot(t)
		b.press(cbCheckPortfolio)
		b.press(cbNo)
		assert.Equal(t, msgHowCanIHelp, b.sender.last())
		assert.Equal(t, stateIdle, b.state())
	})

	t.Run("re-renders saved portfolio", func(t *testing.T) {
		b := newTestBot(t)
		b.saveProfile(t, users.RiskLow)
		require.NoError(t, b.users.SavePortfolio(context.Background(), userID, optimization.PortfolioResult{
			Weights:            map[string]float64{"Фонд В": 1},
			ExpectedReturn:     0.07,
			ExpectedVolatility: 0.03,
			SharpeRatio:        1.67,
		}))

		b.command("/portfolio")
		assert.Contains(t, b.sender.last(), "[photo] "+msgPortfolioHead)
		assert.Contains(t, b.sender.last(), "Фонд В: 100.00%")
	})
}

func TestSendPortfolio_FallsBackToText(t *testing.T) {
	b := newTestBot(t)
	b.saveProfile(t, users.RiskLow)
	b.render = func(string, []charts.Slice) ([]byte, error) { return nil, errors.New("no fonts") }

	b.press(cbAssemble)
	b.press(string(optimization.ObjectiveRisk))
	assert.True(t, strings.HasPrefix(b.sender.last(), msgPortfolioHead), b.sender.last())

	b.render = func(string, []charts.Slice) ([]byte, error) { return []byte("png"), nil }
	b.sender.photoErr = errors.New("file too big")
	b.press(cbAssemble)
	b.press(string(optimization.ObjectiveRisk))
	assert.True(t, strings.HasPrefix(b.sender.last(), msgPortfolioHead), b.sender.last())
}

func TestUnknownInput_ShowsMenu(t *testing.T) {
	b := newTestBot(t)
	b.text("привет")
	assert.Equal(t, msgHowCanIHelp, b.sender.last())

	b.command("/weather")
	assert.True(t, strings.HasPrefix(b.sender.last(), msgUnknownCmd))
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12", 12, false},
		{" 12.5 ", 12.5, false},
		{"12,5", 12.5, false},
		{"7%", 7, false},
		{"0", 0, false},
		{"100", 100, false},
		{"-1", 0, true},
		{"100.1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePercent(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebhookHandler(t *testing.T) {
	b := newTestBot(t)

	rec := httptest.NewRecorder()
	b.WebhookHandler(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := `{"update_id":1,"message":{"message_id":1,"chat":{"id":1001,"type":"private"},` +
		`"from":{"id":42,"is_bot":false,"first_name":"Иван"},"text":"/start",` +
		`"entities":[{"type":"bot_command","offset":0,"length":6}]}}`
	rec = httptest.NewRecorder()
	b.WebhookHandler(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Eventually(t, func() bool { return b.sender.last() == msgGreeting }, time.Second, 5*time.Millisecond)
}

func TestActiveDialogues(t *testing.T) {
	b := newTestBot(t)
	assert.Zero(t, b.ActiveDialogues())
	b.press(cbAssemble)
	assert.Equal(t, 1, b.ActiveDialogues())
}
