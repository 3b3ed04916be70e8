package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aristath/fundfolio/internal/modules/charts"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/aristath/fundfolio/internal/modules/users"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	msgGreeting      = "Привет! Я финансовый консультант, могу помочь тебе составить оптимальный портфель из ПИФов недвижимости! Чем могу помочь сегодня?"
	msgHowCanIHelp   = "Чем могу помочь сегодня?"
	msgChooseRisk    = "Выберите уровень риска:"
	msgChooseGoal    = "Выберите параметр, по которому хотите оптимизировать портфель:"
	msgChooseMetric  = "Выберите метрику ликвидности:"
	msgEnterReturn   = "Введите значение доходности в процентах:"
	msgCancelled     = "Действие отменено"
	msgNoPortfolio   = "Портфель не собран. Хотите собрать его сейчас?"
	msgPortfolioHead = "Ваш портфель по долям активов:"
	msgCalculating   = "Собираю портфель, это может занять немного времени..."
	msgFailed        = "Не удалось собрать портфель. Попробуйте позже."
	msgMetricNoData  = "Для этой метрики ликвидности пока нет данных. Выберите другую метрику:"
	msgUnknownCmd    = "Неизвестная команда."

	chartTitle = "Ваш портфель"

	// Telegram rejects longer photo captions.
	maxCaptionRunes = 1024
)

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.Chat == nil {
		return
	}
	chatID := m.Chat.ID
	s := b.sessions.get(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			s.reset()
			b.send(chatID, msgGreeting, mainMenu())
		case "cancel":
			b.cancel(chatID, s)
		case "portfolio":
			if m.From != nil {
				b.showPortfolio(ctx, chatID, m.From.ID, s)
			}
		default:
			b.send(chatID, msgUnknownCmd+" "+msgHowCanIHelp, mainMenu())
		}
		return
	}

	if s.state == stateReturnInput && m.From != nil {
		b.handleReturnInput(ctx, chatID, m.From.ID, m.Text, s)
		return
	}
	b.send(chatID, msgHowCanIHelp, mainMenu())
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.request(tgbotapi.NewCallback(cb.ID, ""))
	if cb.Message == nil || cb.Message.Chat == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	s := b.sessions.get(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cb.Data {
	case cbCancel:
		b.clearKeyboard(cb.Message)
		b.cancel(chatID, s)
	case cbAssemble:
		b.clearKeyboard(cb.Message)
		b.startAssembly(ctx, chatID, cb.From.ID, s)
	case cbCheckPortfolio:
		b.clearKeyboard(cb.Message)
		b.showPortfolio(ctx, chatID, cb.From.ID, s)
	default:
		b.advance(ctx, chatID, cb, s)
	}
}

// advance handles a button press that answers the current question.
func (b *Bot) advance(ctx context.Context, chatID int64, cb *tgbotapi.CallbackQuery, s *session) {
	switch s.state {
	case stateRiskLevel:
		profile := users.RiskProfile(cb.Data)
		if !profile.Valid() {
			break
		}
		b.clearKeyboard(cb.Message)
		if err := b.saveRiskProfile(ctx, cb.From, profile); err != nil {
			b.log.Error().Err(err).Int64("user_id", cb.From.ID).Msg("Failed to save risk profile")
			s.reset()
			b.send(chatID, msgFailed, mainMenu())
			return
		}
		s.targetRisk = profile.TargetRisk()
		s.state = stateObjective
		b.send(chatID, msgChooseGoal, objectiveKeyboard())
		return

	case stateObjective:
		objective := optimization.Objective(cb.Data)
		if !objective.Valid() {
			break
		}
		b.clearKeyboard(cb.Message)
		s.objective = objective
		switch objective {
		case optimization.ObjectiveLiquidity:
			s.state = stateLiquidityMetric
			b.send(chatID, msgChooseMetric, metricKeyboard())
		case optimization.ObjectiveReturn:
			s.state = stateReturnInput
			b.send(chatID, msgEnterReturn, cancelKeyboard())
		default:
			b.assemble(ctx, chatID, cb.From.ID, s, nil)
		}
		return

	case stateLiquidityMetric:
		metric := optimization.LiquidityMetric(cb.Data)
		if !metric.Valid() {
			break
		}
		b.clearKeyboard(cb.Message)
		s.metric = metric
		b.assemble(ctx, chatID, cb.From.ID, s, nil)
		return

	case stateConfirmAssemble:
		b.clearKeyboard(cb.Message)
		if cb.Data == cbYes {
			b.startAssembly(ctx, chatID, cb.From.ID, s)
			return
		}
		s.reset()
		b.send(chatID, msgHowCanIHelp, mainMenu())
		return
	}

	b.log.Debug().
		Int64("chat_id", chatID).
		Str("state", s.state.String()).
		Str("data", cb.Data).
		Msg("Ignoring stale button")
}

func (b *Bot) cancel(chatID int64, s *session) {
	if s.state == stateIdle {
		return
	}
	s.reset()
	b.send(chatID, msgCancelled, mainMenu())
}

// startAssembly asks for a risk level unless the user already has one.
func (b *Bot) startAssembly(ctx context.Context, chatID, userID int64, s *session) {
	s.reset()
	u, err := b.users.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		b.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load user")
		b.send(chatID, msgFailed, mainMenu())
		return
	}
	if u == nil || !u.RiskProfile.Valid() {
		s.state = stateRiskLevel
		b.send(chatID, msgChooseRisk, riskKeyboard())
		return
	}
	s.targetRisk = u.RiskProfile.TargetRisk()
	s.state = stateObjective
	b.send(chatID, msgChooseGoal, objectiveKeyboard())
}

// saveRiskProfile creates the user on first use and keeps the portfolio
// flag of an existing one.
func (b *Bot) saveRiskProfile(ctx context.Context, from *tgbotapi.User, profile users.RiskProfile) error {
	_, err := b.users.GetUser(ctx, from.ID)
	switch {
	case err == nil:
		return b.users.SetRiskProfile(ctx, from.ID, profile)
	case errors.Is(err, users.ErrNotFound):
		return b.users.SaveUser(ctx, users.User{
			ID:          from.ID,
			Name:        strings.TrimSpace(from.FirstName + " " + from.LastName),
			Tag:         from.UserName,
			RiskProfile: profile,
		})
	default:
		return err
	}
}

func (b *Bot) handleReturnInput(ctx context.Context, chatID, userID int64, text string, s *session) {
	percent, err := parsePercent(text)
	if err != nil {
		b.send(chatID, fmt.Sprintf("Некорректное значение доходности: %v. Пожалуйста, введите значение доходности в процентах:", err), cancelKeyboard())
		return
	}
	target := percent / 100
	b.assemble(ctx, chatID, userID, s, &target)
}

// parsePercent accepts "12", "12.5", "12,5" and "12%" within [0, 100].
func parsePercent(text string) (float64, error) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "%"))
	text = strings.ReplaceAll(text, ",", ".")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("ожидается число")
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("доходность должна быть в пределах от 0 до 100")
	}
	return v, nil
}

// assemble runs the optimizer, replies with the chart and saves the result.
func (b *Bot) assemble(ctx context.Context, chatID, userID int64, s *session, targetReturn *float64) {
	b.send(chatID, msgCalculating, nil)

	runCtx, cancel := context.WithTimeout(ctx, b.runTimeout)
	defer cancel()
	res, err := b.optimizer.Run(runCtx, optimization.RunRequest{
		Objective:       s.objective,
		TargetReturn:    targetReturn,
		TargetRisk:      s.targetRisk,
		LiquidityMetric: s.metric,
	})
	if err != nil {
		b.presentError(chatID, s, err)
		return
	}

	b.sendPortfolio(chatID, res.Result)
	if err := b.users.SavePortfolio(ctx, userID, res.Result); err != nil {
		b.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to save portfolio")
	}
	s.reset()
}

// presentError maps optimizer failures to the next dialogue step.
func (b *Bot) presentError(chatID int64, s *session, err error) {
	var unattainable *optimization.TargetReturnError
	switch {
	case errors.As(err, &unattainable):
		s.state = stateReturnInput
		b.send(chatID, fmt.Sprintf(
			"Доходность %.2f%% недостижима. Максимально достижимая доходность: %.2f%%. %s",
			unattainable.Target*100, unattainable.MaxAttainable*100, msgEnterReturn), cancelKeyboard())

	case errors.Is(err, optimization.ErrMissingParameter):
		s.state = stateReturnInput
		b.send(chatID, msgEnterReturn, cancelKeyboard())

	case s.objective == optimization.ObjectiveLiquidity && errors.Is(err, optimization.ErrInsufficientData):
		s.state = stateLiquidityMetric
		b.send(chatID, msgMetricNoData, metricKeyboard())

	default:
		b.log.Error().
			Err(err).
			Int64("chat_id", chatID).
			Str("kind", optimization.ErrorKind(err)).
			Msg("Optimization failed")
		s.reset()
		b.send(chatID, msgFailed, mainMenu())
	}
}

func (b *Bot) showPortfolio(ctx context.Context, chatID, userID int64, s *session) {
	saved, err := b.users.GetPortfolio(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		s.reset()
		s.state = stateConfirmAssemble
		b.send(chatID, msgNoPortfolio, yesNoKeyboard())
		return
	}
	if err != nil {
		b.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load portfolio")
		s.reset()
		b.send(chatID, msgFailed, mainMenu())
		return
	}
	s.reset()
	b.sendPortfolio(chatID, saved.Result)
}

// sendPortfolio sends the pie chart captioned with the summary. A summary
// too long for a caption, or a chart that fails to render, falls back to a
// text message.
func (b *Bot) sendPortfolio(chatID int64, result optimization.PortfolioResult) {
	summary := msgPortfolioHead + "\n" + charts.FormatSummary(result)

	png, err := b.render(chartTitle, charts.SlicesFromWeights(result.Weights))
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to render allocation chart")
		b.send(chatID, summary, mainMenu())
		return
	}

	caption := summary
	if utf8.RuneCountInString(caption) > maxCaptionRunes {
		caption = msgPortfolioHead
	}
	if err := b.sendPhoto(chatID, png, caption, mainMenu()); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send chart")
		b.send(chatID, summary, mainMenu())
		return
	}
	if caption != summary {
		b.send(chatID, summary, nil)
	}
}

func (b *Bot) clearKeyboard(m *tgbotapi.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	b.request(tgbotapi.NewEditMessageReplyMarkup(m.Chat.ID, m.MessageID, empty))
}
