// Package telegram is the conversational front-end: a per-chat dialogue
// that collects a risk profile and an objective, runs the optimizer and
// replies with an allocation chart.
package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/fundfolio/internal/modules/charts"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/aristath/fundfolio/internal/modules/users"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of the Bot API the dialogue uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Optimizer runs a portfolio optimization.
type Optimizer interface {
	Run(ctx context.Context, req optimization.RunRequest) (*optimization.RunResult, error)
}

// UserStore persists users and their last portfolio.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*users.User, error)
	SaveUser(ctx context.Context, u users.User) error
	SetRiskProfile(ctx context.Context, id int64, profile users.RiskProfile) error
	SavePortfolio(ctx context.Context, id int64, result optimization.PortfolioResult) error
	GetPortfolio(ctx context.Context, id int64) (*users.SavedPortfolio, error)
}

// Bot handles Telegram updates.
type Bot struct {
	api        Sender
	optimizer  Optimizer
	users      UserStore
	runTimeout time.Duration
	render     func(title string, slices []charts.Slice) ([]byte, error)
	sessions   *sessionStore
	log        zerolog.Logger
}

// NewBot creates the dialogue handler. runTimeout bounds one optimization.
func NewBot(api Sender, optimizer Optimizer, userStore UserStore, runTimeout time.Duration, log zerolog.Logger) *Bot {
	return &Bot{
		api:        api,
		optimizer:  optimizer,
		users:      userStore,
		runTimeout: runTimeout,
		render:     charts.RenderAllocationPie,
		sessions:   newSessionStore(),
		log:        log.With().Str("component", "telegram").Logger(),
	}
}

// Connect authenticates with the Bot API. With a webhook URL the webhook is
// registered, otherwise any previous webhook is removed so long polling works.
func Connect(token, webhookURL string, log zerolog.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	if webhookURL == "" {
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			return nil, err
		}
		log.Info().Str("bot", api.Self.UserName).Msg("Telegram bot connected for long polling")
		return api, nil
	}

	webhook, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	if _, err := api.Request(webhook); err != nil {
		return nil, err
	}
	log.Info().Str("bot", api.Self.UserName).Str("webhook", webhookURL).Msg("Telegram webhook set")
	return api, nil
}

// Poll receives updates by long polling until ctx is done. Updates are
// handled concurrently; each chat is still processed in order.
func (b *Bot) Poll(ctx context.Context, api *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	b.log.Info().Msg("Polling for updates")

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			b.log.Info().Msg("Stopped polling")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.HandleUpdate(ctx, update)
		}
	}
}

// WebhookHandler decodes an update pushed by Telegram (POST /telegram/webhook).
func (b *Bot) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	// The request context ends when we reply, and Telegram retries slow webhooks.
	go b.HandleUpdate(context.Background(), update)
	w.WriteHeader(http.StatusOK)
}

// HandleUpdate dispatches one update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("Panic while handling update")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// ActiveDialogues counts chats in the middle of a dialogue.
func (b *Bot) ActiveDialogues() int {
	return b.sessions.active()
}

func (b *Bot) send(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) sendPhoto(chatID int64, png []byte, caption string, markup interface{}) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "portfolio.png", Bytes: png})
	photo.Caption = caption
	if markup != nil {
		photo.ReplyMarkup = markup
	}
	_, err := b.api.Send(photo)
	return err
}

func (b *Bot) request(c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		b.log.Debug().Err(err).Msg("Bot API request failed")
	}
}
