// Package transport is the Telegram edge: the long-poll update loop,
// the rate-limited outbound sender, and the file downloader.
package transport

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// sendAPI is the slice of the Telegram client the sender needs.
type sendAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers outbound messages through a global rate limiter so
// the bot stays under Telegram's flood-control thresholds.
type Sender struct {
	api     sendAPI
	limiter *rate.Limiter
}

// NewSender creates a sender limited to perSecond messages with the
// given burst.
func NewSender(api sendAPI, perSecond float64, burst int) *Sender {
	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Notify sends a plain text message to the chat, waiting for limiter
// headroom first.
func (s *Sender) Notify(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
