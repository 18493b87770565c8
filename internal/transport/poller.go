package transport

import (
	"context"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fieldbot-dev/fieldbot/pkg/observability"
)

// Handler consumes classified updates. Implemented by flow.Router.
type Handler interface {
	Route(ctx context.Context, update tgbotapi.Update)
}

// Poller runs the long-poll loop, handing each update to the handler on
// its own goroutine so a slow download or sink call never stalls
// unrelated chats.
type Poller struct {
	bot     *tgbotapi.BotAPI
	handler Handler
	timeout int
}

// NewPoller creates a poller with the given long-poll timeout in
// seconds.
func NewPoller(bot *tgbotapi.BotAPI, handler Handler, timeout int) *Poller {
	return &Poller{
		bot:     bot,
		handler: handler,
		timeout: timeout,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight updates to
// finish.
func (p *Poller) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = p.timeout
	updates := p.bot.GetUpdatesChan(cfg)

	log.Printf("polling for updates as @%s", p.bot.Self.UserName)

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			p.bot.StopReceivingUpdates()
			wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				wg.Wait()
				return nil
			}
			observability.UpdateReceived()
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				p.handler.Route(ctx, u)
			}(update)
		}
	}
}
