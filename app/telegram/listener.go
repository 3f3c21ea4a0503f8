package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const pollTimeout = 30 * time.Second

type CommandHandler interface {
	Handle(ctx context.Context, text string) string
}

type Poller interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	Reply(ctx context.Context, chatID int64, messageID int64, text string) error
}

// Listener long-polls the Bot API and answers commands sent by the admin.
// Messages from anyone else are ignored.
type Listener struct {
	poller  Poller
	handler CommandHandler
	admin   int64
	backOff backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewListener(poller Poller, handler CommandHandler, admin int64) *Listener {
	ctx, cancel := context.WithCancel(context.Background())

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.MaxElapsedTime = 0

	return &Listener{
		poller:  poller,
		handler: handler,
		admin:   admin,
		backOff: expBackoff,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (l *Listener) Start() {
	if l.admin == 0 {
		slog.Warn("BOT_ADMIN not set, admin commands are disabled")
	}

	l.wg.Add(1)
	go l.run()

	slog.Info("Command listener started")
}

func (l *Listener) Stop() {
	l.cancel()
	l.wg.Wait()
	slog.Info("Command listener stopped")
}

func (l *Listener) run() {
	defer l.wg.Done()

	var offset int64
	for {
		updates, err := l.poller.GetUpdates(l.ctx, offset, pollTimeout)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}

			delay := l.backOff.NextBackOff()
			slog.Warn("Failed to poll updates", "error", err, "retry_in", delay.String())

			select {
			case <-l.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		l.backOff.Reset()

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			l.handleUpdate(l.ctx, update)
		}

		if l.ctx.Err() != nil {
			return
		}
	}
}

func (l *Listener) handleUpdate(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	if l.admin == 0 || msg.From.ID != l.admin {
		slog.Debug("Ignoring message", "from", msg.From.ID)
		return
	}

	slog.Info("Admin command received", "command", strings.Fields(msg.Text)[0])

	reply := l.handler.Handle(ctx, msg.Text)
	if reply == "" {
		return
	}

	if err := l.poller.Reply(ctx, msg.Chat.ID, msg.MessageID, reply); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Failed to reply to command", "error", err)
	}
}
