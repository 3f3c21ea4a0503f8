package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/rss-relay/app/feed"
)

// MaxMessageLength is the Bot API limit for one text message, in runes.
const MaxMessageLength = 4096

type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Notifier delivers articles to the target chat and alerts to the admin.
type Notifier struct {
	sender Sender
	target string
	admin  int64
}

func NewNotifier(sender Sender, target string, admin int64) *Notifier {
	return &Notifier{sender: sender, target: target, admin: admin}
}

func (n *Notifier) Deliver(ctx context.Context, article feed.Article) error {
	for _, part := range SplitMessage(FormatArticle(article), MaxMessageLength) {
		if err := n.sender.SendMessage(ctx, n.target, part); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) DeliverToAdmin(ctx context.Context, message string) error {
	if n.admin == 0 {
		slog.Warn("No admin configured, alert not sent", "message", message)
		return nil
	}

	chatID := strconv.FormatInt(n.admin, 10)
	for _, part := range SplitMessage(message, MaxMessageLength) {
		if err := n.sender.SendMessage(ctx, chatID, part); err != nil {
			return err
		}
	}
	return nil
}

// LogNotifier logs the rendered messages instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Deliver(_ context.Context, article feed.Article) error {
	slog.Info("Dry run, message not sent", "link", article.Link, "message", FormatArticle(article))
	return nil
}

func (LogNotifier) DeliverToAdmin(_ context.Context, message string) error {
	slog.Warn("Dry run, admin alert not sent", "message", message)
	return nil
}

func FormatArticle(article feed.Article) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📡 %s\n\n", article.Title)
	fmt.Fprintf(&b, "✏ Autore: %s\n", article.Author)
	fmt.Fprintf(&b, "📅 Data: %s\n\n", article.PublishedAt.In(time.Local).Format("2006/01/02, 15:04"))
	b.WriteString(article.Summary)
	fmt.Fprintf(&b, "\n\n🔗 Articolo completo: %s", article.Link)

	return b.String()
}

// SplitMessage breaks text into parts of at most limit runes, preferring line
// boundaries. Lines longer than limit are cut.
func SplitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			parts = append(parts, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf8.RuneCountInString(line)

		if currentLen+lineLen > limit {
			flush()
		}

		for lineLen > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			lineLen -= limit
		}

		current.WriteString(line)
		currentLen += lineLen
	}
	flush()

	return parts
}
