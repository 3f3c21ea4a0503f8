package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/lysyi3m/rss-relay/app/database"
)

const helpText = `Available commands:
/urllist - list registered feeds
/addfeed <url> - register a feed
/rmfeed <index> - remove a feed
/prune [days] - drop old ledger entries
/cleanup - remove malformed and duplicate feeds
/run - run the pipeline now`

// Commands answers the bot commands sent by the admin.
type Commands struct {
	service *Service
}

func NewCommands(service *Service) *Commands {
	return &Commands{service: service}
}

// Handle executes one command message and returns the reply text.
func (c *Commands) Handle(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText
	}

	command, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	slog.Debug("Handling command", "command", command, "args", args)

	switch command {
	case "/urllist":
		return c.urlList(ctx)
	case "/addfeed":
		return c.addFeed(ctx, args)
	case "/rmfeed":
		return c.removeFeed(ctx, args)
	case "/prune":
		return c.prune(ctx, args)
	case "/cleanup":
		return c.cleanup(ctx)
	case "/run":
		return c.run(ctx)
	default:
		return helpText
	}
}

func (c *Commands) urlList(ctx context.Context) string {
	feeds, err := c.service.ListFeeds(ctx)
	if err != nil {
		return replyForError(err)
	}
	if len(feeds) == 0 {
		return "No URLs in the url table"
	}
	return formatFeeds(feeds)
}

func (c *Commands) addFeed(ctx context.Context, args []string) string {
	feedURL, err := singleArgument(args)
	if err != nil {
		return replyForError(err)
	}

	if _, err := c.service.AddFeed(ctx, feedURL); err != nil {
		slog.Warn("Failed to add feed", "url", feedURL, "error", err)
		return replyForError(err)
	}
	return "Added successfully!"
}

func (c *Commands) removeFeed(ctx context.Context, args []string) string {
	arg, err := singleArgument(args)
	if err != nil {
		return replyForError(err)
	}

	id, err := parseIndex(arg)
	if err != nil {
		return replyForError(err)
	}

	if err := c.service.RemoveFeed(ctx, id); err != nil {
		return replyForError(err)
	}
	return "Element was removed successfully!"
}

func (c *Commands) prune(ctx context.Context, args []string) string {
	if len(args) > 1 {
		return replyForError(ErrWrongArgumentCount)
	}

	var days int64
	if len(args) == 1 {
		var err error
		if days, err = parseIndex(args[0]); err != nil {
			return replyForError(err)
		}
	}

	removed, err := c.service.Prune(ctx, int(days))
	if err != nil {
		return replyForError(err)
	}
	return fmt.Sprintf("Removed %d ledger entries", removed)
}

func (c *Commands) cleanup(ctx context.Context) string {
	removed, err := c.service.Cleanup(ctx)
	if err != nil {
		return replyForError(err)
	}
	if len(removed) == 0 {
		return "Nothing to clean up"
	}
	return fmt.Sprintf("Removed %d feeds:\n%s", len(removed), formatFeeds(removed))
}

func (c *Commands) run(ctx context.Context) string {
	report, err := c.service.Run(ctx)
	if err != nil {
		return replyForError(err)
	}
	return fmt.Sprintf("Run %s: %d delivered, %d duplicates, %d errors, %d/%d sources fetched",
		report.State, report.Delivered, report.Duplicates, report.Errors, report.Fetched, report.Sources)
}

func singleArgument(args []string) (string, error) {
	if len(args) != 1 {
		return "", ErrWrongArgumentCount
	}
	return args[0], nil
}

func parseIndex(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: [%s]", ErrNonNumericIndex, arg)
	}
	return id, nil
}

func formatFeeds(feeds []database.Feed) string {
	lines := lo.Map(feeds, func(feed database.Feed, _ int) string {
		return fmt.Sprintf("%d: %s", feed.ID, feed.URL)
	})
	return strings.Join(lines, "\n")
}

func replyForError(err error) string {
	var notAFeed *NotAFeedError

	switch {
	case errors.Is(err, ErrWrongArgumentCount):
		return "Expecting only one argument"
	case errors.Is(err, ErrNonNumericIndex):
		arg := strings.TrimPrefix(err.Error(), ErrNonNumericIndex.Error()+": ")
		return arg + " is not a valid numeric index"
	case errors.Is(err, database.ErrInvalidFeedURL):
		return "Invalid URL format"
	case errors.Is(err, database.ErrDuplicateFeed):
		return "URL exists in the DB"
	case errors.Is(err, database.ErrFeedNotFound):
		return "No feed with this index"
	case errors.As(err, &notAFeed):
		if len(notAFeed.Suggestions) == 0 {
			return "Not a valid RSS or Atom feed"
		}
		return "Not a valid RSS or Atom feed. Feeds found on the page:\n" + strings.Join(notAFeed.Suggestions, "\n")
	default:
		return "Error: " + err.Error()
	}
}
