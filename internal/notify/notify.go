// Package notify pushes newly ingested items that pass the configured
// keyword rules to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"rssel/internal/filter"
	"rssel/internal/query"
	"rssel/internal/storage"
	"rssel/internal/textnorm"
)

const (
	// DefaultMaxPerRun bounds messages sent by one run.
	DefaultMaxPerRun = 20

	// DefaultWindow limits candidates to recently ingested items.
	DefaultWindow = 24 * time.Hour

	// sendDelay keeps us under Telegram's ~20 messages/sec limit.
	sendDelay = 50 * time.Millisecond

	snippetLen = 300
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Options configures a Notifier.
type Options struct {
	ChatID    int64
	MaxPerRun int
	Window    time.Duration
}

// Scope narrows the candidate items.
type Scope struct {
	Groups   []string
	Tiers    []int
	FeedURLs []string
}

// Report summarizes one notification run.
type Report struct {
	Considered int
	Sent       int
	// Skipped counts items rejected by the rules.
	Skipped int
}

// Notifier sends item notifications.
type Notifier struct {
	api    telegramAPI
	store  storage.Storage
	engine *query.Engine
	rules  *filter.Rules
	opts   Options
	log    *slog.Logger
	now    func() time.Time
	delay  time.Duration
}

// New creates a Notifier backed by the Telegram Bot API.
func New(token string, store storage.Storage, engine *query.Engine, rules *filter.Rules, opts Options, log *slog.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newNotifier(api, store, engine, rules, opts, log), nil
}

func newNotifier(api telegramAPI, store storage.Storage, engine *query.Engine, rules *filter.Rules, opts Options, log *slog.Logger) *Notifier {
	if opts.MaxPerRun <= 0 {
		opts.MaxPerRun = DefaultMaxPerRun
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if rules == nil {
		rules = &filter.Rules{}
	}
	return &Notifier{
		api:    api,
		store:  store,
		engine: engine,
		rules:  rules,
		opts:   opts,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		delay:  sendDelay,
	}
}

// Notify sends pending items oldest first. Items rejected by the rules are
// stamped without a message so they are not reconsidered. Items beyond
// MaxPerRun stay pending for the next run; failed sends stay pending too.
func (n *Notifier) Notify(ctx context.Context, scope Scope) (*Report, error) {
	q := query.Query{Sort: query.SortDate, Limit: query.Unlimited}.Where(
		query.NotifyPending{},
		query.CreatedWithin(n.opts.Window),
		query.GroupIn(scope.Groups),
		query.TierIn(scope.Tiers),
		query.FeedIn(scope.FeedURLs),
	)
	rows, err := n.engine.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select items to notify: %w", err)
	}

	n.log.Debug("notify candidates", "count", len(rows), "rules", n.rules.Len())
	report := &Report{Considered: len(rows)}
	matched, rejected := lo.FilterReject(rows, func(r query.Row, _ int) bool {
		return n.rules.Match(r.Item)
	})
	report.Skipped = len(rejected)

	at := n.now()
	var errs []error
	if len(rejected) > 0 {
		if err := n.store.MarkNotified(ctx, rowIDs(rejected), at); err != nil {
			errs = append(errs, fmt.Errorf("stamp skipped items: %w", err))
		}
	}

	var sent []int64
	for i, r := range matched {
		if len(sent) >= n.opts.MaxPerRun || ctx.Err() != nil {
			break
		}
		if i > 0 && !wait(ctx, n.delay) {
			break
		}
		msg := tgbotapi.NewMessage(n.opts.ChatID, FormatNotification(r))
		msg.DisableWebPagePreview = true
		if _, err := n.api.Send(msg); err != nil {
			n.log.Error("send notification", "item_id", r.ID, "chat_id", n.opts.ChatID, "error", err)
			errs = append(errs, fmt.Errorf("send item %d: %w", r.ID, err))
			continue
		}
		sent = append(sent, r.ID)
	}
	report.Sent = len(sent)

	if len(sent) > 0 {
		// Delivered messages are stamped even when the run was interrupted.
		if err := n.store.MarkNotified(context.WithoutCancel(ctx), sent, at); err != nil {
			errs = append(errs, fmt.Errorf("stamp notified items: %w", err))
		}
		n.log.Info("sent notifications", "count", len(sent), "skipped", report.Skipped)
	}
	return report, errors.Join(errs...)
}

// wait pauses for d and reports false if ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func rowIDs(rows []query.Row) []int64 {
	return lo.Map(rows, func(r query.Row, _ int) int64 { return r.ID })
}

// FormatNotification formats an item as a Telegram message.
func FormatNotification(r query.Row) string {
	var b strings.Builder
	feed := r.FeedTitle
	if feed == "" {
		feed = r.FeedURL
	}
	fmt.Fprintf(&b, "[%s]\n\n", feed)
	b.WriteString(r.Title)
	if text := textnorm.Snippet(textnorm.HTMLToText(r.Body()), snippetLen); text != "" {
		b.WriteString("\n\n")
		b.WriteString(text)
	}
	if len(r.Tags) > 0 {
		b.WriteString("\n\n#")
		b.WriteString(strings.Join(r.Tags, " #"))
	}
	if r.Link != "" {
		b.WriteString("\n\n")
		b.WriteString(r.Link)
	}
	return b.String()
}
