// Package session discovers the chat that receives notifications by polling
// the bot update feed until someone sends the activation command.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"logwatch/internal/metrics"
	"logwatch/internal/models"
	"logwatch/internal/notifier"
	"logwatch/internal/telegram"
)

const (
	DefaultCommand   = "/start"
	ConfirmationText = "✅ Log monitoring started"
)

type UpdateFeed interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
}

// Recorder receives every resolved session, e.g. for an audit journal.
type Recorder interface {
	RecordSession(ctx context.Context, s models.ChatSession, at time.Time) error
}

// RetryPolicy paces the poll loop. It has no attempt ceiling.
type RetryPolicy struct {
	Interval time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: 2 * time.Second}
}

func (p RetryPolicy) Wait(ctx context.Context) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, p.Interval)
	}
	t := time.NewTimer(p.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	Command     string
	PollTimeout int
	Retry       RetryPolicy
	Metrics     *metrics.Metrics
	Journal     notifier.Journal
	Recorder    Recorder
}

type Resolver struct {
	feed   UpdateFeed
	sender notifier.Sender
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	// resolveMu serializes Resolve callers; mu guards the fields below.
	resolveMu sync.Mutex
	mu        sync.Mutex
	cursor    int64
	hasCursor bool
	resolved  *models.ChatSession
}

func NewResolver(feed UpdateFeed, sender notifier.Sender, logger *slog.Logger, opts Options) *Resolver {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.Retry.Interval <= 0 {
		opts.Retry.Interval = DefaultRetryPolicy().Interval
	}
	return &Resolver{feed: feed, sender: sender, opts: opts, log: logger, now: time.Now}
}

// Resolve blocks until the activation command arrives, sends the one-time
// confirmation and returns the session. Once resolved, later calls return the
// same session without polling. The only error is ctx's.
func (r *Resolver) Resolve(ctx context.Context) (models.ChatSession, error) {
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()
	if s, ok := r.session(); ok {
		return s, nil
	}
	for {
		s, ok, err := r.poll(ctx)
		if ctx.Err() != nil {
			return models.ChatSession{}, ctx.Err()
		}
		if err != nil {
			r.opts.Metrics.Polled("error")
			r.log.Error("poll updates", "offset", r.offset(), "err", err)
		} else {
			r.opts.Metrics.Polled("ok")
		}
		if ok {
			r.mu.Lock()
			r.resolved = &s
			r.mu.Unlock()
			r.log.Info("received chat id", "chat_id", s.ChatID, "update_id", s.LastUpdateID)
			r.confirm(ctx, s)
			return s, nil
		}
		if err := r.opts.Retry.Wait(ctx); err != nil {
			return models.ChatSession{}, err
		}
	}
}

// Cursor returns the id of the last update seen, 0 before any.
func (r *Resolver) Cursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *Resolver) session() (models.ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved == nil {
		return models.ChatSession{}, false
	}
	return *r.resolved, true
}

func (r *Resolver) offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasCursor {
		return 0
	}
	return r.cursor + 1
}

// poll fetches one batch. The cursor moves past every update in the batch
// up to and including the activation command; a failed fetch leaves it alone.
func (r *Resolver) poll(ctx context.Context) (models.ChatSession, bool, error) {
	updates, err := r.feed.GetUpdates(ctx, r.offset(), r.opts.PollTimeout)
	if err != nil {
		return models.ChatSession{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		if !r.hasCursor || u.UpdateID > r.cursor {
			r.cursor = u.UpdateID
			r.hasCursor = true
		}
		if u.Message != nil && u.Message.Text == r.opts.Command {
			return models.ChatSession{ChatID: u.Message.Chat.ID, LastUpdateID: r.cursor}, true, nil
		}
	}
	return models.ChatSession{}, false, nil
}

func (r *Resolver) confirm(ctx context.Context, s models.ChatSession) {
	if r.opts.Recorder != nil {
		if err := r.opts.Recorder.RecordSession(ctx, s, r.now()); err != nil {
			r.log.Warn("record session", "err", err)
		}
	}
	n := notifier.New(r.sender, &s, r.log,
		notifier.WithJournal(r.opts.Journal),
		notifier.WithMetrics(r.opts.Metrics))
	n.Notify(ctx, notifier.Notice{Text: ConfirmationText})
}
