// Package tailer follows one container's log stream and forwards matching
// lines to the notifier.
package tailer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"logwatch/internal/classify"
	"logwatch/internal/logs"
	"logwatch/internal/metrics"
	"logwatch/internal/models"
	"logwatch/internal/notifier"
)

type LogSource interface {
	Logs(ctx context.Context, id string, since time.Time, follow bool) (io.ReadCloser, error)
}

type Notifier interface {
	Notify(ctx context.Context, msg notifier.Notice)
}

type Config struct {
	Rules     classify.Rules
	Formatter classify.Formatter
	// Since skips backlog written before it; zero replays the whole log.
	Since   time.Time
	Metrics *metrics.Metrics
}

type Tailer struct {
	container models.ContainerRef
	source    LogSource
	notify    Notifier
	cfg       Config
	log       *slog.Logger

	lines   atomic.Int64
	matches atomic.Int64
}

func New(c models.ContainerRef, source LogSource, notify Notifier, cfg Config, logger *slog.Logger) *Tailer {
	return &Tailer{
		container: c,
		source:    source,
		notify:    notify,
		cfg:       cfg,
		log:       logger.With("container", c.Name, "id", c.ShortID()),
	}
}

func (t *Tailer) Container() models.ContainerRef { return t.container }

// Counts returns the lines read and lines matched so far.
func (t *Tailer) Counts() (lines, matches int64) {
	return t.lines.Load(), t.matches.Load()
}

// Run follows the stream until it ends. A clean end of stream and
// cancellation of ctx return nil; failing to open or read the stream returns
// the error.
func (t *Tailer) Run(ctx context.Context) error {
	t.log.Info("monitoring container")
	rc, err := t.source.Logs(ctx, t.container.ID, t.cfg.Since, true)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open log stream: %w", err)
	}
	// closing on cancel unblocks a read that is waiting for the next chunk
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stop()
	defer rc.Close()

	err = logs.ParseDockerStream(rc, func(l logs.Line) { t.handle(ctx, l) })
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read log stream: %w", err)
	}
	t.log.Info("log stream closed")
	return nil
}

func (t *Tailer) handle(ctx context.Context, l logs.Line) {
	t.lines.Add(1)
	t.cfg.Metrics.LineRead(t.container.Name)
	d := t.cfg.Rules.Classify(l.Text)
	if !d.Notify() {
		return
	}
	t.matches.Add(1)
	t.cfg.Metrics.Matched(t.container.Name, d.Rule)
	t.log.Info("match", "rule", d.Rule, "kind", d.Kind.String(), "stream", l.Stream, "line", l.Text)
	t.notify.Notify(ctx, notifier.Notice{
		Container: t.container.Name,
		Rule:      d.Rule,
		Text:      t.cfg.Formatter.Format(l.Text, t.container.Name),
	})
}
