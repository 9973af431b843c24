// Package notifier delivers rendered messages to the resolved chat. Delivery
// is best effort: failures are logged, counted and journaled, never returned.
package notifier

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"logwatch/internal/metrics"
	"logwatch/internal/models"
)

// MaxTextRunes is the Bot API limit for a message text.
const MaxTextRunes = 4096

type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Journal interface {
	InsertNotification(ctx context.Context, n models.Notification) (int64, error)
}

// Notice is one message to deliver. Container and Rule are informational.
type Notice struct {
	Container string
	Rule      string
	Text      string
}

type Notifier struct {
	sender   Sender
	session  models.ChatSession
	resolved bool
	journal  Journal
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Notifier)

func WithJournal(j Journal) Option { return func(n *Notifier) { n.journal = j } }

func WithMetrics(m *metrics.Metrics) Option { return func(n *Notifier) { n.metrics = m } }

// New binds a notifier to session. The session is copied, so later changes
// by the caller are not observed. A nil session yields a notifier that drops
// every message.
func New(sender Sender, session *models.ChatSession, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{sender: sender, log: logger, now: time.Now}
	if session != nil {
		n.session = *session
		n.resolved = true
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Session() (models.ChatSession, bool) { return n.session, n.resolved }

// Notify sends one message. It is safe for concurrent use.
func (n *Notifier) Notify(ctx context.Context, msg Notice) {
	if !n.resolved {
		return
	}
	text := truncate(msg.Text)
	entry := models.Notification{
		TS:        n.now(),
		ChatID:    n.session.ChatID,
		Container: msg.Container,
		Rule:      msg.Rule,
		Status:    models.NotificationSent,
		Text:      text,
	}
	if err := n.sender.SendMessage(ctx, n.session.ChatID, text); err != nil {
		n.log.Error("send notification", "container", msg.Container, "err", err)
		entry.Status = models.NotificationFailed
		entry.Error = err.Error()
	}
	n.metrics.Notified(entry.Status)
	if n.journal == nil {
		return
	}
	// journal even when ctx is done so shutdown does not lose the record
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := n.journal.InsertNotification(jctx, entry); err != nil {
		n.log.Warn("journal notification", "err", err)
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxTextRunes {
		return s
	}
	const ellipsis = "…"
	runes := []rune(s)
	return string(runes[:MaxTextRunes-1]) + ellipsis
}
