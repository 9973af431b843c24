package models

import "time"

// ChatSession is the single notification destination and the update feed
// cursor it was discovered at. The zero value is unresolved.
type ChatSession struct {
	ChatID       int64
	LastUpdateID int64
}

type ContainerRef struct {
	ID   string
	Name string
}

// ShortID returns the 12 character form docker prints.
func (c ContainerRef) ShortID() string {
	if len(c.ID) >= 12 {
		return c.ID[:12]
	}
	return c.ID
}

const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

type Notification struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts"`
	ChatID    int64     `json:"chat_id"`
	Container string    `json:"container,omitempty"`
	Rule      string    `json:"rule,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Text      string    `json:"text"`
}

const (
	TailerRunning = "running"
	TailerStopped = "stopped"
	TailerFailed  = "failed"
)

type TailerStatus struct {
	ContainerID string     `json:"container_id"`
	Container   string     `json:"container"`
	State       string     `json:"state"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Lines       int64      `json:"lines"`
	Matches     int64      `json:"matches"`
	LastError   string     `json:"last_error,omitempty"`
}

// Status is the orchestrator snapshot served on /api/status.
type Status struct {
	State     string          `json:"state"`
	StartedAt time.Time       `json:"started_at"`
	Target    string          `json:"target"`
	ChatID    *int64          `json:"chat_id"`
	Tailers   []TailerStatus  `json:"tailers"`
	Journal   *JournalSummary `json:"journal,omitempty"`
}

// JournalSummary is what the notification journal holds across restarts.
type JournalSummary struct {
	Sent           int        `json:"sent"`
	Failed         int        `json:"failed"`
	LastChatID     *int64     `json:"last_chat_id,omitempty"`
	LastResolvedAt *time.Time `json:"last_resolved_at,omitempty"`
}
