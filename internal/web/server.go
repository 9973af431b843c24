package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"logwatch/internal/metrics"
	"logwatch/internal/models"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Journal is the read side of the notification journal.
type Journal interface {
	Ping(ctx context.Context) error
	RecentNotifications(ctx context.Context, container string, limit int) ([]models.Notification, error)
	CountNotifications(ctx context.Context, status string) (int, error)
	LastSession(ctx context.Context) (models.ChatSession, time.Time, error)
}

type StatusSource interface {
	Status() models.Status
}

type Server struct {
	docker  Pinger
	journal Journal
	status  StatusSource
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewServer wires the HTTP surface. journal may be nil when journaling is off.
func NewServer(docker Pinger, journal Journal, status StatusSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{docker: docker, journal: journal, status: status, metrics: m, log: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return logMiddleware(mux, s.log)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	if s.journal != nil {
		sum, err := s.journalSummary(r.Context())
		if err != nil {
			s.log.Warn("journal summary", "err", err)
		} else {
			st.Journal = &sum
		}
	}
	writeJSON(w, st)
}

func (s *Server) journalSummary(ctx context.Context) (models.JournalSummary, error) {
	var sum models.JournalSummary
	var err error
	if sum.Sent, err = s.journal.CountNotifications(ctx, models.NotificationSent); err != nil {
		return sum, err
	}
	if sum.Failed, err = s.journal.CountNotifications(ctx, models.NotificationFailed); err != nil {
		return sum, err
	}
	sess, at, err := s.journal.LastSession(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return sum, err
	default:
		sum.LastChatID = &sess.ChatID
		sum.LastResolvedAt = &at
	}
	return sum, nil
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	container := strings.TrimSpace(r.URL.Query().Get("container"))
	entries, err := s.journal.RecentNotifications(r.Context(), container, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.journal != nil {
		if err := s.journal.Ping(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if err := s.docker.Ping(r.Context()); err != nil {
		http.Error(w, "docker not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
