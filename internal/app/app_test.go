package app

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logwatch/internal/config"
	"logwatch/internal/db"
	"logwatch/internal/models"
	"logwatch/internal/session"
)

func frame(payload string) []byte {
	head := make([]byte, 8)
	head[0] = 1
	binary.BigEndian.PutUint32(head[4:], uint32(len(payload)))
	return append(head, payload...)
}

// fakeDocker serves the two Engine API endpoints the app uses on a unix socket.
type fakeDocker struct {
	containers string
	logs       map[string]func(w http.ResponseWriter)
}

func (f *fakeDocker) serve(t *testing.T) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "d.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/containers/json":
			_, _ = io.WriteString(w, f.containers)
		case strings.HasSuffix(r.URL.Path, "/logs"):
			id := strings.Split(strings.TrimPrefix(r.URL.Path, "/containers/"), "/")[0]
			h, ok := f.logs[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			h(w)
		default:
			http.NotFound(w, r)
		}
	}))
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return sock
}

// fakeBot is a Bot API stand-in: getUpdates replays bodies, sendMessage records.
type fakeBot struct {
	mu      sync.Mutex
	bodies  []string
	polls   int
	chatIDs []int64
	texts   []string
}

func (b *fakeBot) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			b.polls++
			body := `{"ok":true,"result":[]}`
			if len(b.bodies) > 0 {
				body, b.bodies = b.bodies[0], b.bodies[1:]
			}
			_, _ = io.WriteString(w, body)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var p struct {
				ChatID int64  `json:"chat_id"`
				Text   string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&p)
			b.chatIDs = append(b.chatIDs, p.ChatID)
			b.texts = append(b.texts, p.Text)
			_, _ = io.WriteString(w, `{"ok":true}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func (b *fakeBot) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

func testConfig(t *testing.T, sock, botURL string) config.Config {
	cfg := config.Default()
	cfg.Token = "T"
	cfg.ContainerName = "web-1"
	cfg.Keywords = []string{"ERROR", "warn"}
	cfg.DockerSocket = sock
	cfg.TelegramAPI = botURL
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Timezone = "UTC"
	cfg.Addr = ""
	cfg.DBPath = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a
}

func TestRunZeroMatchesExitsWithoutNotifying(t *testing.T) {
	d := &fakeDocker{containers: `[{"Id":"aaa","Names":["/web-10"]},{"Id":"bbb","Names":["/db"]}]`}
	bot := &fakeBot{}
	botSrv := httptest.NewServer(bot.handler())
	defer botSrv.Close()

	a := newTestApp(t, testConfig(t, d.serve(t), botSrv.URL))
	err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrNoTargets)
	require.Equal(t, StateTerminated, a.State())
	require.Zero(t, bot.polls)
	require.Empty(t, bot.sent())
}

func TestRunEndToEnd(t *testing.T) {
	stream := append(frame("ERROR disk full\n"), frame("all fine\n")...)
	stream = append(stream, frame(`{"time":1700000000000,"level":"warn","msg":"retry"}`+"\n")...)
	d := &fakeDocker{
		containers: `[{"Id":"c0ffee000000aaaa","Names":["/web-1"],"State":"running"}]`,
		logs: map[string]func(http.ResponseWriter){
			"c0ffee000000aaaa": func(w http.ResponseWriter) { _, _ = w.Write(stream) },
		},
	}
	bot := &fakeBot{bodies: []string{
		`<html>502 Bad Gateway</html>`,
		`{"ok":true,"result":[{"update_id":5,"message":{"text":"hi","chat":{"id":1}}}]}`,
		`{"ok":true,"result":[{"update_id":6,"message":{"text":"/start","chat":{"id":77}}}]}`,
	}}
	botSrv := httptest.NewServer(bot.handler())
	defer botSrv.Close()

	cfg := testConfig(t, d.serve(t), botSrv.URL)
	a := newTestApp(t, cfg)
	require.NoError(t, a.Run(context.Background()))
	require.Equal(t, StateTerminated, a.State())

	texts := bot.sent()
	require.Len(t, texts, 3)
	require.Equal(t, session.ConfirmationText, texts[0])
	require.Contains(t, texts[1], "web-1")
	require.Contains(t, texts[1], "disk full")
	require.Contains(t, texts[2], "Level: WARN")
	require.Contains(t, texts[2], `"msg": "retry"`)
	for _, id := range bot.chatIDs {
		require.Equal(t, int64(77), id)
	}

	st := a.Status()
	require.NotNil(t, st.ChatID)
	require.Equal(t, int64(77), *st.ChatID)
	require.Len(t, st.Tailers, 1)
	require.Equal(t, models.TailerStopped, st.Tailers[0].State)
	require.Equal(t, int64(3), st.Tailers[0].Lines)
	require.Equal(t, int64(2), st.Tailers[0].Matches)

	sqldb, err := db.Open(cfg.DBPath)
	require.NoError(t, err)
	repo := db.NewRepository(sqldb)
	defer repo.Close()
	sent, err := repo.CountNotifications(context.Background(), models.NotificationSent)
	require.NoError(t, err)
	require.Equal(t, 3, sent)
	last, _, err := repo.LastSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.ChatSession{ChatID: 77, LastUpdateID: 6}, last)
}

func TestNewRejectsEmptyRules(t *testing.T) {
	cfg := testConfig(t, "/nonexistent.sock", "http://127.0.0.1:0")
	cfg.Keywords = []string{"", ""}
	cfg.SuccessPatterns = nil
	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "no keywords or success patterns")
}

func TestRunIsolatesFailingTailer(t *testing.T) {
	d := &fakeDocker{
		containers: `[{"Id":"aaa","Names":["/web-1"]},{"Id":"bbb","Names":["/web-1"]}]`,
		logs: map[string]func(http.ResponseWriter){
			"aaa": func(w http.ResponseWriter) { http.Error(w, "boom", http.StatusInternalServerError) },
			"bbb": func(w http.ResponseWriter) { _, _ = w.Write(frame("ERROR from bbb\n")) },
		},
	}
	bot := &fakeBot{bodies: []string{`{"ok":true,"result":[{"update_id":1,"message":{"text":"/start","chat":{"id":9}}}]}`}}
	botSrv := httptest.NewServer(bot.handler())
	defer botSrv.Close()

	a := newTestApp(t, testConfig(t, d.serve(t), botSrv.URL))
	require.NoError(t, a.Run(context.Background()))

	texts := bot.sent()
	require.Len(t, texts, 2)
	require.Contains(t, texts[1], "ERROR from bbb")

	st := a.Status()
	require.Len(t, st.Tailers, 2)
	require.Equal(t, "aaa", st.Tailers[0].ContainerID)
	require.Equal(t, models.TailerFailed, st.Tailers[0].State)
	require.Contains(t, st.Tailers[0].LastError, "boom")
	require.Equal(t, models.TailerStopped, st.Tailers[1].State)
}

func TestRunCancelWhileAwaitingSession(t *testing.T) {
	d := &fakeDocker{containers: `[{"Id":"aaa","Names":["/web-1"]}]`}
	bot := &fakeBot{}
	botSrv := httptest.NewServer(bot.handler())
	defer botSrv.Close()

	cfg := testConfig(t, d.serve(t), botSrv.URL)
	cfg.DBPath = config.DBDisabled
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.State() == StateAwaitSession }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	require.Equal(t, StateTerminated, a.State())
	require.Empty(t, bot.sent())
	require.Nil(t, a.Status().ChatID)
}
