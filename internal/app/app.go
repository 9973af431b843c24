package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"logwatch/internal/classify"
	"logwatch/internal/config"
	"logwatch/internal/db"
	"logwatch/internal/docker"
	"logwatch/internal/metrics"
	"logwatch/internal/models"
	"logwatch/internal/notifier"
	"logwatch/internal/retention"
	"logwatch/internal/session"
	"logwatch/internal/tailer"
	"logwatch/internal/telegram"
	"logwatch/internal/web"
)

type State string

const (
	StateInit           State = "init"
	StateResolveTargets State = "resolve_targets"
	StateAwaitSession   State = "await_session"
	StateRunning        State = "running"
	StateTerminated     State = "terminated"
)

const (
	retentionInterval = 6 * time.Hour
	shutdownTimeout   = 5 * time.Second
)

// ErrNoTargets means no running container carries the configured name. It is
// a clean exit, not a failure.
var ErrNoTargets = errors.New("no container found with target name")

type App struct {
	cfg       config.Config
	log       *slog.Logger
	startedAt time.Time

	repo      *db.Repository
	docker    *docker.Client
	bot       *telegram.Client
	metrics   *metrics.Metrics
	resolver  *session.Resolver
	retention *retention.Service
	rules     classify.Rules
	formatter classify.Formatter

	httpSrv *http.Server

	mu      sync.RWMutex
	state   State
	session *models.ChatSession
	tailers []*tracked
}

// tracked is a tailer plus its entry in the status table.
type tracked struct {
	t      *tailer.Tailer
	status models.TailerStatus
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		log:       logger,
		startedAt: time.Now(),
		docker:    docker.NewClient(cfg.DockerSocket),
		bot:       telegram.NewClient(cfg.Token, cfg.TelegramAPI),
		metrics:   metrics.New(),
		rules:     classify.NewRules(cfg.Keywords, cfg.SuccessPatterns),
		formatter: classify.Formatter{Location: loc},
		state:     StateInit,
	}
	if a.rules.Empty() {
		return nil, errors.New("no keywords or success patterns to match")
	}

	opts := session.Options{
		Command:     cfg.ActivationCommand,
		PollTimeout: cfg.PollTimeout,
		Retry:       session.RetryPolicy{Interval: cfg.PollInterval},
		Metrics:     a.metrics,
	}
	var journal web.Journal
	if cfg.JournalEnabled() {
		sqldb, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		if err := db.Migrate(sqldb); err != nil {
			_ = sqldb.Close()
			return nil, err
		}
		a.repo = db.NewRepository(sqldb)
		a.retention = retention.NewService(a.repo, cfg.RetentionDays, logger.With("module", "retention"))
		opts.Journal = a.repo
		opts.Recorder = a.repo
		journal = a.repo
	}
	a.resolver = session.NewResolver(a.bot, a.bot, logger.With("module", "session"), opts)

	if cfg.Addr != "" {
		w := web.NewServer(a.docker, journal, a, a.metrics, logger.With("module", "web"))
		a.httpSrv = &http.Server{Addr: cfg.Addr, Handler: w.Routes(), ReadHeaderTimeout: 10 * time.Second}
	}
	return a, nil
}

// Run drives the state machine to completion. It returns ErrNoTargets when
// nothing matches, nil after every tailer has ended or ctx is cancelled, and
// an error only when the container runtime cannot be queried.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	bg, cancel := context.WithCancel(ctx)
	defer cancel()
	a.startBackground(bg)

	a.setState(StateResolveTargets)
	containers, err := a.docker.ListContainers(ctx)
	if err != nil {
		a.setState(StateTerminated)
		return fmt.Errorf("list containers: %w", err)
	}
	targets := docker.MatchByName(containers, a.cfg.ContainerName)
	if len(targets) == 0 {
		a.log.Error("no container found", "name", a.cfg.ContainerName)
		a.setState(StateTerminated)
		return ErrNoTargets
	}
	a.log.Info("matched containers", "name", a.cfg.ContainerName, "count", len(targets))

	a.setState(StateAwaitSession)
	a.log.Info("waiting for activation command", "command", a.cfg.ActivationCommand)
	sess, err := a.resolver.Resolve(ctx)
	if err != nil {
		a.setState(StateTerminated)
		return nil
	}
	a.mu.Lock()
	a.session = &sess
	a.mu.Unlock()

	a.runTailers(ctx, sess, targets)
	a.setState(StateTerminated)
	return nil
}

func (a *App) runTailers(ctx context.Context, sess models.ChatSession, targets []models.ContainerRef) {
	nopts := []notifier.Option{notifier.WithMetrics(a.metrics)}
	if a.repo != nil {
		nopts = append(nopts, notifier.WithJournal(a.repo))
	}
	n := notifier.New(a.bot, &sess, a.log.With("module", "notifier"), nopts...)

	var since time.Time
	if a.cfg.SinceStart {
		since = a.startedAt
	}
	tcfg := tailer.Config{Rules: a.rules, Formatter: a.formatter, Since: since, Metrics: a.metrics}

	a.setState(StateRunning)
	var g errgroup.Group
	for _, c := range targets {
		tr := a.track(tailer.New(c, a.docker, n, tcfg, a.log.With("module", "tailer")))
		g.Go(func() error { return a.supervise(ctx, tr) })
	}
	if err := g.Wait(); err != nil {
		a.log.Warn("tailer ended with error", "err", err)
	}
	a.log.Info("all tailers stopped")
}

// supervise runs one tailer and records how it ended. Its error never
// reaches sibling tailers.
func (a *App) supervise(ctx context.Context, tr *tracked) error {
	a.metrics.TailerStarted()
	defer a.metrics.TailerStopped()
	err := tr.t.Run(ctx)

	now := time.Now()
	a.mu.Lock()
	tr.status.EndedAt = &now
	tr.status.State = models.TailerStopped
	if err != nil {
		tr.status.State = models.TailerFailed
		tr.status.LastError = err.Error()
	}
	a.mu.Unlock()

	if err != nil {
		a.log.Error("monitor container", "container", tr.status.Container, "err", err)
		return fmt.Errorf("%s: %w", tr.status.Container, err)
	}
	return nil
}

func (a *App) track(t *tailer.Tailer) *tracked {
	c := t.Container()
	tr := &tracked{t: t, status: models.TailerStatus{
		ContainerID: c.ID,
		Container:   c.Name,
		State:       models.TailerRunning,
		StartedAt:   time.Now(),
	}}
	a.mu.Lock()
	a.tailers = append(a.tailers, tr)
	a.mu.Unlock()
	return tr
}

func (a *App) startBackground(ctx context.Context) {
	if a.httpSrv != nil {
		go func() {
			a.log.Info("http server listening", "addr", a.cfg.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("http server failed", "err", err)
			}
		}()
	}
	if a.retention != nil {
		go a.retention.Loop(ctx, retentionInterval)
	}
}

func (a *App) close() {
	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.httpSrv.Shutdown(ctx)
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.log.Warn("close journal", "err", err)
		}
	}
}

func (a *App) setState(s State) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()
	a.log.Debug("state change", "from", prev, "to", s)
}

func (a *App) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Status implements web.StatusSource.
func (a *App) Status() models.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := models.Status{
		State:     string(a.state),
		StartedAt: a.startedAt,
		Target:    a.cfg.ContainerName,
		Tailers:   make([]models.TailerStatus, 0, len(a.tailers)),
	}
	if a.session != nil {
		id := a.session.ChatID
		st.ChatID = &id
	}
	for _, tr := range a.tailers {
		ts := tr.status
		ts.Lines, ts.Matches = tr.t.Counts()
		st.Tailers = append(st.Tailers, ts)
	}
	sort.Slice(st.Tailers, func(i, j int) bool { return st.Tailers[i].ContainerID < st.Tailers[j].ContainerID })
	return st
}
