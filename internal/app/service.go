// Package app is the control surface that ties the monitor to its
// collaborators: history, cost accounting, notifications and the host.
package app

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/config"
	"github.com/kylegalloway/guardianeye/internal/cost"
	"github.com/kylegalloway/guardianeye/internal/history"
	"github.com/kylegalloway/guardianeye/internal/host"
	"github.com/kylegalloway/guardianeye/internal/monitor"
	"github.com/kylegalloway/guardianeye/internal/notify"
	"github.com/kylegalloway/guardianeye/internal/snapshot"
	"github.com/kylegalloway/guardianeye/internal/state"
	"github.com/kylegalloway/guardianeye/internal/vision"
)

// CostFile holds the lifetime spend counters inside the data directory.
const CostFile = "cost.json"

// ErrNotRunning is returned by Stop when there is neither an active monitor
// nor an open session.
var ErrNotRunning = errors.New("monitor is not running")

// ProviderFactory builds a vision provider from its config section.
type ProviderFactory func(cfg config.ProviderConfig, log *slog.Logger) (vision.Provider, error)

// Options configures a Service. Only Config is required.
type Options struct {
	Config *config.Config
	Fs     afero.Fs
	Log    *slog.Logger
	// Host is the print host; nil runs without abort or host camera URL.
	Host host.Host
	// NewProvider defaults to vision.New.
	NewProvider ProviderFactory
	// OnState receives every published monitor state after it is saved.
	OnState func(monitor.State)
}

// Statistics combines verdict statistics with spend counters.
type Statistics struct {
	history.Statistics
	Cost cost.Totals `json:"cost"`
}

// Service owns one monitor and everything it records into.
type Service struct {
	fs          afero.Fs
	log         *slog.Logger
	host        host.Host
	newProvider ProviderFactory
	onState     func(monitor.State)

	verdicts *history.VerdictLog
	sessions *history.SessionLog
	costs    *cost.Tracker
	states   *state.Manager

	// ctl serialises lifecycle operations (start, stop, close).
	ctl sync.Mutex

	mu       sync.Mutex
	cfg      *config.Config
	provider vision.Provider
	notifier *notify.Dispatcher
	mon      *monitor.Monitor
	// stale marks mon as built from an older config.
	stale bool
}

// New opens the data directory's history, cost and state files and returns
// an idle Service.
func New(opts Options) *Service {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.NewProvider == nil {
		opts.NewProvider = vision.New
	}
	cfg := opts.Config
	log := opts.Log

	s := &Service{
		fs:          opts.Fs,
		log:         log.With("component", "app"),
		host:        opts.Host,
		newProvider: opts.NewProvider,
		onState:     opts.OnState,
		verdicts:    history.OpenVerdictLog(opts.Fs, cfg.DataDir, log),
		sessions:    history.OpenSessionLog(opts.Fs, cfg.DataDir, log),
		costs:       cost.NewTracker(opts.Fs, filepath.Join(cfg.DataDir, CostFile), log),
		states:      state.NewManager(opts.Fs, cfg.DataDir),
		cfg:         cfg,
		notifier:    notify.FromConfig(cfg.Notifications, opts.Fs, log),
	}

	if err := s.costs.Load(); err != nil {
		s.log.Warn("lifetime cost counters reset", "err", err)
	}
	if changed, err := s.states.Recover(); err != nil {
		s.log.Warn("could not read previous state", "err", err)
	} else if changed {
		s.log.Warn("previous monitoring session was interrupted; it will not resume")
	}

	s.mon = s.buildMonitor(cfg)
	return s
}

func (s *Service) buildMonitor(cfg *config.Config) *monitor.Monitor {
	deps := monitor.Deps{
		Camera:          snapshot.NewAcquirer(s.fs, cfg.Snapshot.Timeout),
		Provider:        s.activeProvider,
		HostSnapshotURL: s.hostSnapshotURL,
		Recorder:        recorder{s},
		Notifier:        notifier{s},
		Budget:          s.costs,
		Observer:        s.publish,
		Log:             s.log,
	}
	if s.host != nil {
		deps.Aborter = s.host
	}
	return monitor.New(monitor.OptionsFromConfig(cfg), deps)
}

// current returns the monitor, replacing an idle one built from an old config.
func (s *Service) current() *monitor.Monitor {
	s.mu.Lock()
	if !s.stale || s.mon.Active() {
		m := s.mon
		s.mu.Unlock()
		return m
	}
	old := s.mon
	s.mon = s.buildMonitor(s.cfg)
	s.stale = false
	m := s.mon
	s.mu.Unlock()

	// Close may wait on a tick that needs s.mu.
	old.Close()
	return m
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start opens a session for filename, resets the session spend and starts
// monitoring. It returns false if monitoring is already active. A session
// still open from an earlier print is closed first.
func (s *Service) Start(filename string) bool {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	m := s.current()
	if m.Active() {
		return false
	}
	if prev, ok := s.sessions.EndSession(m.State().AbortSent); ok {
		s.log.Warn("closed session left open by a previous print", "session", prev.ID)
	}
	sess := s.sessions.StartSession(filename)
	s.costs.ResetSession()
	s.log.Info("print session started", "session", sess.ID, "filename", filename)

	return m.Start()
}

// Stop stops monitoring and closes the open session. The session records an
// abort when abortSent is true or the monitor itself cancelled the print.
func (s *Service) Stop(abortSent bool) (monitor.State, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.stopLocked(abortSent)
}

func (s *Service) stopLocked(abortSent bool) (monitor.State, error) {
	m := s.current()
	wasActive := m.Active()
	st := m.Stop()

	sess, ok := s.sessions.EndSession(abortSent || st.AbortSent)
	if !ok && !wasActive {
		return st, ErrNotRunning
	}
	if ok {
		s.log.Info("print session ended",
			"session", sess.ID,
			"cycles", sess.Cycles,
			"abort_sent", sess.AbortSent,
			"cost", sess.TotalCost,
		)
	}
	return st, nil
}

// RunOnce runs a single cycle now. An idle monitor stays idle.
func (s *Service) RunOnce() monitor.State {
	return s.current().RunOnce()
}

// SetLayer records the current layer.
func (s *Service) SetLayer(n int) { s.current().SetLayer(n) }

// SetTotalLayers records the print's layer count.
func (s *Service) SetTotalLayers(n int) { s.current().SetTotalLayers(n) }

// SetZ converts a nozzle height in mm into a layer number.
func (s *Service) SetZ(z float64) {
	h := s.Config().Monitor.LayerHeight
	if h <= 0 {
		return
	}
	s.SetLayer(max(1, int(z/h)))
}

// SetProgress records print completion in percent.
func (s *Service) SetProgress(p int) { s.current().SetProgress(p) }

// State returns the monitor's current state.
func (s *Service) State() monitor.State { return s.current().State() }

// ClearHistory deletes every recorded verdict.
func (s *Service) ClearHistory() {
	s.verdicts.Clear()
	s.log.Info("verdict history cleared")
}

// MarkFalsePositive flags the verdict with id as wrong.
func (s *Service) MarkFalsePositive(id string) bool {
	ok := s.verdicts.MarkFalsePositive(id)
	if ok {
		s.log.Info("verdict marked false positive", "id", id)
	}
	return ok
}

// Statistics returns verdict statistics and spend counters.
func (s *Service) Statistics() Statistics {
	return Statistics{Statistics: s.verdicts.Statistics(), Cost: s.costs.Totals()}
}

// History returns up to limit verdicts, newest first; limit <= 0 returns all.
func (s *Service) History(limit int) []history.Entry { return s.verdicts.Entries(limit) }

// Sessions returns up to limit sessions, newest first.
func (s *Service) Sessions(limit int) []history.Session { return s.sessions.Sessions(limit) }

// TestProvider builds a fresh provider from the current config and checks
// that it answers. The cached provider is left alone.
func (s *Service) TestProvider(ctx context.Context) (bool, string) {
	cfg := s.Config()
	p, err := s.newProvider(cfg.Provider, s.log)
	if err != nil {
		return false, err.Error()
	}
	return p.TestConnection(ctx)
}

// HandleEvent applies a host lifecycle event.
func (s *Service) HandleEvent(ev host.Event) {
	switch ev.Type {
	case host.PrintStarted:
		if !s.Config().Host.AutoStartEnabled() {
			s.log.Info("print started, auto start disabled", "filename", ev.Filename)
			return
		}
		s.Start(ev.Filename)
	case host.PrintDone, host.PrintCancelled, host.PrintFailed:
		if _, err := s.Stop(ev.Type == host.PrintFailed); err != nil && !errors.Is(err, ErrNotRunning) {
			s.log.Warn("stop on print end failed", "event", ev.Type, "err", err)
		}
	case host.Progress:
		if s.current().Active() {
			s.SetProgress(ev.Progress)
		}
	case host.ZChange:
		if s.current().Active() {
			s.SetZ(ev.Z)
		}
	}
}

// ReloadConfig swaps in cfg. The cached provider and notification channels
// are rebuilt immediately; monitor tunables apply from the next idle use.
func (s *Service) ReloadConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.provider = nil
	s.notifier = notify.FromConfig(cfg.Notifications, s.fs, s.log)
	s.stale = true
	s.mu.Unlock()
	s.log.Info("configuration reloaded", "provider", cfg.Provider.Name, "model", cfg.Provider.Model)
}

// Close stops the monitor and ends any open session. Sessions never resume
// across restarts.
func (s *Service) Close() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	m := s.mon
	s.mu.Unlock()

	m.Close()
	if sess, ok := s.sessions.EndSession(m.State().AbortSent); ok {
		s.log.Info("print session ended at shutdown", "session", sess.ID, "cycles", sess.Cycles)
	}
}

func (s *Service) activeProvider() (vision.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider != nil {
		return s.provider, nil
	}
	p, err := s.newProvider(s.cfg.Provider, s.log)
	if err != nil {
		return nil, err
	}
	s.provider = p
	return p, nil
}

func (s *Service) hostSnapshotURL(ctx context.Context) string {
	if s.host == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	u, err := s.host.SnapshotURL(ctx)
	if err != nil {
		s.log.Warn("host camera url unavailable", "err", err)
		return ""
	}
	return u
}

func (s *Service) publish(st monitor.State) {
	if err := s.states.Save(st); err != nil {
		s.log.Warn("save state failed", "err", err)
	}
	if s.onState != nil {
		s.onState(st)
	}
}

// recorder writes each verdict into history, the cost tracker and the open session.
type recorder struct{ s *Service }

func (r recorder) RecordVerdict(v vision.Verdict, c history.Context) {
	r.s.verdicts.Add(v, c)
	if r.s.Config().Monitor.CostTrackingEnabled() {
		r.s.costs.Record(v.Cost)
	}
	r.s.sessions.RecordVerdict(v.Failed, v.Cost)
}

// notifier routes alerts to the dispatcher of the current config.
type notifier struct{ s *Service }

func (n notifier) Notify(ctx context.Context, reason, snapshotPath string) error {
	n.s.mu.Lock()
	d := n.s.notifier
	n.s.mu.Unlock()
	return d.Notify(ctx, reason, snapshotPath)
}
