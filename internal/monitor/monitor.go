// Package monitor runs the capture, analyse and strike cycle for one print.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/kylegalloway/guardianeye/internal/config"
	"github.com/kylegalloway/guardianeye/internal/cost"
	"github.com/kylegalloway/guardianeye/internal/history"
	"github.com/kylegalloway/guardianeye/internal/prompt"
	"github.com/kylegalloway/guardianeye/internal/ring"
	"github.com/kylegalloway/guardianeye/internal/snapshot"
	"github.com/kylegalloway/guardianeye/internal/vision"
)

// Camera captures frames and manages their retention.
type Camera interface {
	Capture(ctx context.Context, url, path string) (string, error)
	Read(path string) ([]byte, error)
	Cleanup(dir string, maxKeep int) int
}

// Recorder persists each completed verdict.
type Recorder interface {
	RecordVerdict(v vision.Verdict, c history.Context)
}

// Aborter stops the physical print.
type Aborter interface {
	CancelPrint(ctx context.Context) error
}

// Notifier delivers a confirmed failure to the operator.
type Notifier interface {
	Notify(ctx context.Context, reason, snapshotPath string) error
}

// Budget reports whether the session may spend more on analysis.
type Budget interface {
	CheckBudget(limit float64) error
}

// Options are the tunables read at construction.
type Options struct {
	Interval       time.Duration
	MinLayer       int
	Strikes        int
	CostTracking   bool
	MaxSessionCost float64
	CustomPrompt   string
	SnapshotURL    string
	SnapshotDir    string
	Retention      int
}

// OptionsFromConfig maps the monitor-related config sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:       cfg.Monitor.Interval,
		MinLayer:       cfg.Monitor.MinLayerForVision,
		Strikes:        cfg.Monitor.FailStrikes,
		CostTracking:   cfg.Monitor.CostTrackingEnabled(),
		MaxSessionCost: cfg.Monitor.MaxSessionCostUSD,
		CustomPrompt:   cfg.Prompt.Custom,
		SnapshotURL:    cfg.Snapshot.URL,
		SnapshotDir:    cfg.SnapshotDir(),
		Retention:      cfg.Snapshot.Retention,
	}
}

// Deps are the monitor's collaborators. Only Camera and Provider are required.
type Deps struct {
	Camera Camera
	// Provider returns the active vision provider; it may build one lazily.
	Provider func() (vision.Provider, error)
	// HostSnapshotURL returns the host's default camera URL, or "".
	HostSnapshotURL func(ctx context.Context) string
	Recorder        Recorder
	Aborter         Aborter
	Notifier        Notifier
	Budget          Budget
	// Observer receives a copy of the state after every cycle outcome and stop.
	Observer func(State)
	Log      *slog.Logger
	Now      func() time.Time
}

// Monitor owns the state of one monitoring session.
//
// mu guards the state and is never held across I/O. cycleMu serialises
// cycle bodies so a manual check and a scheduled tick never interleave.
type Monitor struct {
	opts Options
	deps Deps
	log  *slog.Logger

	mu    sync.Mutex
	st    State
	errs  *ring.Buffer[string]
	sched *schedule
	// gen increments on every Start so ticks from an old schedule are ignored.
	gen uint64

	cycleMu sync.Mutex

	minInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an idle monitor.
func New(opts Options, deps Deps) *Monitor {
	if opts.Strikes < 1 {
		opts.Strikes = 1
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		opts: opts,
		deps: deps,
		log:  deps.Log.With("component", "monitor"),
		errs: ring.New[string](MaxErrors),

		minInterval: config.MinInterval,

		ctx:    ctx,
		cancel: cancel,
	}
}

// Start resets the state, runs one cycle synchronously and then schedules
// further cycles every Interval (never below config.MinInterval). It
// returns false without doing anything if the monitor is already running.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	if m.st.Active {
		m.mu.Unlock()
		return false
	}
	m.gen++
	gen := m.gen
	m.st = State{Active: true}
	m.errs.Reset()
	m.mu.Unlock()

	interval := max(m.opts.Interval, m.minInterval)
	m.log.Info("monitor started",
		"interval", interval,
		"min_layer", m.opts.MinLayer,
		"strikes", m.opts.Strikes,
	)

	m.runCycle(gen, false)

	m.mu.Lock()
	if m.st.Active && m.gen == gen && m.sched == nil {
		m.sched = m.schedule(gen, interval)
	}
	m.mu.Unlock()
	return true
}

// Stop cancels the schedule and marks the monitor inactive. A cycle already
// in progress finishes, but no new one begins. Stop is idempotent and safe
// to call from inside a cycle.
func (m *Monitor) Stop() State {
	m.mu.Lock()
	if m.sched != nil {
		m.sched.stop()
		m.sched = nil
	}
	was := m.st.Active
	m.st.Active = false
	cycles := m.st.CycleCount
	m.mu.Unlock()

	if was {
		m.log.Info("monitor stopped", "cycles", cycles)
		m.publish()
	}
	return m.State()
}

// RunOnce runs a single cycle now, whether or not the monitor is running.
// An idle monitor is not started.
func (m *Monitor) RunOnce() State {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	m.runCycle(gen, true)
	return m.State()
}

// Close stops the monitor, cancels in-flight network calls and waits for the
// scheduler goroutine to exit.
func (m *Monitor) Close() {
	m.Stop()
	m.cancel()
	m.wg.Wait()
}

// SetLayer records the current layer; n < 1 means unknown.
func (m *Monitor) SetLayer(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 {
		m.st.Layer = nil
		return
	}
	m.st.Layer = &n
}

// SetTotalLayers records the layer count of the print; n < 1 means unknown.
func (m *Monitor) SetTotalLayers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 {
		m.st.TotalLayers = nil
		return
	}
	m.st.TotalLayers = &n
}

// SetProgress records print completion, clamped to 0..100.
func (m *Monitor) SetProgress(p int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Progress = min(max(p, 0), 100)
}

// Active reports whether the monitor is running.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Active
}

// State returns a copy of the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() State {
	s := m.st
	s.Layer = copyInt(m.st.Layer)
	s.TotalLayers = copyInt(m.st.TotalLayers)
	if m.st.LastVerdict != nil {
		v := *m.st.LastVerdict
		s.LastVerdict = &v
	}
	s.Errors = m.errs.Slice()
	s.UpdatedAt = m.deps.Now()
	return s
}

func (m *Monitor) publish() {
	if m.deps.Observer == nil {
		return
	}
	m.deps.Observer(m.State())
}

func (m *Monitor) addError(msg string) {
	m.log.Warn(msg)
	m.mu.Lock()
	m.errs.Push(msg)
	m.mu.Unlock()
}

// runCycle runs one cycle unless the monitor is idle (and force is false) or
// a newer session has started since gen was taken.
func (m *Monitor) runCycle(gen uint64, force bool) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	m.mu.Lock()
	if m.gen != gen || (!m.st.Active && !force) {
		m.mu.Unlock()
		return
	}
	m.st.CycleCount++
	n := m.st.CycleCount
	pos := prompt.Context{
		Layer:       copyInt(m.st.Layer),
		TotalLayers: copyInt(m.st.TotalLayers),
		Progress:    m.st.Progress,
	}
	m.mu.Unlock()

	m.cycle(m.ctx, gen, n, pos, force)
	m.publish()
}

func (m *Monitor) cycle(ctx context.Context, gen uint64, n int, pos prompt.Context, force bool) {
	var hostURL string
	if m.deps.HostSnapshotURL != nil {
		hostURL = m.deps.HostSnapshotURL(ctx)
	}
	url := snapshot.ResolveURL(m.opts.SnapshotURL, hostURL)
	path := filepath.Join(m.opts.SnapshotDir, snapshot.FileName(m.deps.Now(), n))

	saved, err := m.deps.Camera.Capture(ctx, url, path)
	if err != nil {
		m.addError(fmt.Sprintf("Cycle %d: snapshot failed: %v", n, err))
		return
	}
	m.mu.Lock()
	if m.gen == gen {
		m.st.LastSnapshot = filepath.Base(saved)
	}
	m.mu.Unlock()
	m.log.Info("cycle captured", "cycle", n, "snapshot", filepath.Base(saved), "progress", pos.Progress, "layer", derefOr(pos.Layer))

	m.deps.Camera.Cleanup(m.opts.SnapshotDir, m.opts.Retention)

	if pos.Layer != nil && *pos.Layer < m.opts.MinLayer {
		m.log.Info("skipping vision below minimum layer", "cycle", n, "layer", *pos.Layer, "min_layer", m.opts.MinLayer)
		return
	}

	if m.deps.Budget != nil {
		if err := m.deps.Budget.CheckBudget(m.opts.MaxSessionCost); err != nil {
			m.mu.Lock()
			first := !m.st.BudgetExhausted
			m.st.BudgetExhausted = true
			m.mu.Unlock()
			if first {
				m.log.Warn("skipping vision for the rest of the session", "cycle", n, "err", err)
			}
			return
		}
	}

	v, err := m.analyze(ctx, saved, pos)
	if err != nil {
		m.addError(fmt.Sprintf("Cycle %d: vision error: %v", n, err))
		return
	}

	if m.deps.Recorder != nil {
		m.deps.Recorder.RecordVerdict(v, history.Context{
			Cycle:    n,
			Layer:    pos.Layer,
			Progress: pos.Progress,
			Snapshot: filepath.Base(saved),
		})
	}

	m.applyVerdict(ctx, gen, n, v, saved, force)
}

func (m *Monitor) analyze(ctx context.Context, imagePath string, pos prompt.Context) (vision.Verdict, error) {
	p, err := m.deps.Provider()
	if err != nil {
		return vision.Verdict{}, err
	}
	img, err := m.deps.Camera.Read(imagePath)
	if err != nil {
		return vision.Verdict{}, fmt.Errorf("read snapshot: %w", err)
	}
	v, err := p.Analyze(ctx, img, prompt.Build(pos, m.opts.CustomPrompt))
	if err != nil {
		return vision.Verdict{}, err
	}
	if m.opts.CostTracking {
		v = v.WithCost(cost.Estimate(p.Name(), p.Model()))
	}
	return v, nil
}

// applyVerdict runs the strike policy: consecutive failures accumulate, any
// OK resets them, and reaching the threshold triggers failure handling.
func (m *Monitor) applyVerdict(ctx context.Context, gen uint64, n int, v vision.Verdict, snapshotPath string, force bool) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.st.LastVerdict = &v

	if !v.Failed {
		prev := m.st.ConsecutiveFailures
		m.st.ConsecutiveFailures = 0
		m.mu.Unlock()
		if prev > 0 {
			m.log.Info("vision OK, strike counter reset", "cycle", n, "was", prev)
		}
		m.log.Info("vision OK", "cycle", n, "latency_ms", v.LatencyMs, "reason", v.Reason)
		return
	}

	// A cycle that finishes after Stop must not abort a print nobody is watching.
	if !m.st.Active && !force {
		m.mu.Unlock()
		return
	}

	m.st.ConsecutiveFailures++
	strikes := m.st.ConsecutiveFailures
	needed := m.opts.Strikes
	if strikes < needed {
		m.mu.Unlock()
		m.log.Warn("strike", "cycle", n, "strikes", strikes, "needed", needed, "reason", v.Reason, "latency_ms", v.LatencyMs)
		return
	}

	reason := fmt.Sprintf("Vision: %s (%d/%d consecutive strikes)", v.Reason, strikes, needed)
	m.st.FailureDetected = true
	m.st.FailureReason = reason
	m.mu.Unlock()

	m.handleFailure(ctx, gen, reason, snapshotPath)
}

func (m *Monitor) handleFailure(ctx context.Context, gen uint64, reason, snapshotPath string) {
	m.log.Error("failure detected", "reason", reason)

	if m.deps.Aborter != nil {
		if err := m.deps.Aborter.CancelPrint(ctx); err != nil {
			m.log.Error("cancel print failed", "err", err)
		} else {
			m.mu.Lock()
			if m.gen == gen {
				m.st.AbortSent = true
			}
			m.mu.Unlock()
			m.log.Error("emergency stop sent, print cancelled")
		}
	}

	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.Notify(ctx, reason, snapshotPath); err != nil {
			m.log.Error("failure notifications incomplete", "err", err)
		}
	}

	m.Stop()
}

func derefOr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
