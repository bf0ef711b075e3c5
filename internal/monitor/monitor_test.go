package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kylegalloway/guardianeye/internal/cost"
	"github.com/kylegalloway/guardianeye/internal/history"
	"github.com/kylegalloway/guardianeye/internal/logging"
	"github.com/kylegalloway/guardianeye/internal/vision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	fail = "VERDICT: FAIL | spaghetti"
	ok   = "VERDICT: OK"
)

type fakeCamera struct {
	mu       sync.Mutex
	err      error
	urls     []string
	paths    []string
	cleanups int
}

func (c *fakeCamera) Capture(_ context.Context, url, path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, url)
	if c.err != nil {
		return "", c.err
	}
	c.paths = append(c.paths, path)
	return path, nil
}

func (c *fakeCamera) Read(string) ([]byte, error) { return []byte{0xFF, 0xD8}, nil }

func (c *fakeCamera) Cleanup(string, int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups++
	return 0
}

type fakeAborter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAborter) CancelPrint(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

func (a *fakeAborter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeNotifier struct {
	mu      sync.Mutex
	reasons []string
	paths   []string
}

func (n *fakeNotifier) Notify(_ context.Context, reason, path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
	n.paths = append(n.paths, path)
	return errors.New("discord: unexpected status 500")
}

type fakeRecorder struct {
	mu       sync.Mutex
	verdicts []vision.Verdict
	ctxs     []history.Context
}

func (r *fakeRecorder) RecordVerdict(v vision.Verdict, c history.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, v)
	r.ctxs = append(r.ctxs, c)
}

type budgetFunc func(float64) error

func (f budgetFunc) CheckBudget(limit float64) error { return f(limit) }

type harness struct {
	m        *Monitor
	cam      *fakeCamera
	provider *vision.MockProvider
	aborter  *fakeAborter
	notifier *fakeNotifier
	recorder *fakeRecorder

	mu        sync.Mutex
	published []State
}

func newHarness(t *testing.T, opts Options, replies ...string) *harness {
	t.Helper()
	h := &harness{
		cam:      &fakeCamera{},
		provider: vision.NewMockProvider(replies...),
		aborter:  &fakeAborter{},
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
	}
	if opts.Strikes == 0 {
		opts.Strikes = 3
	}
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	if opts.SnapshotDir == "" {
		opts.SnapshotDir = "/data/snapshots"
	}
	if opts.Retention == 0 {
		opts.Retention = 20
	}
	h.m = New(opts, Deps{
		Camera:   h.cam,
		Provider: func() (vision.Provider, error) { return h.provider, nil },
		Recorder: h.recorder,
		Aborter:  h.aborter,
		Notifier: h.notifier,
		Observer: func(s State) {
			h.mu.Lock()
			h.published = append(h.published, s)
			h.mu.Unlock()
		},
		Log: logging.Discard(),
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) publishCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.published)
}

func TestStrikesBelowThresholdDoNotAbort(t *testing.T) {
	h := newHarness(t, Options{Strikes: 3}, fail, fail, fail)

	require.True(t, h.m.Start())
	s := h.m.RunOnce()

	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.True(t, s.Active)
	assert.False(t, s.FailureDetected)
	assert.Zero(t, h.aborter.count())
}

func TestThresholdAbortsExactlyOnce(t *testing.T) {
	h := newHarness(t, Options{Strikes: 3}, fail)

	require.True(t, h.m.Start())
	h.m.RunOnce()
	s := h.m.RunOnce()

	assert.False(t, s.Active)
	assert.True(t, s.FailureDetected)
	assert.True(t, s.AbortSent)
	assert.Equal(t, 3, s.ConsecutiveFailures)
	assert.Equal(t, "Vision: spaghetti (3/3 consecutive strikes)", s.FailureReason)
	assert.Equal(t, 1, h.aborter.count())

	require.Len(t, h.notifier.reasons, 1)
	assert.Equal(t, s.FailureReason, h.notifier.reasons[0])
	assert.Equal(t, h.cam.paths[2], h.notifier.paths[0], "the confirming frame is attached")
}

func TestSingleStrikeThreshold(t *testing.T) {
	h := newHarness(t, Options{Strikes: 1}, fail)

	require.True(t, h.m.Start())
	s := h.m.State()
	assert.False(t, s.Active, "failure on the first synchronous cycle stops the monitor")
	assert.Equal(t, 1, h.aborter.count())
	assert.Equal(t, 1, s.CycleCount)
}

func TestOKResetsStrikes(t *testing.T) {
	h := newHarness(t, Options{Strikes: 3}, fail, fail, ok, fail)

	h.m.Start()
	h.m.RunOnce()
	s := h.m.RunOnce()
	assert.Equal(t, 0, s.ConsecutiveFailures)

	s = h.m.RunOnce()
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.True(t, s.Active)
	assert.Zero(t, h.aborter.count())
}

func TestStrikeSequences(t *testing.T) {
	for threshold := 1; threshold <= 4; threshold++ {
		for n := 1; n < threshold; n++ {
			t.Run(fmt.Sprintf("threshold %d after %d", threshold, n), func(t *testing.T) {
				h := newHarness(t, Options{Strikes: threshold}, fail)
				h.m.Start()
				for i := 1; i < n; i++ {
					h.m.RunOnce()
				}
				s := h.m.State()
				assert.Equal(t, n, s.ConsecutiveFailures)
				assert.True(t, s.Active)
				assert.Zero(t, h.aborter.count())
			})
		}
	}
}

func TestSnapshotFailureDoesNotStop(t *testing.T) {
	h := newHarness(t, Options{Strikes: 1}, fail)
	h.cam.err = errors.New("connection refused")

	h.m.Start()
	s := h.m.RunOnce()

	assert.True(t, s.Active)
	assert.Equal(t, 2, s.CycleCount)
	assert.Zero(t, h.provider.Calls())
	assert.Zero(t, h.aborter.count())
	require.Len(t, s.Errors, 2)
	assert.Equal(t, "Cycle 1: snapshot failed: connection refused", s.Errors[0])
	assert.Equal(t, 0, h.cam.cleanups)
}

func TestVisionErrorLeavesStrikesUntouched(t *testing.T) {
	h := newHarness(t, Options{Strikes: 3})
	h.provider.Results = []vision.MockResult{
		{Reply: fail},
		{Err: errors.New("http 429: rate limited")},
		{Reply: fail},
	}

	h.m.Start()
	s := h.m.RunOnce()
	assert.Equal(t, 1, s.ConsecutiveFailures)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "Cycle 2: vision error: http 429: rate limited", s.Errors[0])
	require.NotNil(t, s.LastVerdict)
	assert.True(t, s.LastVerdict.Failed)

	s = h.m.RunOnce()
	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.Len(t, h.recorder.verdicts, 2, "failed analyses are not recorded")
}

func TestStageGateSkipsVision(t *testing.T) {
	h := newHarness(t, Options{MinLayer: 3}, ok)

	h.m.Start()
	assert.Equal(t, 1, h.provider.Calls(), "unknown layer is not gated")

	h.m.SetLayer(2)
	s := h.m.RunOnce()
	assert.Equal(t, 1, h.provider.Calls())
	assert.Equal(t, 2, s.CycleCount)
	assert.Equal(t, 2, h.cam.cleanups, "retention still runs on gated cycles")

	h.m.SetLayer(3)
	h.m.RunOnce()
	assert.Equal(t, 2, h.provider.Calls())
}

func TestPromptCarriesStage(t *testing.T) {
	h := newHarness(t, Options{}, ok)
	h.m.Start()
	h.m.SetLayer(40)
	h.m.SetTotalLayers(50)
	h.m.SetProgress(85)
	h.m.RunOnce()

	prompts := h.provider.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "STAGE: Mid print (layer ?/?, 0%)")
	assert.Contains(t, prompts[1], "STAGE: Late print (layer 40/50, 85%)")
}

func TestCustomPromptAndSnapshotURL(t *testing.T) {
	h := newHarness(t, Options{CustomPrompt: "Check. {stage_context}", SnapshotURL: "http://cam/snap"}, ok)
	h.m.Start()

	assert.True(t, strings.HasPrefix(h.provider.Prompts()[0], "Check. STAGE:"))
	assert.Equal(t, []string{"http://cam/snap"}, h.cam.urls)
}

func TestHostSnapshotURLUsedWithoutOverride(t *testing.T) {
	cam := &fakeCamera{}
	m := New(Options{Strikes: 3, Interval: time.Hour}, Deps{
		Camera:          cam,
		Provider:        func() (vision.Provider, error) { return vision.NewMockProvider(ok), nil },
		HostSnapshotURL: func(context.Context) string { return "http://octopi/webcam/?action=snapshot" },
		Log:             logging.Discard(),
	})
	t.Cleanup(m.Close)

	m.Start()
	assert.Equal(t, []string{"http://octopi/webcam/?action=snapshot"}, cam.urls)
}

func TestCostAttachedAndRecorded(t *testing.T) {
	h := newHarness(t, Options{CostTracking: true}, ok)
	h.provider.ProviderName = "openai"
	h.provider.ModelName = "gpt-4o"

	h.m.Start()
	h.m.SetLayer(7)
	h.m.SetProgress(12)
	h.m.RunOnce()

	require.Len(t, h.recorder.verdicts, 2)
	assert.Equal(t, cost.Estimate("openai", "gpt-4o"), h.recorder.verdicts[0].Cost)

	c := h.recorder.ctxs[1]
	assert.Equal(t, 2, c.Cycle)
	require.NotNil(t, c.Layer)
	assert.Equal(t, 7, *c.Layer)
	assert.Equal(t, 12, c.Progress)
	assert.True(t, strings.HasPrefix(c.Snapshot, "monitor_"), c.Snapshot)
	assert.True(t, strings.HasSuffix(c.Snapshot, "_2.jpg"), c.Snapshot)
}

func TestCostNotAttachedWhenTrackingOff(t *testing.T) {
	h := newHarness(t, Options{CostTracking: false}, ok)
	h.provider.ProviderName = "openai"
	h.m.Start()
	assert.Zero(t, h.recorder.verdicts[0].Cost)
}

func TestAbortFailureStillNotifiesAndStops(t *testing.T) {
	h := newHarness(t, Options{Strikes: 1}, fail)
	h.aborter.err = errors.New("printer offline")

	h.m.Start()
	s := h.m.State()
	assert.False(t, s.Active)
	assert.True(t, s.FailureDetected)
	assert.False(t, s.AbortSent)
	assert.Len(t, h.notifier.reasons, 1)
}

func TestBudgetGateSkipsAnalysis(t *testing.T) {
	cam := &fakeCamera{}
	provider := vision.NewMockProvider(fail)
	m := New(Options{Strikes: 1, Interval: time.Hour, MaxSessionCost: 0.01}, Deps{
		Camera:   cam,
		Provider: func() (vision.Provider, error) { return provider, nil },
		Budget: budgetFunc(func(limit float64) error {
			assert.Equal(t, 0.01, limit)
			return cost.ErrBudgetExceeded
		}),
		Log: logging.Discard(),
	})
	t.Cleanup(m.Close)

	m.Start()
	s := m.State()
	assert.True(t, s.Active, "budget exhaustion never stops the print")
	assert.True(t, s.BudgetExhausted)
	assert.Zero(t, provider.Calls())
}

func TestProviderBuildErrorIsVisionError(t *testing.T) {
	m := New(Options{Strikes: 1, Interval: time.Hour}, Deps{
		Camera:   &fakeCamera{},
		Provider: func() (vision.Provider, error) { return nil, vision.ErrUnknownProvider },
		Log:      logging.Discard(),
	})
	t.Cleanup(m.Close)

	m.Start()
	s := m.State()
	assert.True(t, s.Active)
	require.Len(t, s.Errors, 1)
	assert.True(t, strings.HasPrefix(s.Errors[0], "Cycle 1: vision error: "), s.Errors[0])
}

func TestErrorsKeepLastTen(t *testing.T) {
	h := newHarness(t, Options{})
	h.cam.err = errors.New("timeout")

	h.m.Start()
	for i := 0; i < 11; i++ {
		h.m.RunOnce()
	}
	s := h.m.State()
	require.Len(t, s.Errors, MaxErrors)
	assert.Equal(t, "Cycle 3: snapshot failed: timeout", s.Errors[0])
	assert.Equal(t, "Cycle 12: snapshot failed: timeout", s.Errors[9])
}

func TestStartIsNoOpWhenRunning(t *testing.T) {
	h := newHarness(t, Options{}, ok)
	require.True(t, h.m.Start())
	h.m.RunOnce()
	assert.False(t, h.m.Start())
	assert.Equal(t, 2, h.m.State().CycleCount)
}

func TestStartResetsState(t *testing.T) {
	h := newHarness(t, Options{Strikes: 5}, fail)
	h.m.Start()
	h.m.SetLayer(30)
	h.m.RunOnce()
	h.m.Stop()

	h.m.Start()
	s := h.m.State()
	assert.Equal(t, 1, s.CycleCount)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.Nil(t, s.Layer)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{}, ok)
	h.m.Start()
	before := h.publishCount()

	s1 := h.m.Stop()
	s2 := h.m.Stop()
	assert.False(t, s1.Active)
	assert.False(t, s2.Active)
	assert.Equal(t, before+1, h.publishCount(), "only the first stop publishes")
}

func TestRunOnceWhenIdleDoesNotStart(t *testing.T) {
	h := newHarness(t, Options{}, ok)

	s := h.m.RunOnce()
	assert.False(t, s.Active)
	assert.Equal(t, 1, s.CycleCount)
	assert.Equal(t, 1, h.provider.Calls())
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	h := newHarness(t, Options{MinLayer: 5}, ok)
	h.m.Start()
	h.m.SetLayer(1)
	h.m.RunOnce()
	h.cam.err = errors.New("offline")
	h.m.RunOnce()

	assert.Equal(t, 3, h.publishCount())
}

func TestSetProgressClamps(t *testing.T) {
	h := newHarness(t, Options{})
	h.m.SetProgress(140)
	assert.Equal(t, 100, h.m.State().Progress)
	h.m.SetProgress(-3)
	assert.Equal(t, 0, h.m.State().Progress)
	h.m.SetLayer(0)
	assert.Nil(t, h.m.State().Layer)
}

func TestScheduledCycles(t *testing.T) {
	h := newHarness(t, Options{Interval: 20 * time.Millisecond}, ok)
	h.m.minInterval = time.Millisecond

	h.m.Start()
	assert.Eventually(t, func() bool { return h.m.State().CycleCount >= 3 }, 2*time.Second, 5*time.Millisecond)

	h.m.Stop()
	n := h.m.State().CycleCount
	time.Sleep(80 * time.Millisecond)
	assert.LessOrEqual(t, h.m.State().CycleCount, n+1, "at most one in-flight cycle completes after stop")
}

func TestFirstTickDoesNotRefireImmediately(t *testing.T) {
	h := newHarness(t, Options{Interval: 300 * time.Millisecond}, ok)
	h.m.minInterval = time.Millisecond

	h.m.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.m.State().CycleCount)
}

func TestMinimumIntervalFloor(t *testing.T) {
	h := newHarness(t, Options{Interval: time.Millisecond}, ok)

	h.m.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.m.State().CycleCount, "intervals below the floor are raised")
}

func TestFailureDuringScheduledCycleStopsLoop(t *testing.T) {
	h := newHarness(t, Options{Strikes: 2, Interval: 10 * time.Millisecond}, fail)
	h.m.minInterval = time.Millisecond

	h.m.Start()
	assert.Eventually(t, func() bool { return !h.m.Active() }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 1, h.aborter.count())
	assert.Equal(t, 2, h.m.State().CycleCount)
}

// slowProvider holds every Analyze call open briefly and tracks overlap.
type slowProvider struct {
	*vision.MockProvider
	delay time.Duration

	mu      sync.Mutex
	running int
	peak    int
	calls   int
}

func (p *slowProvider) Analyze(ctx context.Context, image []byte, prompt string) (vision.Verdict, error) {
	p.mu.Lock()
	p.calls++
	p.running++
	p.peak = max(p.peak, p.running)
	p.mu.Unlock()

	time.Sleep(p.delay)

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	return p.MockProvider.Analyze(ctx, image, prompt)
}

func (p *slowProvider) stats() (calls, peak int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, p.peak
}

func TestManualAndScheduledCyclesNeverOverlap(t *testing.T) {
	h := newHarness(t, Options{Interval: time.Millisecond}, ok)
	h.m.minInterval = time.Millisecond
	slow := &slowProvider{MockProvider: h.provider, delay: 2 * time.Millisecond}
	h.m.deps.Provider = func() (vision.Provider, error) { return slow, nil }

	require.True(t, h.m.Start())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				h.m.RunOnce()
			}
		}()
	}
	wg.Wait()

	h.m.Stop()
	// A tick already past its checks may still finish.
	time.Sleep(20 * time.Millisecond)
	settled, peak := slow.stats()
	assert.Equal(t, 1, peak, "cycle bodies ran concurrently")
	assert.GreaterOrEqual(t, settled, 41, "start cycle plus every manual run")

	time.Sleep(30 * time.Millisecond)
	later, _ := slow.stats()
	assert.Equal(t, settled, later, "no cycle begins after stop")
}
