package monitor

import (
	"context"
	"sync"
	"time"
)

// schedule is a running ticker loop. stop is idempotent and never waits,
// so it may be called from inside a cycle the loop itself started.
type schedule struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (s *schedule) stop() {
	s.once.Do(s.cancel)
}

// schedule starts a loop running a cycle every interval. The first tick
// fires one full interval after the call.
func (m *Monitor) schedule(gen uint64, interval time.Duration) *schedule {
	ctx, cancel := context.WithCancel(m.ctx)
	s := &schedule{cancel: cancel, done: make(chan struct{})}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				m.runCycle(gen, false)
			}
		}
	}()
	return s
}
