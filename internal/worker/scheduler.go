package worker

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn every interval until the returned cancel func is called.
// cancel is idempotent and may be called from inside fn.
type Scheduler interface {
	Schedule(fn func(), interval time.Duration) (cancel func())
}

// TickerScheduler is the wall-clock Scheduler backed by time.Ticker.
type TickerScheduler struct{}

// Schedule starts a goroutine that calls fn on every tick.
func (TickerScheduler) Schedule(fn func(), interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

// ManualScheduler fires scheduled callbacks only when Tick is called.
// It lets tests drive countdowns without sleeping.
type ManualScheduler struct {
	mu     sync.Mutex
	nextID int
	jobs   map[int]func()
}

// NewManualScheduler creates an idle ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{jobs: make(map[int]func())}
}

// Schedule registers fn; the interval is ignored, every Tick counts as one interval.
func (m *ManualScheduler) Schedule(fn func(), _ time.Duration) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.jobs[id] = fn

	return func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}
}

// Tick fires every registered callback n times, in registration order.
// Callbacks cancelled during a tick are not fired again.
func (m *ManualScheduler) Tick(n int) {
	for i := 0; i < n; i++ {
		m.mu.Lock()
		ids := make([]int, 0, len(m.jobs))
		for id := range m.jobs {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		sort.Ints(ids)

		for _, id := range ids {
			m.mu.Lock()
			fn, ok := m.jobs[id]
			m.mu.Unlock()
			if ok {
				fn()
			}
		}
	}
}

// Active reports how many callbacks are still scheduled.
func (m *ManualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
