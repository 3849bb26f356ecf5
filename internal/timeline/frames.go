package timeline

import (
	"sync"
	"time"
)

// Clock defines an interface for getting the current time.
// This allows us to inject a fake time during unit tests.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock implements Clock for tests. It only moves when told to.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockClock) Add(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

type FrameID uint64

// FrameScheduler is the animation-frame primitive: a requested callback
// runs once, on the next frame, unless cancelled first.
type FrameScheduler interface {
	RequestFrame(fn func(now time.Time)) FrameID
	CancelFrame(id FrameID)
}

type frameQueue struct {
	mu      sync.Mutex
	next    FrameID
	pending map[FrameID]func(time.Time)
	order   []FrameID
}

func (q *frameQueue) request(fn func(time.Time)) FrameID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[FrameID]func(time.Time))
	}
	q.next++
	q.pending[q.next] = fn
	q.order = append(q.order, q.next)
	return q.next
}

func (q *frameQueue) cancel(id FrameID) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// drain takes everything queued so far. Callbacks requested while the
// batch runs wait for the next frame.
func (q *frameQueue) drain() []func(time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []func(time.Time)
	for _, id := range q.order {
		if fn, ok := q.pending[id]; ok {
			out = append(out, fn)
			delete(q.pending, id)
		}
	}
	q.order = q.order[:0]
	return out
}

func (q *frameQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// TickerFrames fires frames from a ticker goroutine.
type TickerFrames struct {
	queue frameQueue
	clock Clock
	stop  chan struct{}
	once  sync.Once
}

func NewTickerFrames(fps int, clock Clock) *TickerFrames {
	if fps <= 0 {
		fps = 60
	}
	if clock == nil {
		clock = RealClock{}
	}
	f := &TickerFrames{clock: clock, stop: make(chan struct{})}
	go f.loop(time.Second / time.Duration(fps))
	return f
}

func (f *TickerFrames) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			batch := f.queue.drain()
			if len(batch) == 0 {
				continue
			}
			now := f.clock.Now()
			for _, fn := range batch {
				fn(now)
			}
		}
	}
}

func (f *TickerFrames) RequestFrame(fn func(time.Time)) FrameID { return f.queue.request(fn) }

func (f *TickerFrames) CancelFrame(id FrameID) { f.queue.cancel(id) }

func (f *TickerFrames) Close() {
	f.once.Do(func() { close(f.stop) })
}

// ManualFrames fires frames only when stepped, against a MockClock.
type ManualFrames struct {
	queue frameQueue
	Clock *MockClock
}

func NewManualFrames(clock *MockClock) *ManualFrames {
	return &ManualFrames{Clock: clock}
}

func (f *ManualFrames) RequestFrame(fn func(time.Time)) FrameID { return f.queue.request(fn) }

func (f *ManualFrames) CancelFrame(id FrameID) { f.queue.cancel(id) }

// Step advances the clock by d and runs one frame.
func (f *ManualFrames) Step(d time.Duration) int {
	f.Clock.Add(d)
	batch := f.queue.drain()
	now := f.Clock.Now()
	for _, fn := range batch {
		fn(now)
	}
	return len(batch)
}

// Run steps frames of size d until total has elapsed or nothing is
// pending any more.
func (f *ManualFrames) Run(total, d time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += d {
		if f.Pending() == 0 {
			return
		}
		f.Step(d)
	}
}

func (f *ManualFrames) Pending() int { return f.queue.size() }
