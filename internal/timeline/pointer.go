package timeline

import "sync"

// PointerEvents is a document-wide pointer source. Listen attaches move
// and up handlers and returns the function that detaches them.
type PointerEvents interface {
	Listen(onMove, onUp func(x float64)) (release func())
}

// PointerBus is an in-process PointerEvents fed by whatever carries the
// raw pointer input (a websocket, an HTTP handler, a test).
type PointerBus struct {
	mu        sync.Mutex
	next      int
	listeners map[int]pointerListener
}

type pointerListener struct {
	move func(float64)
	up   func(float64)
}

func NewPointerBus() *PointerBus {
	return &PointerBus{listeners: make(map[int]pointerListener)}
}

func (b *PointerBus) Listen(onMove, onUp func(x float64)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.listeners[id] = pointerListener{move: onMove, up: onUp}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *PointerBus) Move(x float64) {
	for _, l := range b.snapshot() {
		if l.move != nil {
			l.move(x)
		}
	}
}

func (b *PointerBus) Up(x float64) {
	for _, l := range b.snapshot() {
		if l.up != nil {
			l.up(x)
		}
	}
}

// Listeners reports how many handler pairs are attached.
func (b *PointerBus) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *PointerBus) snapshot() []pointerListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]pointerListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		out = append(out, l)
	}
	return out
}
