package timeline

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNoDuration = errors.New("timeline has no duration")
	ErrClosed     = errors.New("timeline closed")
)

// Player is the external media player slaved to a self-driven clock.
type Player interface {
	SeekTo(seconds float64)
}

// State is a transport's playback position. Seq grows with every change
// so listeners can drop states that arrive out of order.
type State struct {
	CurrentMs  int64  `json:"current_ms"`
	DurationMs int64  `json:"duration_ms"`
	Playing    bool   `json:"playing"`
	Seq        uint64 `json:"seq"`
	// Jumps counts discontinuities (seeks and stops). Later states carry
	// it forward, so a jump is seen even when its own state arrives stale.
	Jumps uint64 `json:"-"`
}

// Transport drives the playhead. Implementations report every change to
// the listener given at construction, outside of their own lock.
type Transport interface {
	Play() error
	Pause()
	Stop()
	SeekMs(ms int64)
	SetDuration(ms int64)
	State() State
	Close()
}

// FrameClock is a self-driven transport: while playing it advances the
// position from a wall-clock anchor once per animation frame.
type FrameClock struct {
	mu       sync.Mutex
	clock    Clock
	frames   FrameScheduler
	player   Player
	onChange func(State)

	state  State
	anchor time.Time
	frame  FrameID
	gen    uint64
	closed bool
}

func NewFrameClock(clock Clock, frames FrameScheduler, player Player, durationMs int64, onChange func(State)) *FrameClock {
	if clock == nil {
		clock = RealClock{}
	}
	return &FrameClock{
		clock:    clock,
		frames:   frames,
		player:   player,
		onChange: onChange,
		state:    State{DurationMs: durationMs},
	}
}

func (c *FrameClock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *FrameClock) Play() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.DurationMs <= 0 {
		c.mu.Unlock()
		return ErrNoDuration
	}
	if c.state.Playing {
		c.mu.Unlock()
		return nil
	}
	c.state.Playing = true
	c.startLoopLocked()
	st := c.bumpLocked()
	c.mu.Unlock()

	c.emit(st)
	return nil
}

func (c *FrameClock) Pause() {
	c.mu.Lock()
	if !c.state.Playing {
		c.mu.Unlock()
		return
	}
	c.state.Playing = false
	c.cancelLoopLocked()
	st := c.bumpLocked()
	c.mu.Unlock()

	c.emit(st)
}

// Stop halts playback and rewinds to zero, seeking the player along.
func (c *FrameClock) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasAtRest := !c.state.Playing && c.state.CurrentMs == 0
	c.state.Playing = false
	c.state.CurrentMs = 0
	c.cancelLoopLocked()
	var st State
	if !wasAtRest {
		c.state.Jumps++
		st = c.bumpLocked()
	}
	c.mu.Unlock()

	c.seekPlayer(0)
	if !wasAtRest {
		c.emit(st)
	}
}

// SeekMs clamps ms into the track and moves there. While playing the frame
// loop is re-anchored at the new position. Seeking to the current position
// is a no-op.
func (c *FrameClock) SeekMs(ms int64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ms = clampTime(ms, c.state.DurationMs)
	if ms == c.state.CurrentMs {
		c.mu.Unlock()
		return
	}
	c.state.CurrentMs = ms
	c.state.Jumps++
	if c.state.Playing {
		c.cancelLoopLocked()
		c.startLoopLocked()
	}
	st := c.bumpLocked()
	c.mu.Unlock()

	c.seekPlayer(ms)
	c.emit(st)
}

func (c *FrameClock) SetDuration(ms int64) {
	c.mu.Lock()
	if c.state.DurationMs == ms {
		c.mu.Unlock()
		return
	}
	c.state.DurationMs = ms
	if c.state.CurrentMs > ms {
		c.state.CurrentMs = clampTime(c.state.CurrentMs, ms)
	}
	st := c.bumpLocked()
	c.mu.Unlock()

	c.emit(st)
}

func (c *FrameClock) Close() {
	c.mu.Lock()
	c.closed = true
	c.state.Playing = false
	c.cancelLoopLocked()
	c.mu.Unlock()
}

func (c *FrameClock) startLoopLocked() {
	c.anchor = c.clock.Now().Add(-time.Duration(c.state.CurrentMs) * time.Millisecond)
	c.gen++
	gen := c.gen
	c.frame = c.frames.RequestFrame(func(now time.Time) { c.onFrame(gen, now) })
}

func (c *FrameClock) cancelLoopLocked() {
	c.gen++
	if c.frame != 0 {
		c.frames.CancelFrame(c.frame)
		c.frame = 0
	}
}

func (c *FrameClock) onFrame(gen uint64, now time.Time) {
	c.mu.Lock()
	if c.closed || !c.state.Playing || gen != c.gen {
		c.mu.Unlock()
		return
	}

	elapsed := now.Sub(c.anchor).Milliseconds()
	if elapsed >= c.state.DurationMs {
		c.state.CurrentMs = c.state.DurationMs
		c.state.Playing = false
		c.frame = 0
	} else {
		if elapsed < 0 {
			elapsed = 0
		}
		c.state.CurrentMs = elapsed
		c.frame = c.frames.RequestFrame(func(now time.Time) { c.onFrame(gen, now) })
	}
	st := c.bumpLocked()
	c.mu.Unlock()

	c.emit(st)
}

func (c *FrameClock) bumpLocked() State {
	c.state.Seq++
	return c.state
}

func (c *FrameClock) emit(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}

func (c *FrameClock) seekPlayer(ms int64) {
	if c.player != nil {
		c.player.SeekTo(float64(ms) / 1000)
	}
}

func clampTime(ms, durationMs int64) int64 {
	switch {
	case durationMs <= 0, ms < 0:
		return 0
	case ms > durationMs:
		return durationMs
	}
	return ms
}
