package timeline

import (
	"errors"
	"io"
	"math"
	"sync"
	"time"
)

var ErrNoElement = errors.New("media element not loaded")

// DefaultPollInterval backs up timeupdate events, which fire irregularly.
const DefaultPollInterval = 100 * time.Millisecond

// MediaElement is a playable audio element with its own clock, in seconds.
type MediaElement interface {
	Play() error
	Pause()
	SetCurrentTime(seconds float64)
	CurrentTime() float64
}

// VolumeSetter is implemented by elements with an output gain.
type VolumeSetter interface {
	SetVolume(v float64)
}

// Notifier is implemented by elements that push their own events.
type Notifier interface {
	Notify(fn func(ElementEvent))
}

type ElementEventType string

const (
	EventTimeUpdate ElementEventType = "timeupdate"
	EventPlay       ElementEventType = "play"
	EventPause      ElementEventType = "pause"
	EventEnded      ElementEventType = "ended"
)

type ElementEvent struct {
	Type        ElementEventType `json:"type"`
	CurrentTime float64          `json:"current_time"`
}

// ElementClock is an element-driven transport. The element's timeupdate
// events and a fallback poll while playing are the source of truth;
// commands are forwarded to the element.
type ElementClock struct {
	mu       sync.Mutex
	el       MediaElement
	poll     time.Duration
	onChange func(State)

	state    State
	stopPoll chan struct{}
	closed   bool
}

func NewElementClock(el MediaElement, durationMs int64, poll time.Duration, onChange func(State)) *ElementClock {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	c := &ElementClock{
		el:       el,
		poll:     poll,
		onChange: onChange,
		state:    State{DurationMs: durationMs},
	}
	if n, ok := el.(Notifier); ok {
		n.Notify(c.HandleEvent)
	}
	return c
}

func (c *ElementClock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Play syncs the element to the playhead and starts it.
func (c *ElementClock) Play() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.el == nil {
		c.mu.Unlock()
		return ErrNoElement
	}
	if c.state.Playing {
		c.mu.Unlock()
		return nil
	}
	el, at := c.el, c.state.CurrentMs
	c.mu.Unlock()

	el.SetCurrentTime(float64(at) / 1000)
	if err := el.Play(); err != nil {
		return err
	}

	c.mu.Lock()
	st, changed := c.applyLocked(c.state.CurrentMs, true)
	c.mu.Unlock()
	if changed {
		c.emit(st)
	}
	return nil
}

func (c *ElementClock) Pause() {
	c.mu.Lock()
	el := c.el
	c.mu.Unlock()
	secs := -1.0
	if el != nil {
		el.Pause()
		secs = el.CurrentTime()
	}

	c.mu.Lock()
	ms := c.state.CurrentMs
	if secs >= 0 {
		ms = c.fromSeconds(secs)
	}
	st, changed := c.applyLocked(ms, false)
	c.mu.Unlock()
	if changed {
		c.emit(st)
	}
}

func (c *ElementClock) Stop() {
	c.mu.Lock()
	el := c.el
	c.mu.Unlock()
	if el != nil {
		el.Pause()
		el.SetCurrentTime(0)
	}

	c.mu.Lock()
	st, changed := c.applyLocked(0, false)
	if changed {
		c.state.Jumps++
		st = c.state
	}
	c.mu.Unlock()
	if changed {
		c.emit(st)
	}
}

func (c *ElementClock) SeekMs(ms int64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ms = clampTime(ms, c.state.DurationMs)
	el := c.el
	st, changed := c.applyLocked(ms, c.state.Playing)
	if changed {
		c.state.Jumps++
		st = c.state
	}
	c.mu.Unlock()

	if el != nil && changed {
		el.SetCurrentTime(float64(ms) / 1000)
	}
	if changed {
		c.emit(st)
	}
}

func (c *ElementClock) SetDuration(ms int64) {
	c.mu.Lock()
	if c.state.DurationMs == ms {
		c.mu.Unlock()
		return
	}
	c.state.DurationMs = ms
	st, _ := c.applyLocked(clampTime(c.state.CurrentMs, ms), c.state.Playing)
	c.mu.Unlock()
	c.emit(st)
}

// SetVolume forwards the master gain when the element supports it.
func (c *ElementClock) SetVolume(v float64) {
	c.mu.Lock()
	el := c.el
	c.mu.Unlock()
	if vs, ok := el.(VolumeSetter); ok {
		vs.SetVolume(v)
	}
}

// HandleEvent feeds an element event into the clock.
func (c *ElementClock) HandleEvent(ev ElementEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var (
		st      State
		changed bool
	)
	switch ev.Type {
	case EventTimeUpdate:
		st, changed = c.applyLocked(c.fromSeconds(ev.CurrentTime), c.state.Playing)
	case EventPlay:
		st, changed = c.applyLocked(c.fromSeconds(ev.CurrentTime), true)
	case EventPause:
		st, changed = c.applyLocked(c.fromSeconds(ev.CurrentTime), false)
	case EventEnded:
		st, changed = c.applyLocked(c.state.DurationMs, false)
	}
	c.mu.Unlock()
	if changed {
		c.emit(st)
	}
}

func (c *ElementClock) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopPollLocked()
	el := c.el
	c.el = nil
	c.state.Playing = false
	c.mu.Unlock()
	if el != nil {
		el.Pause()
	}
	closeElement(el)
}

// closeElement releases elements that hold resources, such as decoded
// audio streams.
func closeElement(el MediaElement) {
	if cl, ok := el.(io.Closer); ok {
		cl.Close()
	}
}

func (c *ElementClock) fromSeconds(s float64) int64 {
	return clampTime(int64(math.Round(s*1000)), c.state.DurationMs)
}

// applyLocked installs a new position and play state, starting or
// stopping the poll with it. It reports whether anything changed.
func (c *ElementClock) applyLocked(ms int64, playing bool) (State, bool) {
	if c.state.CurrentMs == ms && c.state.Playing == playing {
		return c.state, false
	}
	wasPlaying := c.state.Playing
	c.state.CurrentMs = ms
	c.state.Playing = playing
	c.state.Seq++

	switch {
	case playing && !wasPlaying:
		c.startPollLocked()
	case !playing && wasPlaying:
		c.stopPollLocked()
	}
	return c.state, true
}

func (c *ElementClock) startPollLocked() {
	if c.stopPoll != nil || c.el == nil {
		return
	}
	stop := make(chan struct{})
	c.stopPoll = stop
	go c.pollLoop(c.el, stop)
}

func (c *ElementClock) stopPollLocked() {
	if c.stopPoll != nil {
		close(c.stopPoll)
		c.stopPoll = nil
	}
}

func (c *ElementClock) pollLoop(el MediaElement, stop chan struct{}) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			secs := el.CurrentTime()
			c.mu.Lock()
			if c.stopPoll != stop {
				c.mu.Unlock()
				return
			}
			st, changed := c.applyLocked(c.fromSeconds(secs), c.state.Playing)
			c.mu.Unlock()
			if changed {
				c.emit(st)
			}
		}
	}
}

func (c *ElementClock) emit(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}
