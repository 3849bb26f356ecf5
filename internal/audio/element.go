package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"marai-studio/internal/timeline"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

var ErrElementClosed = errors.New("element closed")

// TimeUpdateInterval is how often a playing element reports its position.
const TimeUpdateInterval = 250 * time.Millisecond

// Element plays one long asset, such as a transcript's wav, and keeps its
// own clock. It satisfies timeline.MediaElement.
type Element struct {
	out      Output
	stream   beep.StreamSeekCloser
	format   beep.Format
	interval time.Duration

	mu       sync.Mutex
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	attached *atomic.Bool
	gain     float64
	playing  bool
	notify   func(timeline.ElementEvent)
	stop     chan struct{}
	closed   bool
}

// OpenElement downloads and decodes url into an element.
func OpenElement(ctx context.Context, cache *CacheManager, out Output, url string) (*Element, error) {
	path, err := cache.GetLocalPath(ctx, url)
	if err != nil {
		return nil, err
	}
	s, format, err := Decode(path)
	if err != nil {
		return nil, err
	}
	elementOpens.Inc()
	return NewElement(out, s, format), nil
}

func NewElement(out Output, s beep.StreamSeekCloser, format beep.Format) *Element {
	return &Element{out: out, stream: s, format: format, interval: TimeUpdateInterval, gain: 1}
}

func (e *Element) Duration() time.Duration {
	return e.format.SampleRate.D(e.stream.Len())
}

func (e *Element) Notify(fn func(timeline.ElementEvent)) {
	e.mu.Lock()
	e.notify = fn
	e.mu.Unlock()
}

func (e *Element) Play() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrElementClosed
	}
	if e.playing {
		e.mu.Unlock()
		return nil
	}

	e.out.Lock()
	atEnd := e.stream.Position() >= e.stream.Len()
	if atEnd {
		e.stream.Seek(0)
	}
	if e.ctrl != nil && e.attached.Load() {
		e.ctrl.Paused = false
	}
	e.out.Unlock()
	if e.ctrl == nil || !e.attached.Load() {
		e.attachLocked()
	}

	e.playing = true
	e.startTickerLocked()
	ev, fn := e.eventLocked(timeline.EventPlay)
	e.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
	return nil
}

func (e *Element) attachLocked() {
	var s beep.Streamer = e.stream
	if sr := e.out.SampleRate(); sr != e.format.SampleRate {
		s = beep.Resample(resampleQuality, e.format.SampleRate, sr, s)
	}
	attached := &atomic.Bool{}
	attached.Store(true)
	e.ctrl = &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() {
		attached.Store(false)
		go e.ended()
	}))}
	e.volume = &effects.Volume{Streamer: e.ctrl, Base: 2}
	e.applyGainLocked()
	e.attached = attached
	e.out.Play(e.volume)
}

func (e *Element) Pause() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	if e.ctrl != nil {
		e.out.Lock()
		e.ctrl.Paused = true
		e.out.Unlock()
	}
	e.playing = false
	e.stopTickerLocked()
	ev, fn := e.eventLocked(timeline.EventPause)
	e.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func (e *Element) ended() {
	e.mu.Lock()
	if e.closed || !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.ctrl, e.volume = nil, nil
	e.stopTickerLocked()
	ev, fn := e.eventLocked(timeline.EventEnded)
	e.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func (e *Element) SetCurrentTime(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	pos := e.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	pos = max(0, min(pos, e.stream.Len()))
	e.out.Lock()
	e.stream.Seek(pos)
	e.out.Unlock()
}

func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked()
}

func (e *Element) currentLocked() float64 {
	if e.closed {
		return 0
	}
	e.out.Lock()
	pos := e.stream.Position()
	e.out.Unlock()
	return e.format.SampleRate.D(pos).Seconds()
}

func (e *Element) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gain = math.Max(0, math.Min(1, v))
	if e.volume == nil {
		return
	}
	e.out.Lock()
	e.applyGainLocked()
	e.out.Unlock()
}

func (e *Element) applyGainLocked() {
	e.volume.Silent = e.gain <= 0
	if e.gain > 0 {
		e.volume.Volume = math.Log2(e.gain)
	}
}

func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.stopTickerLocked()
	if e.ctrl != nil {
		e.out.Lock()
		e.ctrl.Streamer = nil
		e.out.Unlock()
	}
	e.closed = true
	e.playing = false
	return e.stream.Close()
}

func (e *Element) eventLocked(typ timeline.ElementEventType) (timeline.ElementEvent, func(timeline.ElementEvent)) {
	return timeline.ElementEvent{Type: typ, CurrentTime: e.currentLocked()}, e.notify
}

func (e *Element) startTickerLocked() {
	if e.stop != nil {
		return
	}
	stop := make(chan struct{})
	e.stop = stop
	go e.tick(stop)
}

func (e *Element) stopTickerLocked() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (e *Element) tick(stop chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.stop != stop {
				e.mu.Unlock()
				return
			}
			ev, fn := e.eventLocked(timeline.EventTimeUpdate)
			e.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		}
	}
}
