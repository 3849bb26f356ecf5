package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"marai-studio/internal/timeline"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

var ErrCueClosed = errors.New("cue closed")

// resampleQuality is beep's resampling quality, 1 to 64.
const resampleQuality = 4

// Loader creates cues that download, decode and play segment audio. It
// satisfies timeline.CueLoader.
type Loader struct {
	ctx   context.Context
	cache *CacheManager
	out   Output
	clock timeline.Clock
}

func NewLoader(ctx context.Context, cache *CacheManager, out Output) *Loader {
	return &Loader{ctx: ctx, cache: cache, out: out, clock: timeline.RealClock{}}
}

// WithClock returns a copy of the loader that timestamps deferred starts
// with clock.
func (l *Loader) WithClock(clock timeline.Clock) *Loader {
	cp := *l
	cp.clock = clock
	return &cp
}

// LoadCue returns at once. The asset loads in the background; a Start
// issued before it is ready plays from where the playhead has got to by
// then.
func (l *Loader) LoadCue(segmentID, url string) (timeline.Cue, error) {
	if url == "" {
		return nil, fmt.Errorf("segment %s: %w: no audio url", segmentID, timeline.ErrCueFailed)
	}
	c := &Cue{out: l.out, clock: l.clock, segmentID: segmentID, gain: 1}
	go c.load(l.ctx, l.cache, url)
	return c, nil
}

type pendingStart struct {
	offset time.Duration
	at     time.Time
}

// Cue is the audio of one segment, played through an Output.
type Cue struct {
	out       Output
	clock     timeline.Clock
	segmentID string

	mu       sync.Mutex
	stream   beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	attached *atomic.Bool
	gain     float64
	pending  *pendingStart
	ready    bool
	err      error
	closed   bool
}

func (c *Cue) load(ctx context.Context, cache *CacheManager, url string) {
	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	path, err := cache.GetLocalPath(ctx, url)
	if err == nil {
		s, format, err = Decode(path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true

	if c.closed {
		if s != nil {
			s.Close()
		}
		return
	}
	if err != nil {
		cueLoads.WithLabelValues("error").Inc()
		c.err = fmt.Errorf("segment %s: %w: %w", c.segmentID, timeline.ErrCueFailed, err)
		c.pending = nil
		return
	}
	cueLoads.WithLabelValues("ok").Inc()
	c.stream, c.format = s, format

	if p := c.pending; p != nil {
		c.pending = nil
		if err := c.startLocked(p.offset + c.clock.Now().Sub(p.at)); err != nil {
			log.Printf("❌ Deferred start of segment %s failed: %v", c.segmentID, err)
		}
	}
}

// Ready reports whether the background load has finished, successfully
// or not.
func (c *Cue) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Cue) SetGain(g float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = math.Max(0, math.Min(1, g))
	if c.volume == nil {
		return
	}
	c.out.Lock()
	c.applyGainLocked()
	c.out.Unlock()
}

func (c *Cue) applyGainLocked() {
	c.volume.Silent = c.gain <= 0
	if c.gain > 0 {
		c.volume.Volume = math.Log2(c.gain)
	}
}

func (c *Cue) Start(offset time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.closed {
		return ErrCueClosed
	}
	if c.playingLocked() {
		return nil
	}
	if c.stream == nil {
		c.pending = &pendingStart{offset: offset, at: c.clock.Now()}
		return nil
	}
	return c.startLocked(offset)
}

func (c *Cue) startLocked(offset time.Duration) error {
	c.detachLocked()

	pos := c.format.SampleRate.N(offset)
	if pos < 0 {
		pos = 0
	}
	if pos >= c.stream.Len() {
		return nil
	}
	if err := c.stream.Seek(pos); err != nil {
		c.err = fmt.Errorf("segment %s: %w: %w", c.segmentID, timeline.ErrCueFailed, err)
		return c.err
	}

	var s beep.Streamer = c.stream
	if sr := c.out.SampleRate(); sr != c.format.SampleRate {
		s = beep.Resample(resampleQuality, c.format.SampleRate, sr, s)
	}

	attached := &atomic.Bool{}
	attached.Store(true)
	c.ctrl = &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() {
		attached.Store(false)
	}))}
	c.volume = &effects.Volume{Streamer: c.ctrl, Base: 2}
	c.applyGainLocked()
	c.attached = attached

	c.out.Play(c.volume)
	cueStarts.Inc()
	return nil
}

// detachLocked unhooks the current chain from the output. The mixer drops
// it on its next pass.
func (c *Cue) detachLocked() {
	if c.ctrl == nil {
		return
	}
	c.out.Lock()
	c.ctrl.Streamer = nil
	c.out.Unlock()
	c.attached.Store(false)
	c.ctrl, c.volume, c.attached = nil, nil, nil
}

func (c *Cue) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.detachLocked()
	if c.stream != nil {
		c.stream.Seek(0)
	}
}

// Playing reports whether the cue is audible, or waiting to be once its
// asset has loaded.
func (c *Cue) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playingLocked() || c.pending != nil
}

func (c *Cue) playingLocked() bool {
	return c.attached != nil && c.attached.Load()
}

// Position is how far into the asset playback is.
func (c *Cue) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return 0
	}
	c.out.Lock()
	pos := c.stream.Position()
	c.out.Unlock()
	return c.format.SampleRate.D(pos)
}

func (c *Cue) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Cue) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	c.detachLocked()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}
