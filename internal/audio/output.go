package audio

import (
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// DefaultSampleRate is the mixing rate of every output. Assets at other
// rates are resampled.
const DefaultSampleRate beep.SampleRate = 44100

// Output is a mixing sink streamers are played into. Lock must be held
// while touching a streamer that is already playing.
type Output interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Close() error
}

var (
	speakerOnce sync.Once
	speakerErr  error
)

// SpeakerOutput plays through the system's audio device. The device is
// initialized once per process.
type SpeakerOutput struct {
	sr beep.SampleRate
}

func NewSpeakerOutput(sr beep.SampleRate, buffer time.Duration) (*SpeakerOutput, error) {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(sr, sr.N(buffer))
	})
	if speakerErr != nil {
		return nil, speakerErr
	}
	return &SpeakerOutput{sr: sr}, nil
}

func (o *SpeakerOutput) SampleRate() beep.SampleRate { return o.sr }
func (o *SpeakerOutput) Play(s beep.Streamer)        { speaker.Play(s) }
func (o *SpeakerOutput) Lock()                       { speaker.Lock() }
func (o *SpeakerOutput) Unlock()                     { speaker.Unlock() }

func (o *SpeakerOutput) Close() error {
	speaker.Clear()
	return nil
}

// NullOutput mixes in real time and discards the samples. Servers use it
// so cue and element positions advance without an audio device.
type NullOutput struct {
	sr    beep.SampleRate
	mu    sync.Mutex
	mixer beep.Mixer
	stop  chan struct{}
	once  sync.Once
}

func NewNullOutput(sr beep.SampleRate) *NullOutput {
	o := &NullOutput{sr: sr, stop: make(chan struct{})}
	go o.run(10 * time.Millisecond)
	return o
}

func (o *NullOutput) SampleRate() beep.SampleRate { return o.sr }

func (o *NullOutput) Play(s beep.Streamer) {
	o.mu.Lock()
	o.mixer.Add(s)
	o.mu.Unlock()
}

func (o *NullOutput) Lock()   { o.mu.Lock() }
func (o *NullOutput) Unlock() { o.mu.Unlock() }

// Playing reports how many streamers are mixed.
func (o *NullOutput) Playing() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mixer.Len()
}

// Advance mixes d worth of samples immediately.
func (o *NullOutput) Advance(d time.Duration) {
	o.mu.Lock()
	o.drainLocked(o.sr.N(d))
	o.mu.Unlock()
}

func (o *NullOutput) Close() error {
	o.once.Do(func() {
		close(o.stop)
		o.mu.Lock()
		o.mixer.Clear()
		o.mu.Unlock()
	})
	return nil
}

func (o *NullOutput) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-o.stop:
			return
		case now := <-ticker.C:
			o.mu.Lock()
			o.drainLocked(o.sr.N(now.Sub(last)))
			o.mu.Unlock()
			last = now
		}
	}
}

func (o *NullOutput) drainLocked(n int) {
	var buf [512][2]float64
	for n > 0 {
		chunk := n
		if chunk > len(buf) {
			chunk = len(buf)
		}
		o.mixer.Stream(buf[:chunk])
		n -= chunk
	}
}
