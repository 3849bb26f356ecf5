package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marai-studio/internal/timeline"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

var testFormat = beep.Format{SampleRate: DefaultSampleRate, NumChannels: 2, Precision: 2}

// writeWAV encodes d of silence and returns the file's bytes.
func writeWAV(t *testing.T, d time.Duration, format beep.Format) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := wav.Encode(f, beep.Take(format.SampleRate.N(d), beep.Silence(-1)), format); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	calls   map[string]int
	release chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string][]byte), calls: make(map[string]int)}
}

func (f *fakeFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls[url]++
	data, ok := f.files[url]
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("%s: 404", url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// manualOutput mixes only when the test advances it.
func manualOutput() *NullOutput {
	return &NullOutput{sr: DefaultSampleRate, stop: make(chan struct{})}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCacheManager_SharesDownloads(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["s3://assets/a.wav"] = []byte("RIFF....WAVE")
	fetcher.release = make(chan struct{})
	cache := NewCacheManager(fetcher, t.TempDir())

	var wg sync.WaitGroup
	paths := make([]string, 5)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cache.GetLocalPath(context.Background(), "s3://assets/a.wav")
			if err != nil {
				t.Errorf("GetLocalPath failed: %v", err)
			}
			paths[i] = p
		}(i)
	}
	waitFor(t, "first download", func() bool { return fetcher.count("s3://assets/a.wav") == 1 })
	close(fetcher.release)
	wg.Wait()

	if n := fetcher.count("s3://assets/a.wav"); n != 1 {
		t.Errorf("Expected one download, got %d", n)
	}
	for _, p := range paths {
		if p != paths[0] || filepath.Ext(p) != ".wav" {
			t.Errorf("Unexpected path %q", p)
		}
	}

	// Cached now: no further fetch.
	cache.GetLocalPath(context.Background(), "s3://assets/a.wav")
	if n := fetcher.count("s3://assets/a.wav"); n != 1 {
		t.Errorf("Cache hit refetched, %d calls", n)
	}
	t.Logf("✅ Five concurrent requests, one download")
}

func TestCacheManager_ErrorsAreNotCached(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCacheManager(fetcher, t.TempDir())

	if _, err := cache.GetLocalPath(context.Background(), "https://cdn/missing.mp3"); err == nil {
		t.Fatal("Expected an error for a missing asset")
	}
	fetcher.files["https://cdn/missing.mp3"] = []byte("ID3")
	if _, err := cache.GetLocalPath(context.Background(), "https://cdn/missing.mp3"); err != nil {
		t.Errorf("Retry after failure should succeed, got %v", err)
	}
	entries, _ := os.ReadDir(cache.Dir())
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("Temporary file left behind: %s", e.Name())
		}
	}
}

func TestCacheManager_Cleanup(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a.mp3"] = []byte("a")
	fetcher.files["b.mp3"] = []byte("b")
	cache := NewCacheManager(fetcher, t.TempDir())
	ctx := context.Background()
	cache.GetLocalPath(ctx, "a.mp3")
	cache.GetLocalPath(ctx, "b.mp3")

	if removed := cache.Cleanup([]string{"a.mp3"}); removed != 1 {
		t.Errorf("Expected 1 file removed, got %d", removed)
	}
	cache.GetLocalPath(ctx, "a.mp3")
	cache.GetLocalPath(ctx, "b.mp3")
	if fetcher.count("a.mp3") != 1 || fetcher.count("b.mp3") != 2 {
		t.Errorf("Unexpected fetch counts a=%d b=%d", fetcher.count("a.mp3"), fetcher.count("b.mp3"))
	}
}

func TestSniffAndDecode(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "voice.bin")
	os.WriteFile(wavPath, writeWAV(t, time.Second, testFormat), 0644)
	txtPath := filepath.Join(dir, "notes.txt")
	os.WriteFile(txtPath, []byte("just some words, not audio"), 0644)

	f, _ := os.Open(wavPath)
	if kind := Sniff(f, wavPath); kind != KindWAV {
		t.Errorf("Expected wav from the RIFF header, got %q", kind)
	}
	if pos, _ := f.Seek(0, io.SeekCurrent); pos != 0 {
		t.Errorf("Sniff should rewind, at %d", pos)
	}
	f.Close()

	s, format, err := Decode(wavPath)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	defer s.Close()
	if format.SampleRate != testFormat.SampleRate || s.Len() != testFormat.SampleRate.N(time.Second) {
		t.Errorf("Unexpected stream: rate %d len %d", format.SampleRate, s.Len())
	}

	if _, _, err := Decode(txtPath); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}

	g, _ := os.Open(txtPath)
	defer g.Close()
	if kind := Sniff(g, "clip.OGG"); kind != KindOGG {
		t.Errorf("Expected extension fallback to ogg, got %q", kind)
	}
}

type cueHarness struct {
	fetcher *fakeFetcher
	out     *NullOutput
	clock   *timeline.MockClock
	loader  *Loader
}

func newCueHarness(t *testing.T, d time.Duration) *cueHarness {
	t.Helper()
	fetcher := newFakeFetcher()
	fetcher.files["seg.wav"] = writeWAV(t, d, testFormat)
	out := manualOutput()
	clock := timeline.NewMockClock(time.Unix(0, 0))
	loader := NewLoader(context.Background(), NewCacheManager(fetcher, t.TempDir()), out).WithClock(clock)
	return &cueHarness{fetcher: fetcher, out: out, clock: clock, loader: loader}
}

func (h *cueHarness) load(t *testing.T, url string) *Cue {
	t.Helper()
	c, err := h.loader.LoadCue("s1", url)
	if err != nil {
		t.Fatalf("LoadCue failed: %v", err)
	}
	return c.(*Cue)
}

func TestCue_PlaysAndStops(t *testing.T) {
	h := newCueHarness(t, 2*time.Second)
	c := h.load(t, "seg.wav")
	waitFor(t, "cue load", c.Ready)

	if err := c.Start(500 * time.Millisecond); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !c.Playing() || h.out.Playing() != 1 {
		t.Fatalf("Cue not attached to the output")
	}
	h.out.Advance(250 * time.Millisecond)
	if pos := c.Position(); pos != 750*time.Millisecond {
		t.Errorf("Expected position 750ms, got %v", pos)
	}

	c.Stop()
	h.out.Advance(10 * time.Millisecond)
	if c.Playing() || h.out.Playing() != 0 {
		t.Errorf("Stopped cue still mixed")
	}
	if c.Position() != 0 {
		t.Errorf("Stop should rewind, at %v", c.Position())
	}
	t.Logf("✅ Cue started at offset, advanced and stopped")
}

func TestCue_DeferredStartCatchesUp(t *testing.T) {
	h := newCueHarness(t, 2*time.Second)
	h.fetcher.release = make(chan struct{})
	c := h.load(t, "seg.wav")

	if err := c.Start(200 * time.Millisecond); err != nil {
		t.Fatalf("Start before load failed: %v", err)
	}
	if !c.Playing() {
		t.Error("Pending start should count as playing")
	}
	h.clock.Add(300 * time.Millisecond)
	close(h.fetcher.release)
	waitFor(t, "cue load", c.Ready)

	if pos := c.Position(); pos != 500*time.Millisecond {
		t.Errorf("Expected deferred start at 500ms, got %v", pos)
	}
}

func TestCue_StopBeforeLoadCancelsStart(t *testing.T) {
	h := newCueHarness(t, time.Second)
	h.fetcher.release = make(chan struct{})
	c := h.load(t, "seg.wav")
	c.Start(0)
	c.Stop()
	close(h.fetcher.release)
	waitFor(t, "cue load", c.Ready)

	if c.Playing() || h.out.Playing() != 0 {
		t.Error("Cancelled start still played")
	}
}

func TestCue_EndsNaturally(t *testing.T) {
	h := newCueHarness(t, time.Second)
	c := h.load(t, "seg.wav")
	waitFor(t, "cue load", c.Ready)

	c.Start(900 * time.Millisecond)
	h.out.Advance(200 * time.Millisecond)
	if c.Playing() {
		t.Error("Cue still playing past its end")
	}
	if err := c.Start(2 * time.Second); err != nil || c.Playing() {
		t.Errorf("Start past the end should be a silent no-op, err=%v", err)
	}
}

func TestCue_Gain(t *testing.T) {
	h := newCueHarness(t, time.Second)
	c := h.load(t, "seg.wav")
	waitFor(t, "cue load", c.Ready)
	c.Start(0)

	tests := []struct {
		gain   float64
		volume float64
		silent bool
	}{
		{1, 0, false},
		{0.5, -1, false},
		{0.25, -2, false},
		{0, -2, true},
		{3, 0, false},
	}
	for _, tt := range tests {
		c.SetGain(tt.gain)
		c.mu.Lock()
		v, s := c.volume.Volume, c.volume.Silent
		c.mu.Unlock()
		if v != tt.volume || s != tt.silent {
			t.Errorf("SetGain(%v): volume %v silent %v, want %v %v", tt.gain, v, s, tt.volume, tt.silent)
		}
	}
}

func TestCue_LoadFailure(t *testing.T) {
	h := newCueHarness(t, time.Second)
	c := h.load(t, "missing.wav")
	waitFor(t, "cue load", c.Ready)

	if err := c.Err(); !errors.Is(err, timeline.ErrCueFailed) {
		t.Fatalf("Expected ErrCueFailed, got %v", err)
	}
	if err := c.Start(0); err == nil {
		t.Error("Start on a failed cue should error")
	}
	if _, err := h.loader.LoadCue("s2", ""); !errors.Is(err, timeline.ErrCueFailed) {
		t.Errorf("Expected ErrCueFailed for an empty url, got %v", err)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []timeline.ElementEvent
}

func (l *eventLog) add(ev timeline.ElementEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) types() []timeline.ElementEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]timeline.ElementEventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func TestElement_Lifecycle(t *testing.T) {
	h := newCueHarness(t, 2*time.Second)
	el, err := OpenElement(context.Background(), h.loader.cache, h.out, "seg.wav")
	if err != nil {
		t.Fatalf("OpenElement failed: %v", err)
	}
	el.interval = time.Hour
	var log eventLog
	el.Notify(log.add)

	if el.Duration() != 2*time.Second {
		t.Errorf("Expected 2s duration, got %v", el.Duration())
	}

	el.SetCurrentTime(0.5)
	if err := el.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	h.out.Advance(500 * time.Millisecond)
	if got := el.CurrentTime(); got != 1.0 {
		t.Errorf("Expected 1.0s, got %v", got)
	}

	el.Pause()
	h.out.Advance(500 * time.Millisecond)
	if got := el.CurrentTime(); got != 1.0 {
		t.Errorf("Paused element advanced to %v", got)
	}

	el.SetCurrentTime(1.9)
	el.Play()
	h.out.Advance(200 * time.Millisecond)
	waitFor(t, "ended event", func() bool {
		types := log.types()
		return len(types) > 0 && types[len(types)-1] == timeline.EventEnded
	})

	want := []timeline.ElementEventType{timeline.EventPlay, timeline.EventPause, timeline.EventPlay, timeline.EventEnded}
	got := log.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected events %v, got %v", want, got)
	}

	// Playing again after the end starts over.
	el.Play()
	if got := el.CurrentTime(); got != 0 {
		t.Errorf("Expected restart from 0, got %v", got)
	}
	el.Close()
	if err := el.Play(); !errors.Is(err, ErrElementClosed) {
		t.Errorf("Expected ErrElementClosed, got %v", err)
	}
	t.Logf("✅ Element events: %v", got)
}

func TestElement_DrivesTimeline(t *testing.T) {
	h := newCueHarness(t, 3*time.Second)
	var (
		mu    sync.Mutex
		lines []string
	)
	tl := timeline.New(timeline.Options{
		Variant: timeline.TranscriptVariant,
		OpenElement: func(url string) (timeline.MediaElement, error) {
			return OpenElement(context.Background(), h.loader.cache, h.out, url)
		},
		PollInterval: time.Hour,
		Hooks: timeline.Hooks{OnActiveLineChange: func(l timeline.ActiveLine) {
			mu.Lock()
			lines = append(lines, l.Segment.ID)
			mu.Unlock()
		}},
	})
	defer tl.Close()

	ok := tl.Load(&timeline.Info{
		DurationMs: 3000,
		WavURL:     "seg.wav",
		Transcript: &timeline.Transcript{ID: "9", TranscriptLines: []timeline.TranscriptLine{
			{ID: "a", StartAtMs: 0, EndAtMs: 1500, Value: "one"},
			{ID: "b", StartAtMs: 1500, EndAtMs: 3000, Value: "two"},
		}},
	})
	if !ok {
		t.Fatal("Load rejected the payload")
	}
	if err := tl.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	h.out.Advance(1600 * time.Millisecond)
	tl.Pause()

	if st := tl.State(); st.CurrentMs != 1600 || st.Playing {
		t.Errorf("Expected paused at 1600ms, got %+v", st)
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(lines) != "[a b]" {
		t.Errorf("Expected active lines [a b], got %v", lines)
	}
}
