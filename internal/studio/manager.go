package studio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"marai-studio/internal/audio"
	"marai-studio/internal/timeline"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnknownVariant    = errors.New("unknown timeline variant")
	ErrIncompletePayload = errors.New("task payload is incomplete")
	ErrUpstream          = errors.New("marai backend request failed")
)

type Options struct {
	Variants       map[string]timeline.Variant
	DefaultVariant string

	FrameRate    int
	PollInterval time.Duration
	IdleTimeout  time.Duration

	// Output plays audio on this host. When nil the browser plays it and
	// the session sends it player and element commands.
	Output audio.Output
	Cache  *audio.CacheManager

	Edits   *EditLog
	Exports Exporter

	// Clock and Frames replace the real frame loop, for tests.
	Clock  timeline.Clock
	Frames timeline.FrameScheduler
}

// Manager owns the open studio sessions.
type Manager struct {
	ctx  context.Context
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Variants == nil {
		opts.Variants = timeline.Variants()
	}
	if opts.DefaultVariant == "" {
		opts.DefaultVariant = timeline.DubbingVariant.Name
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	return &Manager{ctx: ctx, opts: opts, sessions: make(map[string]*Session)}
}

func (m *Manager) Variant(name string) (timeline.Variant, error) {
	if name == "" {
		name = m.opts.DefaultVariant
	}
	v, ok := m.opts.Variants[name]
	if !ok {
		return timeline.Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}

// Create fetches a task and opens a session on it.
func (m *Manager) Create(ctx context.Context, backend Backend, slug, variant string) (*Session, error) {
	v, err := m.Variant(variant)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	bundle, err := backend.FetchTaskBundle(ctx, slug, InfoKindFor(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	s := newSession(m.ctx, uuid.NewString(), slug, v, backend, m.opts.Edits)
	s.Task = bundle.Task
	s.tl = timeline.New(m.timelineOptions(s))
	if !s.tl.Load(bundle.Info) {
		s.Close()
		return nil, fmt.Errorf("%s: %w", slug, ErrIncompletePayload)
	}
	s.unsub = s.tl.Subscribe(func(snap timeline.Snapshot) {
		s.hub.Broadcast(Message{Type: MsgSnapshot, Snapshot: &snap})
	})

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	activeSessions.Inc()
	loadDuration.Observe(time.Since(start).Seconds())
	log.Printf("🎛️ Session %s opened: %s (%s)", s.ID, slug, v.Name)
	return s, nil
}

func (m *Manager) timelineOptions(s *Session) timeline.Options {
	opts := timeline.Options{
		Variant:      s.Variant,
		Clock:        m.opts.Clock,
		Frames:       m.opts.Frames,
		PollInterval: m.opts.PollInterval,
		Pointer:      s.pointer,
		Hooks:        s.hooks(),
	}
	if opts.Frames == nil && s.Variant.Clock != timeline.ClockElement {
		s.frames = timeline.NewTickerFrames(m.opts.FrameRate, m.opts.Clock)
		opts.Frames = s.frames
	}

	if out := m.opts.Output; out != nil && m.opts.Cache != nil {
		loader := audio.NewLoader(s.ctx, m.opts.Cache, out)
		if m.opts.Clock != nil {
			loader = loader.WithClock(m.opts.Clock)
		}
		opts.Cues = loader
		opts.OpenElement = func(url string) (timeline.MediaElement, error) {
			el, err := audio.OpenElement(s.ctx, m.opts.Cache, out, url)
			if err != nil {
				return nil, err
			}
			return el, nil
		}
		return opts
	}

	opts.Player = remotePlayer{hub: s.hub}
	s.element = newRemoteElement(s.hub)
	opts.OpenElement = func(string) (timeline.MediaElement, error) {
		return s.element, nil
	}
	return opts
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	activeSessions.Dec()
	log.Printf("🛑 Session %s closed", id)
	return nil
}

// Export stores a session's edited payload.
func (m *Manager) Export(ctx context.Context, id string) (string, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if m.opts.Exports == nil {
		return "", errors.New("exports are not configured")
	}
	return s.Export(ctx, m.opts.Exports)
}

// Reap closes sessions nobody watched or used for the idle timeout.
func (m *Manager) Reap(now time.Time) int {
	var idle []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.hub.Clients() == 0 && now.Sub(s.LastSeen()) > m.opts.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		log.Printf("💤 Session %s idle, closing", id)
		m.Close(id)
	}
	return len(idle)
}

// Run reaps idle sessions until ctx ends, then closes the rest.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}
