package studio

import (
	"sync"

	"marai-studio/internal/timeline"
)

// remotePlayer slaves the browser's video player to a self-driven clock.
type remotePlayer struct {
	hub *Hub
}

func (p remotePlayer) SeekTo(seconds float64) {
	p.hub.Broadcast(Message{Type: MsgPlayerSeek, Seconds: &seconds})
}

// remoteElement stands in for an audio element playing in the browser.
// Commands go out over the hub; the browser reports its clock back as
// element events.
type remoteElement struct {
	hub *Hub

	mu      sync.Mutex
	current float64
}

func newRemoteElement(hub *Hub) *remoteElement {
	return &remoteElement{hub: hub}
}

func (e *remoteElement) send(action string, secs float64) {
	e.hub.Broadcast(Message{Type: MsgElement, Action: action, Seconds: &secs})
}

func (e *remoteElement) Play() error {
	e.send("play", e.CurrentTime())
	return nil
}

func (e *remoteElement) Pause() {
	e.send("pause", e.CurrentTime())
}

func (e *remoteElement) SetCurrentTime(seconds float64) {
	e.mu.Lock()
	e.current = seconds
	e.mu.Unlock()
	e.send("seek", seconds)
}

func (e *remoteElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// observe records the position the browser reported.
func (e *remoteElement) observe(ev timeline.ElementEvent) {
	e.mu.Lock()
	e.current = ev.CurrentTime
	e.mu.Unlock()
}
