package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"marai-studio/internal/marai"
	"marai-studio/internal/timeline"

	"github.com/gorilla/websocket"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadCommand     = errors.New("malformed command")
	ErrSessionClosed  = errors.New("session closed")
	ErrNothingToSave  = errors.New("nothing to export")
)

// Exporter stores edited payloads. *storage.Client satisfies it.
type Exporter interface {
	PutExport(ctx context.Context, slug string, data []byte, at time.Time) (string, error)
}

// pushTimeout bounds one upstream save.
const pushTimeout = 30 * time.Second

type editJob struct {
	trackID   string
	segmentID string
	line      timeline.TranscriptLine
	editID    uint
}

// Session is one open task editor: a timeline, the clients watching it
// and the queue pushing committed edits upstream.
type Session struct {
	ID        string           `json:"id"`
	Slug      string           `json:"slug"`
	Variant   timeline.Variant `json:"variant"`
	Task      *marai.Task      `json:"task"`
	CreatedAt time.Time        `json:"created_at"`

	tl      *timeline.Timeline
	pointer *timeline.PointerBus
	hub     *Hub
	element *remoteElement
	frames  *timeline.TickerFrames
	backend Backend
	edits   *EditLog
	unsub   func()

	lastSeen atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	queue      chan editJob
	workerDone chan struct{}
}

func newSession(ctx context.Context, id, slug string, v timeline.Variant, backend Backend, edits *EditLog) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:         id,
		Slug:       slug,
		Variant:    v,
		CreatedAt:  time.Now(),
		pointer:    timeline.NewPointerBus(),
		hub:        NewHub(),
		backend:    backend,
		edits:      edits,
		ctx:        sctx,
		cancel:     cancel,
		queue:      make(chan editJob, 64),
		workerDone: make(chan struct{}),
	}
	s.touch()
	go s.syncLoop()
	return s
}

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen is when a client last used the session.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) Timeline() *timeline.Timeline { return s.tl }

func (s *Session) Hub() *Hub { return s.hub }

func (s *Session) Snapshot() timeline.Snapshot {
	s.touch()
	return s.tl.Snapshot()
}

func (s *Session) hooks() timeline.Hooks {
	return timeline.Hooks{
		OnActiveLineChange: func(line timeline.ActiveLine) {
			s.hub.Broadcast(Message{Type: MsgActiveLine, ActiveLine: &line})
		},
		OnPlayerStateChange: func(st timeline.PlayerState) {
			s.hub.Broadcast(Message{Type: MsgPlayerState, PlayerState: &st})
		},
		OnSegmentEdited: s.segmentEdited,
	}
}

func (s *Session) segmentEdited(trackID, segmentID string, _ timeline.Range) {
	line, ok := s.tl.Line(trackID, segmentID)
	if !ok {
		return
	}
	s.enqueue(editJob{trackID: trackID, segmentID: segmentID, line: line})
}

func (s *Session) enqueue(job editJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- job:
	default:
		log.Printf("⚠️ Session %s: edit queue full, dropping edit of %s", s.ID, job.segmentID)
		editsTotal.WithLabelValues("dropped").Inc()
	}
}

// syncLoop pushes edits upstream one at a time, in commit order.
func (s *Session) syncLoop() {
	defer close(s.workerDone)
	for job := range s.queue {
		s.push(job)
	}
}

func (s *Session) push(job editJob) {
	if s.edits != nil && job.editID == 0 {
		rec, err := s.edits.Record(s.ctx, s.Slug, job.trackID, job.segmentID, job.line)
		if err != nil {
			log.Printf("⚠️ Session %s: failed to record edit: %v", s.ID, err)
		} else {
			job.editID = rec.ID
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, pushTimeout)
	err := s.backend.UpdateTranscriptSegment(ctx, s.Slug, job.line)
	cancel()
	result := EditResult{TrackID: job.trackID, SegmentID: job.segmentID, LineID: string(job.line.ID), Synced: err == nil}
	if err != nil {
		log.Printf("❌ Session %s: failed to save segment %s: %v", s.ID, job.segmentID, err)
		result.Error = err.Error()
		editsTotal.WithLabelValues("failed").Inc()
	} else {
		editsTotal.WithLabelValues("synced").Inc()
	}

	if s.edits != nil && job.editID != 0 {
		if merr := s.edits.MarkSynced(s.ctx, job.editID, err); merr != nil {
			log.Printf("⚠️ Session %s: failed to mark edit %d: %v", s.ID, job.editID, merr)
		}
	}
	s.hub.Broadcast(Message{Type: MsgEdit, Edit: &result})
}

// RetryUnsynced queues the task's edits that never reached the backend.
func (s *Session) RetryUnsynced(ctx context.Context) (int, error) {
	if s.edits == nil {
		return 0, nil
	}
	pending, err := s.edits.Unsynced(ctx, s.Slug)
	if err != nil {
		return 0, err
	}
	for _, e := range pending {
		s.enqueue(editJob{trackID: e.TrackID, segmentID: e.SegmentID, line: editLine(e), editID: e.ID})
	}
	return len(pending), nil
}

// Export stores the payload with all edits applied and returns its URL.
func (s *Session) Export(ctx context.Context, store Exporter) (string, error) {
	info := s.tl.Info()
	if info == nil {
		return "", ErrNothingToSave
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	url, err := store.PutExport(ctx, s.Slug, data, time.Now())
	if err != nil {
		return "", err
	}
	log.Printf("💾 Session %s exported to %s", s.ID, url)
	return url, nil
}

// Apply runs one client command against the timeline.
func (s *Session) Apply(cmd Command) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.touch()

	tl := s.tl
	switch cmd.Type {
	case CmdPlay:
		return tl.Play()
	case CmdPause:
		tl.Pause()
	case CmdStop:
		tl.Stop()
	case CmdToggle:
		return tl.TogglePlayback()
	case CmdSeek:
		tl.SeekMs(cmd.Ms)
	case CmdNudge:
		tl.Nudge(cmd.Ms)
	case CmdSeekPixel:
		tl.SeekPixel(cmd.X)
	case CmdZoom:
		tl.SetZoom(cmd.Value)
	case CmdMasterVolume:
		tl.SetMasterVolume(cmd.Value)
	case CmdTrackVolume:
		return tl.SetTrackVolume(cmd.TrackID, cmd.Value)
	case CmdSolo:
		if cmd.Channel == "" {
			return fmt.Errorf("%w: solo needs a channel", ErrBadCommand)
		}
		tl.Solo(cmd.Channel)
	case CmdSelect:
		return tl.SelectSegment(cmd.TrackID, cmd.SegmentID)
	case CmdClick:
		return tl.ClickSegment(cmd.TrackID, cmd.SegmentID)
	case CmdFocus:
		return tl.FocusLine(cmd.SegmentID)
	case CmdPointerDown:
		_, err := tl.PointerDown(cmd.TrackID, cmd.SegmentID, cmd.X)
		return err
	case CmdBeginDrag:
		mode, err := timeline.ParseDragMode(cmd.Mode)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadCommand, err)
		}
		return tl.BeginDrag(cmd.TrackID, cmd.SegmentID, mode, cmd.X)
	case CmdPointerMove:
		s.pointer.Move(cmd.X)
	case CmdPointerUp:
		s.pointer.Up(cmd.X)
	case CmdCancelDrag:
		return tl.CancelDrag()
	case CmdSetValue:
		return tl.SetSegmentValue(cmd.TrackID, cmd.SegmentID, cmd.Text)
	case CmdElement:
		if cmd.Event == nil {
			return fmt.Errorf("%w: element command without event", ErrBadCommand)
		}
		if s.element != nil {
			s.element.observe(*cmd.Event)
		}
		return tl.ElementEvent(*cmd.Event)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}

// Serve streams the session to a websocket client and applies the
// commands it sends until the connection ends.
func (s *Session) Serve(conn *websocket.Conn) {
	snap := s.Snapshot()
	s.hub.Serve(conn, &Message{Type: MsgSnapshot, Snapshot: &snap}, func(cmd Command) {
		if err := s.Apply(cmd); err != nil {
			s.hub.Broadcast(Message{Type: MsgError, Error: err.Error()})
		}
	})
}

// Close stops playback, flushes queued edits and disconnects clients.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	if s.unsub != nil {
		s.unsub()
	}
	if s.tl != nil {
		s.tl.Close()
	}
	if s.frames != nil {
		s.frames.Close()
	}
	<-s.workerDone
	s.cancel()

	s.hub.Broadcast(Message{Type: MsgClosed})
	s.hub.Close()
}
