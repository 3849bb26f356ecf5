package studio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"marai-studio/internal/marai"
	"marai-studio/internal/models"
	"marai-studio/internal/timeline"
)

type fakeBackend struct {
	mu       sync.Mutex
	info     *timeline.Info
	fetchErr error
	saveErr  error
	kinds    []marai.InfoKind
	saved    []timeline.TranscriptLine
	savedCh  chan timeline.TranscriptLine
}

func newFakeBackend(info *timeline.Info) *fakeBackend {
	return &fakeBackend{info: info, savedCh: make(chan timeline.TranscriptLine, 16)}
}

func (b *fakeBackend) FetchTaskBundle(ctx context.Context, slug string, kind marai.InfoKind) (*marai.TaskBundle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kinds = append(b.kinds, kind)
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return &marai.TaskBundle{Task: &marai.Task{Slug: slug, Name: "Episode 1"}, Info: b.info}, nil
}

func (b *fakeBackend) UpdateTranscriptSegment(ctx context.Context, slug string, line timeline.TranscriptLine) error {
	b.mu.Lock()
	err := b.saveErr
	if err == nil {
		b.saved = append(b.saved, line)
	}
	b.mu.Unlock()
	b.savedCh <- line
	return err
}

func dubbingInfo() *timeline.Info {
	return &timeline.Info{
		DurationMs: 10000,
		OriginalTranscript: &timeline.Transcript{ID: "o", TranscriptLines: []timeline.TranscriptLine{
			{ID: "1", StartAtMs: 0, EndAtMs: 2000, Value: "hello"},
		}},
		TranslatedTranscripts: &timeline.Transcript{ID: "t", TranscriptLines: []timeline.TranscriptLine{
			{ID: "11", StartAtMs: 0, EndAtMs: 2000, Value: "hola"},
			{ID: "12", StartAtMs: 3000, EndAtMs: 5000, Value: "adios"},
		}},
	}
}

func setupEditLog(t *testing.T) *EditLog {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	d, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	// The shared-cache database lives until its last connection closes.
	if sqlDB, err := d.DB(); err == nil {
		t.Cleanup(func() { sqlDB.Close() })
	}
	d.AutoMigrate(&models.SegmentEdit{})
	return NewEditLog(d)
}

func newTestManager(t *testing.T, edits *EditLog) (*Manager, *timeline.ManualFrames) {
	t.Helper()
	frames := timeline.NewManualFrames(timeline.NewMockClock(time.Unix(0, 0)))
	m := NewManager(context.Background(), Options{
		Clock:  frames.Clock,
		Frames: frames,
		Edits:  edits,
	})
	t.Cleanup(m.CloseAll)
	return m, frames
}

func waitSaved(t *testing.T, b *fakeBackend) timeline.TranscriptLine {
	t.Helper()
	select {
	case line := <-b.savedCh:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the upstream save")
	}
	return timeline.TranscriptLine{}
}

func TestInfoKindFor(t *testing.T) {
	tests := []struct {
		variant timeline.Variant
		want    marai.InfoKind
	}{
		{timeline.DubbingVariant, marai.InfoDubbing},
		{timeline.SubtitleVariant, marai.InfoSubtitle},
		{timeline.TranscriptVariant, marai.InfoTranscript},
		{timeline.Variant{Name: "custom", Require: []timeline.Channel{timeline.ChannelTranscript}}, marai.InfoTranscript},
	}
	for _, tt := range tests {
		if got := InfoKindFor(tt.variant); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.variant.Name, got, tt.want)
		}
	}
}

func TestManager_CreateAndErrors(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, newFakeBackend(dubbingInfo()), "ep-1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.Variant.Name != "dubbing" || s.Task.Name != "Episode 1" {
		t.Errorf("Unexpected session %+v", s)
	}
	if got, err := m.Get(s.ID); err != nil || got != s {
		t.Errorf("Get(%s) = %v, %v", s.ID, got, err)
	}
	snap := s.Snapshot()
	if len(snap.Tracks) != 2 || snap.State.DurationMs != 10000 {
		t.Errorf("Unexpected snapshot: %d tracks, %dms", len(snap.Tracks), snap.State.DurationMs)
	}

	if _, err := m.Create(ctx, newFakeBackend(dubbingInfo()), "ep-1", "karaoke"); !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("Expected ErrUnknownVariant, got %v", err)
	}

	failing := newFakeBackend(nil)
	failing.fetchErr = errors.New("502 bad gateway")
	if _, err := m.Create(ctx, failing, "ep-2", "dubbing"); !errors.Is(err, ErrUpstream) {
		t.Errorf("Expected ErrUpstream, got %v", err)
	}

	incomplete := dubbingInfo()
	incomplete.TranslatedTranscripts = nil
	if _, err := m.Create(ctx, newFakeBackend(incomplete), "ep-3", "dubbing"); !errors.Is(err, ErrIncompletePayload) {
		t.Errorf("Expected ErrIncompletePayload, got %v", err)
	}

	if err := m.Close(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after close, got %v", err)
	}
	if err := s.Apply(Command{Type: CmdPlay}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	t.Logf("✅ Sessions open/close cleanly, %d left", len(m.List()))
}

func TestSession_ApplyCommands(t *testing.T) {
	m, frames := newTestManager(t, nil)
	s, err := m.Create(context.Background(), newFakeBackend(dubbingInfo()), "ep-1", "dubbing")
	if err != nil {
		t.Fatal(err)
	}

	steps := []Command{
		{Type: CmdSeek, Ms: 3500},
		{Type: CmdZoom, Value: 4},
		{Type: CmdSolo, Channel: timeline.ChannelOriginal},
		{Type: CmdSelect, TrackID: "t", SegmentID: "12"},
		{Type: CmdPlay},
	}
	for _, cmd := range steps {
		if err := s.Apply(cmd); err != nil {
			t.Fatalf("%s failed: %v", cmd.Type, err)
		}
	}
	frames.Run(500*time.Millisecond, 100*time.Millisecond)

	snap := s.Snapshot()
	if !snap.State.Playing || snap.State.CurrentMs != 4000 {
		t.Errorf("Expected playing at 4000ms, got %+v", snap.State)
	}
	if snap.Zoom != 4 || snap.Selected == nil || snap.Selected.SegmentID != "12" {
		t.Errorf("Unexpected view: zoom=%v selected=%v", snap.Zoom, snap.Selected)
	}
	if snap.ActiveLine == nil || snap.ActiveLine.Segment.ID != "12" {
		t.Errorf("Expected active line 12, got %+v", snap.ActiveLine)
	}
	for _, tr := range snap.Tracks {
		want := 0.0
		if tr.Channel == timeline.ChannelOriginal {
			want = 1
		}
		if tr.Volume != want {
			t.Errorf("Solo: track %s volume %v, want %v", tr.ID, tr.Volume, want)
		}
	}

	bad := []struct {
		cmd  Command
		want error
	}{
		{Command{Type: "rewind"}, ErrUnknownCommand},
		{Command{Type: CmdSolo}, ErrBadCommand},
		{Command{Type: CmdElement}, ErrBadCommand},
		{Command{Type: CmdBeginDrag, TrackID: "t", SegmentID: "11", Mode: "spin"}, ErrBadCommand},
		{Command{Type: CmdSelect, TrackID: "t", SegmentID: "99"}, timeline.ErrSegmentNotFound},
		{Command{Type: CmdElement, Event: &timeline.ElementEvent{Type: timeline.EventPlay}}, timeline.ErrNoElement},
	}
	for _, tt := range bad {
		if err := s.Apply(tt.cmd); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.cmd.Type, tt.want, err)
		}
	}
}

func TestSession_DragCommitIsSavedUpstream(t *testing.T) {
	edits := setupEditLog(t)
	m, _ := newTestManager(t, edits)
	backend := newFakeBackend(dubbingInfo())
	s, err := m.Create(context.Background(), backend, "ep-1", "dubbing")
	if err != nil {
		t.Fatal(err)
	}

	// 10s at zoom 2 is 1600px, so 160px is one second.
	for _, cmd := range []Command{
		{Type: CmdBeginDrag, TrackID: "t", SegmentID: "11", Mode: "move", X: 100},
		{Type: CmdPointerMove, X: 180},
		{Type: CmdPointerUp, X: 260},
	} {
		if err := s.Apply(cmd); err != nil {
			t.Fatalf("%s failed: %v", cmd.Type, err)
		}
	}

	line := waitSaved(t, backend)
	if line.ID != "11" || line.StartAtMs != 1000 || line.EndAtMs != 3000 || line.Value != "hola" {
		t.Errorf("Unexpected saved line %+v", line)
	}

	s.Close()
	list, err := edits.List(context.Background(), "ep-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Synced || list[0].StartMs != 1000 || list[0].LineID != "11" {
		t.Errorf("Unexpected edit log %+v", list)
	}
	t.Logf("✅ Edit %d synced", list[0].ID)
}

func TestSession_FailedSaveCanBeRetried(t *testing.T) {
	edits := setupEditLog(t)
	m, _ := newTestManager(t, edits)
	backend := newFakeBackend(dubbingInfo())
	backend.saveErr = errors.New("503")
	s, err := m.Create(context.Background(), backend, "ep-1", "dubbing")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Apply(Command{Type: CmdSetValue, TrackID: "t", SegmentID: "12", Text: "hasta luego"}); err != nil {
		t.Fatal(err)
	}
	waitSaved(t, backend)

	ctx := context.Background()
	var pending []models.SegmentEdit
	for i := 0; i < 100; i++ {
		pending, _ = edits.Unsynced(ctx, "ep-1")
		if len(pending) == 1 && pending[0].SyncError != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(pending) != 1 || pending[0].SyncError != "503" || pending[0].Value != "hasta luego" {
		t.Fatalf("Expected one failed edit, got %+v", pending)
	}

	backend.mu.Lock()
	backend.saveErr = nil
	backend.mu.Unlock()

	n, err := s.RetryUnsynced(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RetryUnsynced = %d, %v", n, err)
	}
	if line := waitSaved(t, backend); line.Value != "hasta luego" || line.ID != "12" {
		t.Errorf("Unexpected retried line %+v", line)
	}
	s.Close()

	if left, _ := edits.Unsynced(ctx, "ep-1"); len(left) != 0 {
		t.Errorf("Expected no unsynced edits, got %+v", left)
	}
	all, _ := edits.List(ctx, "ep-1")
	if len(all) != 1 {
		t.Errorf("Retry must not duplicate the edit, got %d rows", len(all))
	}
}

type memExporter struct {
	slug string
	data []byte
}

func (e *memExporter) PutExport(ctx context.Context, slug string, data []byte, at time.Time) (string, error) {
	e.slug, e.data = slug, data
	return "s3://exports/" + slug + "/x.json", nil
}

func TestSession_ExportCarriesEdits(t *testing.T) {
	m, _ := newTestManager(t, nil)
	s, err := m.Create(context.Background(), newFakeBackend(dubbingInfo()), "ep-1", "dubbing")
	if err != nil {
		t.Fatal(err)
	}
	s.Apply(Command{Type: CmdSetValue, TrackID: "t", SegmentID: "11", Text: "buenos dias"})

	exp := &memExporter{}
	url, err := s.Export(context.Background(), exp)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if url != "s3://exports/ep-1/x.json" || !strings.Contains(string(exp.data), `"buenos dias"`) {
		t.Errorf("Unexpected export %s: %s", url, exp.data)
	}
	if !strings.Contains(string(exp.data), `"id":11`) {
		t.Errorf("Numeric line ids should stay numeric: %s", exp.data)
	}
}

func TestManager_ReapIdle(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.opts.IdleTimeout = time.Minute
	s, err := m.Create(context.Background(), newFakeBackend(dubbingInfo()), "ep-1", "dubbing")
	if err != nil {
		t.Fatal(err)
	}

	if n := m.Reap(time.Now()); n != 0 {
		t.Errorf("Fresh session reaped")
	}
	if n := m.Reap(s.LastSeen().Add(2 * time.Minute)); n != 1 {
		t.Errorf("Expected idle session reaped, got %d", n)
	}
	if len(m.List()) != 0 {
		t.Error("Reaped session still listed")
	}
}

func TestSession_WebsocketStream(t *testing.T) {
	m, frames := newTestManager(t, nil)
	s, err := m.Create(context.Background(), newFakeBackend(dubbingInfo()), "ep-1", "dubbing")
	if err != nil {
		t.Fatal(err)
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.Serve(conn)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil || first.Type != MsgSnapshot || first.Snapshot == nil {
		t.Fatalf("Expected initial snapshot, got %+v %v", first, err)
	}

	msgs := make(chan Message, 64)
	go func() {
		defer close(msgs)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			msgs <- msg
		}
	}()

	for _, cmd := range []Command{{Type: CmdSeek, Ms: 2000}, {Type: CmdPlay}} {
		if err := conn.WriteJSON(cmd); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	timeout := time.After(3 * time.Second)
	for !seen[MsgPlayerSeek] || !seen[MsgPlayerState] {
		select {
		case msg, ok := <-msgs:
			if !ok {
				t.Fatalf("Connection closed, saw %v", seen)
			}
			seen[msg.Type] = true
			if msg.Type == MsgPlayerSeek && (msg.Seconds == nil || *msg.Seconds != 2) {
				t.Errorf("Unexpected player seek %+v", msg)
			}
		case <-timeout:
			t.Fatalf("Missing messages, saw %v", seen)
		}
	}
	frames.Step(100 * time.Millisecond)
	t.Logf("✅ Websocket saw %v", seen)
}

func TestSession_RemoteElementDrivesTranscript(t *testing.T) {
	m, _ := newTestManager(t, nil)
	info := &timeline.Info{
		DurationMs: 4000,
		WavURL:     "s3://b/full.wav",
		Transcript: &timeline.Transcript{ID: "tr", TranscriptLines: []timeline.TranscriptLine{
			{ID: "a", StartAtMs: 0, EndAtMs: 1500, Value: "one"},
			{ID: "b", StartAtMs: 1500, EndAtMs: 3000, Value: "two"},
		}},
	}
	backend := newFakeBackend(info)
	s, err := m.Create(context.Background(), backend, "ep-t", "transcript")
	if err != nil {
		t.Fatal(err)
	}
	if backend.kinds[0] != marai.InfoTranscript {
		t.Errorf("Expected transcript_info fetch, got %v", backend.kinds)
	}

	if err := s.Apply(Command{Type: CmdPlay}); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	s.Apply(Command{Type: CmdElement, Event: &timeline.ElementEvent{Type: timeline.EventTimeUpdate, CurrentTime: 1.6}})

	snap := s.Snapshot()
	if !snap.State.Playing || snap.State.CurrentMs != 1600 {
		t.Errorf("Expected playing at 1600ms, got %+v", snap.State)
	}
	if snap.ActiveLine == nil || snap.ActiveLine.Segment.ID != "b" {
		t.Errorf("Expected line b active, got %+v", snap.ActiveLine)
	}

	s.Apply(Command{Type: CmdElement, Event: &timeline.ElementEvent{Type: timeline.EventPause, CurrentTime: 2.0}})
	if st := s.Snapshot().State; st.Playing || st.CurrentMs != 2000 {
		t.Errorf("Expected paused at 2000ms, got %+v", st)
	}
}
