package timeline

import (
	"log"
	"sync"
	"time"
)

// PlayerState is reported to hosts whenever playback starts or stops.
type PlayerState struct {
	Playing bool `json:"playing"`
}

// Hooks are the host callbacks. They run after the timeline lock is
// released, so they may call back into the timeline.
type Hooks struct {
	OnActiveLineChange  func(ActiveLine)
	OnPlayerStateChange func(PlayerState)
	OnSegmentEdited     func(trackID, segmentID string, r Range)
	OnInfoChange        func(*Info)
}

type Options struct {
	Variant Variant

	// Clock and Frames drive a self-driven transport. Frames defaults to a
	// 60fps ticker.
	Clock  Clock
	Frames FrameScheduler
	Player Player

	// OpenElement builds the media element of an element-driven transport
	// from the payload's audio URL.
	OpenElement  func(url string) (MediaElement, error)
	PollInterval time.Duration

	Cues    CueLoader
	Pointer PointerEvents
	Hooks   Hooks
}

// Timeline binds a transport clock, the track model, the drag editor, the
// cue scheduler and the active-line resolver into one component. All
// state changes are serialized behind one lock.
type Timeline struct {
	mu sync.Mutex

	opts    Options
	variant Variant

	model *Model
	lines LineIndex
	info  *Info

	transport  Transport
	clockGen   uint64
	elementURL string
	ownFrames  *TickerFrames

	state  State
	zoom   float64
	master float64

	editor   Editor
	pointer  PointerEvents
	cues     *CueScheduler
	resolver *Resolver

	active    ActiveLine
	hasActive bool
	selected  *SegmentRef

	subs    map[int]func(Snapshot)
	nextSub int
	closed  bool
}

func New(opts Options) *Timeline {
	v := opts.Variant
	if v.Name == "" {
		v = DubbingVariant
	}
	v = v.normalized()

	t := &Timeline{
		opts:     opts,
		variant:  v,
		model:    NewModel(DefaultDurationMs),
		lines:    make(LineIndex),
		zoom:     v.Zoom,
		master:   v.MasterVolume,
		pointer:  opts.Pointer,
		resolver: NewResolver(ChannelFilter(v.CaptionChannel)),
		subs:     make(map[int]func(Snapshot)),
	}
	if t.pointer == nil {
		t.pointer = NewPointerBus()
	}
	if v.AudioCues {
		t.cues = NewCueScheduler(opts.Cues)
	}

	switch v.Clock {
	case ClockElement:
		t.transport = t.newElementClock(nil, DefaultDurationMs)
	default:
		frames := opts.Frames
		if frames == nil {
			t.ownFrames = NewTickerFrames(60, opts.Clock)
			frames = t.ownFrames
		}
		gen := t.nextClockGen()
		t.transport = NewFrameClock(opts.Clock, frames, opts.Player, DefaultDurationMs, func(st State) {
			t.handleClock(gen, st)
		})
	}
	t.state = t.transport.State()
	return t
}

func (t *Timeline) nextClockGen() uint64 {
	t.clockGen++
	return t.clockGen
}

func (t *Timeline) newElementClock(el MediaElement, durationMs int64) *ElementClock {
	gen := t.nextClockGen()
	c := NewElementClock(el, durationMs, t.opts.PollInterval, func(st State) {
		t.handleClock(gen, st)
	})
	c.SetVolume(t.master)
	return c
}

func (t *Timeline) Variant() Variant { return t.variant }

// Pointer is the pointer source drags listen on.
func (t *Timeline) Pointer() PointerEvents { return t.pointer }

func (t *Timeline) mapperLocked() Mapper {
	return NewMapper(t.model.DurationMs(), t.zoom)
}

// Load replaces the tracks from an info payload. It returns false and
// changes nothing when the payload is incomplete.
func (t *Timeline) Load(info *Info) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	loaded, ok := LoadTracks(info, t.variant)
	if !ok {
		t.mu.Unlock()
		return false
	}

	if t.editor.Dragging() {
		t.editor.End()
	}
	t.model.Replace(loaded.DurationMs, loaded.Tracks)
	t.lines = loaded.Lines
	t.info = info.Clone()
	if t.cues != nil {
		t.cues.Reset()
	}
	t.resolver.Reset()
	if t.selected != nil {
		if _, err := t.model.Segment(t.selected.TrackID, t.selected.SegmentID); err != nil {
			t.selected = nil
		}
	}

	tr := t.transport
	reopen := t.variant.Clock == ClockElement && info.WavURL != t.elementURL
	if reopen {
		t.elementURL = info.WavURL
	}
	t.mu.Unlock()

	if reopen {
		el := t.openElement(info.WavURL)
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			closeElement(el)
			return false
		}
		old := t.transport
		tr = t.newElementClock(el, loaded.DurationMs)
		t.transport = tr
		t.state = tr.State()
		t.mu.Unlock()
		old.Close()
	}
	tr.SetDuration(loaded.DurationMs)

	log.Printf("🎬 Timeline loaded: %s, %d tracks, %dms", t.variant.Name, len(loaded.Tracks), loaded.DurationMs)
	t.refresh()
	return true
}

func (t *Timeline) openElement(url string) MediaElement {
	if url == "" || t.opts.OpenElement == nil {
		return nil
	}
	el, err := t.opts.OpenElement(url)
	if err != nil {
		log.Printf("❌ Failed to open media element %s: %v", url, err)
		return nil
	}
	return el
}

func (t *Timeline) Play() error {
	tr, err := t.currentTransport()
	if err != nil {
		return err
	}
	return tr.Play()
}

func (t *Timeline) Pause() {
	if tr, err := t.currentTransport(); err == nil {
		tr.Pause()
	}
}

func (t *Timeline) Stop() {
	if tr, err := t.currentTransport(); err == nil {
		tr.Stop()
	}
}

func (t *Timeline) TogglePlayback() error {
	tr, err := t.currentTransport()
	if err != nil {
		return err
	}
	if tr.State().Playing {
		tr.Pause()
		return nil
	}
	return tr.Play()
}

// SeekMs moves the playhead, clamped into the track.
func (t *Timeline) SeekMs(ms int64) {
	if tr, err := t.currentTransport(); err == nil {
		tr.SeekMs(ms)
	}
}

// Nudge seeks relative to the current position.
func (t *Timeline) Nudge(deltaMs int64) {
	tr, err := t.currentTransport()
	if err != nil {
		return
	}
	tr.SeekMs(tr.State().CurrentMs + deltaMs)
}

// SeekPixel seeks to a click on the lane at x.
func (t *Timeline) SeekPixel(x float64) {
	t.mu.Lock()
	ms := t.mapperLocked().PixelToTime(x)
	t.mu.Unlock()
	t.SeekMs(ms)
}

func (t *Timeline) currentTransport() (Transport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	return t.transport, nil
}

func (t *Timeline) SetZoom(z float64) {
	t.mu.Lock()
	t.zoom = ClampZoom(z)
	t.mu.Unlock()
	t.refresh()
}

func (t *Timeline) SetMasterVolume(v float64) {
	t.mu.Lock()
	t.master = clampUnit(v)
	if t.cues != nil {
		t.cues.ApplyGains(t.model.Tracks(), t.master)
	}
	ec, _ := t.transport.(*ElementClock)
	master := t.master
	t.mu.Unlock()

	if ec != nil {
		ec.SetVolume(master)
	}
	t.refresh()
}

func (t *Timeline) SetTrackVolume(trackID string, v float64) error {
	t.mu.Lock()
	if err := t.model.SetTrackVolume(trackID, v); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.cues != nil {
		t.cues.ApplyGains(t.model.Tracks(), t.master)
	}
	t.mu.Unlock()
	t.refresh()
	return nil
}

// Solo plays one channel and mutes the other voice tracks.
func (t *Timeline) Solo(ch Channel) {
	t.mu.Lock()
	changed := t.model.Solo(ch)
	if changed && t.cues != nil {
		t.cues.ApplyGains(t.model.Tracks(), t.master)
	}
	t.mu.Unlock()
	if changed {
		t.refresh()
	}
}

// SelectSegment marks a segment as selected. Empty ids clear it.
func (t *Timeline) SelectSegment(trackID, segmentID string) error {
	t.mu.Lock()
	if trackID == "" && segmentID == "" {
		t.selected = nil
		t.mu.Unlock()
		t.refresh()
		return nil
	}
	if _, err := t.model.Segment(trackID, segmentID); err != nil {
		t.mu.Unlock()
		return err
	}
	t.selected = &SegmentRef{TrackID: trackID, SegmentID: segmentID}
	t.mu.Unlock()
	t.refresh()
	return nil
}

// ClickSegment selects a segment and seeks to its start.
func (t *Timeline) ClickSegment(trackID, segmentID string) error {
	t.mu.Lock()
	seg, err := t.model.Segment(trackID, segmentID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.selected = &SegmentRef{TrackID: trackID, SegmentID: segmentID}
	t.mu.Unlock()

	t.SeekMs(seg.StartMs)
	t.refresh()
	return nil
}

// FocusLine seeks to a caption line picked by the host. The line is not
// reported back through OnActiveLineChange.
func (t *Timeline) FocusLine(segmentID string) error {
	t.mu.Lock()
	var (
		found Segment
		track Track
		ok    bool
	)
	for _, tr := range t.model.Tracks() {
		if tr.Channel != t.variant.CaptionChannel {
			continue
		}
		for _, s := range tr.Segments {
			if s.ID == segmentID {
				found, track, ok = s, tr, true
				break
			}
		}
		if ok {
			break
		}
	}
	if !ok {
		t.mu.Unlock()
		return ErrSegmentNotFound
	}
	t.resolver.Mark(track.ID, found.ID)
	t.mu.Unlock()

	t.SeekMs(found.StartMs)
	return nil
}

// PointerDown starts a drag on a segment, picking the mode from where on
// the box x falls.
func (t *Timeline) PointerDown(trackID, segmentID string, x float64) (DragMode, error) {
	t.mu.Lock()
	seg, err := t.model.Segment(trackID, segmentID)
	mode := HitTest(t.mapperLocked(), seg, x)
	t.mu.Unlock()
	if err != nil {
		return DragMove, err
	}
	return mode, t.BeginDrag(trackID, segmentID, mode, x)
}

// BeginDrag enters the dragging state and attaches the pointer listeners.
func (t *Timeline) BeginDrag(trackID, segmentID string, mode DragMode, x float64) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	track, err := t.model.Track(trackID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	seg, err := t.model.Segment(trackID, segmentID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if _, err := t.editor.Begin(track, seg, mode, x, t.mapperLocked()); err != nil {
		t.mu.Unlock()
		return err
	}
	t.editor.attach(t.pointer.Listen(t.pointerMove, t.pointerUp))
	t.selected = &SegmentRef{TrackID: trackID, SegmentID: segmentID}
	seekOnGrab := t.variant.SeekOnGrab
	t.mu.Unlock()

	if seekOnGrab {
		t.SeekMs(seg.StartMs)
	}
	t.refresh()
	return nil
}

func (t *Timeline) pointerMove(x float64) {
	t.mu.Lock()
	if !t.editor.Dragging() {
		t.mu.Unlock()
		return
	}
	if _, err := t.editor.Apply(t.model, x); err != nil {
		log.Printf("⚠️ Drag aborted: %v", err)
		t.editor.End()
	}
	t.mu.Unlock()
	t.refresh()
}

func (t *Timeline) pointerUp(x float64) {
	t.mu.Lock()
	if !t.editor.Dragging() {
		t.mu.Unlock()
		return
	}
	_, applyErr := t.editor.Apply(t.model, x)
	session, _ := t.editor.End()
	if applyErr != nil {
		t.mu.Unlock()
		log.Printf("⚠️ Drag aborted: %v", applyErr)
		t.refresh()
		return
	}

	seg, err := t.model.Segment(session.TrackID, session.SegmentID)
	if err != nil || seg.Range() == session.Original() {
		t.mu.Unlock()
		t.refresh()
		return
	}
	info := t.syncInfoLocked(session.TrackID, seg)
	hooks := t.opts.Hooks
	t.mu.Unlock()

	if hooks.OnSegmentEdited != nil {
		hooks.OnSegmentEdited(session.TrackID, session.SegmentID, seg.Range())
	}
	if info != nil && hooks.OnInfoChange != nil {
		hooks.OnInfoChange(info)
	}
	t.refresh()
}

// CancelDrag leaves the dragging state, putting the segment back where
// it was.
func (t *Timeline) CancelDrag() error {
	t.mu.Lock()
	session, err := t.editor.End()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.model.updateSegment(session.TrackID, session.SegmentID, func(s Segment) Segment {
		s.StartMs, s.EndMs = session.OriginalStartMs, session.OriginalEndMs
		return s
	})
	t.mu.Unlock()
	t.refresh()
	return nil
}

// SetSegmentValue edits a segment's text.
func (t *Timeline) SetSegmentValue(trackID, segmentID, value string) error {
	t.mu.Lock()
	seg, err := t.model.SetSegmentValue(trackID, segmentID, value)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	info := t.syncInfoLocked(trackID, seg)
	hooks := t.opts.Hooks
	t.mu.Unlock()

	if hooks.OnSegmentEdited != nil {
		hooks.OnSegmentEdited(trackID, segmentID, seg.Range())
	}
	if info != nil && hooks.OnInfoChange != nil {
		hooks.OnInfoChange(info)
	}
	t.refresh()
	return nil
}

func (t *Timeline) syncInfoLocked(trackID string, seg Segment) *Info {
	info, ok := t.lines.SyncSegment(t.info, trackID, seg)
	if !ok {
		return nil
	}
	t.info = info
	return info
}

// Line returns the payload line behind a segment, as last synced.
func (t *Timeline) Line(trackID, segmentID string) (TranscriptLine, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lines.Line(t.info, trackID, segmentID)
}

// ElementEvent feeds an event from a remote media element into an
// element-driven transport.
func (t *Timeline) ElementEvent(ev ElementEvent) error {
	t.mu.Lock()
	ec, ok := t.transport.(*ElementClock)
	t.mu.Unlock()
	if !ok {
		return ErrNoElement
	}
	ec.HandleEvent(ev)
	return nil
}

// Subscribe registers fn for every new snapshot. It returns the
// unsubscribe function.
func (t *Timeline) Subscribe(fn func(Snapshot)) func() {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Timeline) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Timeline) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timeline) Tracks() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model.Tracks()
}

// Info returns the payload with all edits synced into it.
func (t *Timeline) Info() *Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// Close stops playback and releases the frame loop, the element and all
// cues. Hooks and subscribers are not called afterwards.
func (t *Timeline) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.editor.Dragging() {
		t.editor.End()
	}
	if t.cues != nil {
		t.cues.Close()
	}
	t.subs = make(map[int]func(Snapshot))
	tr := t.transport
	frames := t.ownFrames
	t.mu.Unlock()

	tr.Close()
	if frames != nil {
		frames.Close()
	}
}

// handleClock takes a state from the transport of generation gen and
// recomputes everything derived from the playhead.
func (t *Timeline) handleClock(gen uint64, st State) {
	t.mu.Lock()
	if t.closed || gen != t.clockGen || st.Seq <= t.state.Seq {
		t.mu.Unlock()
		return
	}
	prev := t.state
	t.state = st

	// A frame can overtake the seek that caused it; the newer state still
	// carries the jump count, so cues are interrupted either way.
	if st.Jumps > prev.Jumps && t.cues != nil {
		t.cues.Interrupt()
	}
	line, lineChanged := t.deriveLocked()

	var player *PlayerState
	if prev.Playing != st.Playing {
		player = &PlayerState{Playing: st.Playing}
	}
	hooks := t.opts.Hooks
	snap, subs := t.publishLocked()
	t.mu.Unlock()

	if lineChanged && hooks.OnActiveLineChange != nil {
		hooks.OnActiveLineChange(line)
	}
	if player != nil && hooks.OnPlayerStateChange != nil {
		hooks.OnPlayerStateChange(*player)
	}
	for _, fn := range subs {
		fn(snap)
	}
}

// deriveLocked runs the resolver and cue scheduler for the current state.
func (t *Timeline) deriveLocked() (ActiveLine, bool) {
	tracks := t.model.Tracks()
	ms := t.state.CurrentMs

	t.active, t.hasActive = Resolve(tracks, ms, ChannelFilter(t.variant.CaptionChannel))

	var (
		line    ActiveLine
		changed bool
	)
	if t.variant.CaptionSync {
		line, changed = t.resolver.Update(tracks, ms)
	}
	if t.cues != nil {
		t.cues.Update(tracks, ms, t.state.Playing, t.master)
	}
	return line, changed
}

func (t *Timeline) publishLocked() (Snapshot, []func(Snapshot)) {
	if len(t.subs) == 0 {
		return Snapshot{}, nil
	}
	subs := make([]func(Snapshot), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return t.snapshotLocked(), subs
}

// refresh recomputes derived state after a model or view change and
// pushes a snapshot.
func (t *Timeline) refresh() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	line, lineChanged := t.deriveLocked()
	hooks := t.opts.Hooks
	snap, subs := t.publishLocked()
	t.mu.Unlock()

	if lineChanged && hooks.OnActiveLineChange != nil {
		hooks.OnActiveLineChange(line)
	}
	for _, fn := range subs {
		fn(snap)
	}
}
