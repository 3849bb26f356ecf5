package timeline

import (
	"errors"
	"fmt"
)

// EdgeHandlePx is the width of the resize handles at both ends of a
// segment box.
const EdgeHandlePx = 4.0

var (
	ErrAlreadyDragging = errors.New("drag already in progress")
	ErrNotDragging     = errors.New("no drag in progress")
	ErrUnknownDragMode = errors.New("unknown drag mode")
)

type DragMode int

const (
	DragMove DragMode = iota
	DragResizeLeft
	DragResizeRight
)

func (m DragMode) String() string {
	switch m {
	case DragMove:
		return "move"
	case DragResizeLeft:
		return "resize-left"
	case DragResizeRight:
		return "resize-right"
	}
	return fmt.Sprintf("DragMode(%d)", int(m))
}

func ParseDragMode(s string) (DragMode, error) {
	switch s {
	case "move", "":
		return DragMove, nil
	case "resize-left":
		return DragResizeLeft, nil
	case "resize-right":
		return DragResizeRight, nil
	}
	return DragMove, fmt.Errorf("%w: %q", ErrUnknownDragMode, s)
}

func (m DragMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// HitTest picks the drag mode for a pointer-down at lane x over seg.
func HitTest(mp Mapper, seg Segment, x float64) DragMode {
	left := mp.TimeToPixel(seg.StartMs)
	right := mp.TimeToPixel(seg.EndMs)
	switch {
	case x <= left+EdgeHandlePx:
		return DragResizeLeft
	case x >= right-EdgeHandlePx:
		return DragResizeRight
	}
	return DragMove
}

// DragSession is the geometry captured at pointer-down.
type DragSession struct {
	TrackID         string   `json:"track_id"`
	SegmentID       string   `json:"segment_id"`
	OriginalStartMs int64    `json:"original_start_ms"`
	OriginalEndMs   int64    `json:"original_end_ms"`
	PointerStartX   float64  `json:"pointer_start_x"`
	Mode            DragMode `json:"mode"`

	mapper  Mapper
	release func()
}

func (s DragSession) Original() Range {
	return Range{StartMs: s.OriginalStartMs, EndMs: s.OriginalEndMs}
}

// Editor is the drag/resize state machine: Idle until Begin, Dragging
// until End. Not safe for concurrent use; Timeline guards it.
type Editor struct {
	session *DragSession
}

func (e *Editor) Dragging() bool { return e.session != nil }

func (e *Editor) Session() (DragSession, bool) {
	if e.session == nil {
		return DragSession{}, false
	}
	return *e.session, true
}

// Begin enters Dragging. The mapper is the one in effect at pointer-down
// and is used for the whole drag.
func (e *Editor) Begin(track Track, seg Segment, mode DragMode, x float64, mp Mapper) (DragSession, error) {
	if e.session != nil {
		return DragSession{}, ErrAlreadyDragging
	}
	e.session = &DragSession{
		TrackID:         track.ID,
		SegmentID:       seg.ID,
		OriginalStartMs: seg.StartMs,
		OriginalEndMs:   seg.EndMs,
		PointerStartX:   x,
		Mode:            mode,
		mapper:          mp,
	}
	return *e.session, nil
}

// attach records the listener release func for End.
func (e *Editor) attach(release func()) {
	if e.session != nil {
		e.session.release = release
	}
}

// Apply moves the dragged segment for a pointer at x. The delta is always
// measured from the pointer-down position and applied to the original
// geometry.
func (e *Editor) Apply(m *Model, x float64) (Segment, error) {
	s := e.session
	if s == nil {
		return Segment{}, ErrNotDragging
	}
	delta := s.mapper.PixelToTime(x - s.PointerStartX)

	switch s.Mode {
	case DragMove:
		return m.MoveSegment(s.TrackID, s.SegmentID, s.OriginalStartMs+delta)
	case DragResizeLeft:
		return m.ResizeLeft(s.TrackID, s.SegmentID, s.OriginalStartMs+delta)
	case DragResizeRight:
		return m.ResizeRight(s.TrackID, s.SegmentID, s.OriginalEndMs+delta)
	}
	return Segment{}, fmt.Errorf("%w: %v", ErrUnknownDragMode, s.Mode)
}

// End returns to Idle and detaches the pointer listeners.
func (e *Editor) End() (DragSession, error) {
	s := e.session
	if s == nil {
		return DragSession{}, ErrNotDragging
	}
	e.session = nil
	if s.release != nil {
		s.release()
	}
	return *s, nil
}
