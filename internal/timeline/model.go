package timeline

import (
	"errors"
	"fmt"
)

const (
	// MinSegmentDuration is the shortest a segment can be resized to.
	MinSegmentDuration int64 = 1000
	// DefaultDurationMs is used until the real duration arrives.
	DefaultDurationMs int64 = 60000
)

var (
	ErrTrackNotFound   = errors.New("track not found")
	ErrSegmentNotFound = errors.New("segment not found")
)

// Channel identifies what a track carries.
type Channel string

const (
	ChannelTranslated Channel = "translated"
	ChannelOriginal   Channel = "original"
	ChannelTranscript Channel = "transcript"
	ChannelInstrument Channel = "instrument"
)

// Segment is one time-ranged unit of text and audio within a track.
type Segment struct {
	ID       string `json:"id"`
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`
	Value    string `json:"value"`
	Speaker  string `json:"speaker,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Contains reports whether ms falls in [StartMs, EndMs).
func (s Segment) Contains(ms int64) bool {
	return ms >= s.StartMs && ms < s.EndMs
}

func (s Segment) Length() int64 {
	return s.EndMs - s.StartMs
}

// Range is the edited geometry reported to hosts.
type Range struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

func (s Segment) Range() Range {
	return Range{StartMs: s.StartMs, EndMs: s.EndMs}
}

type Track struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Channel  Channel   `json:"channel"`
	Color    string    `json:"color"`
	Volume   float64   `json:"volume"`
	AudioURL string    `json:"audio_url,omitempty"`
	Segments []Segment `json:"segments"`
}

type segmentPos struct {
	track   int
	segment int
}

func segmentKey(trackID, segmentID string) string {
	return trackID + "\x00" + segmentID
}

// Model holds the tracks of one timeline. Every mutation swaps in a new
// tracks slice, so a slice returned by Tracks is never written again and
// can be handed to readers without copying.
//
// Model is not safe for concurrent use; Timeline guards it.
type Model struct {
	durationMs int64
	tracks     []Track
	index      map[string]segmentPos
}

func NewModel(durationMs int64) *Model {
	m := &Model{}
	m.Replace(durationMs, nil)
	return m
}

func (m *Model) DurationMs() int64 { return m.durationMs }

func (m *Model) Tracks() []Track { return m.tracks }

// Replace installs a freshly loaded set of tracks.
func (m *Model) Replace(durationMs int64, tracks []Track) {
	m.durationMs = durationMs
	m.tracks = tracks
	m.index = make(map[string]segmentPos)
	for ti, t := range tracks {
		for si, s := range t.Segments {
			m.index[segmentKey(t.ID, s.ID)] = segmentPos{track: ti, segment: si}
		}
	}
}

func (m *Model) Track(trackID string) (Track, error) {
	for _, t := range m.tracks {
		if t.ID == trackID {
			return t, nil
		}
	}
	return Track{}, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
}

func (m *Model) Segment(trackID, segmentID string) (Segment, error) {
	pos, ok := m.index[segmentKey(trackID, segmentID)]
	if !ok {
		return Segment{}, fmt.Errorf("%w: %s/%s", ErrSegmentNotFound, trackID, segmentID)
	}
	return m.tracks[pos.track].Segments[pos.segment], nil
}

// FindSegment looks a segment up by id alone, first track wins.
func (m *Model) FindSegment(segmentID string) (Track, Segment, bool) {
	for _, t := range m.tracks {
		for _, s := range t.Segments {
			if s.ID == segmentID {
				return t, s, true
			}
		}
	}
	return Track{}, Segment{}, false
}

func (m *Model) updateSegment(trackID, segmentID string, fn func(Segment) Segment) (Segment, error) {
	pos, ok := m.index[segmentKey(trackID, segmentID)]
	if !ok {
		return Segment{}, fmt.Errorf("%w: %s/%s", ErrSegmentNotFound, trackID, segmentID)
	}

	tracks := make([]Track, len(m.tracks))
	copy(tracks, m.tracks)

	track := tracks[pos.track]
	segments := make([]Segment, len(track.Segments))
	copy(segments, track.Segments)

	updated := fn(segments[pos.segment])
	segments[pos.segment] = updated
	track.Segments = segments
	tracks[pos.track] = track

	m.tracks = tracks
	return updated, nil
}

func (m *Model) updateTracks(fn func(*Track) bool) bool {
	tracks := make([]Track, len(m.tracks))
	copy(tracks, m.tracks)

	changed := false
	for i := range tracks {
		if fn(&tracks[i]) {
			changed = true
		}
	}
	if changed {
		m.tracks = tracks
	}
	return changed
}

// MoveSegment places the segment at newStart keeping its length, clamped
// so that it stays inside [0, duration].
func (m *Model) MoveSegment(trackID, segmentID string, newStart int64) (Segment, error) {
	return m.updateSegment(trackID, segmentID, func(s Segment) Segment {
		s.StartMs, s.EndMs = clampMove(s.StartMs, s.EndMs, newStart, m.durationMs)
		return s
	})
}

// ResizeLeft moves the start edge, clamped to [0, end-MinSegmentDuration].
// The track start wins over the minimum, so a segment ending before
// MinSegmentDuration is widened to start at 0 and no further.
func (m *Model) ResizeLeft(trackID, segmentID string, newStart int64) (Segment, error) {
	return m.updateSegment(trackID, segmentID, func(s Segment) Segment {
		s.StartMs = clampResizeLeft(s.EndMs, newStart)
		return s
	})
}

// ResizeRight moves the end edge, clamped to [start+MinSegmentDuration, duration].
// The track end wins over the minimum, so a short segment near the end
// keeps the room that is left.
func (m *Model) ResizeRight(trackID, segmentID string, newEnd int64) (Segment, error) {
	return m.updateSegment(trackID, segmentID, func(s Segment) Segment {
		s.EndMs = clampResizeRight(s.StartMs, newEnd, m.durationMs)
		return s
	})
}

func (m *Model) SetSegmentValue(trackID, segmentID, value string) (Segment, error) {
	return m.updateSegment(trackID, segmentID, func(s Segment) Segment {
		s.Value = value
		return s
	})
}

func (m *Model) SetTrackVolume(trackID string, volume float64) error {
	volume = clampUnit(volume)
	found := false
	m.updateTracks(func(t *Track) bool {
		if t.ID != trackID {
			return false
		}
		found = true
		if t.Volume == volume {
			return false
		}
		t.Volume = volume
		return true
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	return nil
}

// Solo turns the channel's tracks fully up and mutes the other voice
// tracks. The instrument bed is left alone.
func (m *Model) Solo(channel Channel) bool {
	return m.updateTracks(func(t *Track) bool {
		if t.Channel == ChannelInstrument {
			return false
		}
		v := 0.0
		if t.Channel == channel {
			v = 1
		}
		if t.Volume == v {
			return false
		}
		t.Volume = v
		return true
	})
}

func clampMove(start, end, newStart, durationMs int64) (int64, int64) {
	length := end - start
	if length >= durationMs {
		return 0, durationMs
	}
	if newStart < 0 {
		newStart = 0
	}
	if newStart+length > durationMs {
		newStart = durationMs - length
	}
	return newStart, newStart + length
}

func clampResizeLeft(end, newStart int64) int64 {
	if hi := end - MinSegmentDuration; newStart > hi {
		newStart = hi
	}
	if newStart < 0 {
		newStart = 0
	}
	return newStart
}

func clampResizeRight(start, newEnd, durationMs int64) int64 {
	if lo := start + MinSegmentDuration; newEnd < lo {
		newEnd = lo
	}
	if newEnd > durationMs {
		newEnd = durationMs
	}
	return newEnd
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
