package timeline

// SegmentRef names one segment of one track.
type SegmentRef struct {
	TrackID   string `json:"track_id"`
	SegmentID string `json:"segment_id"`
}

// SegmentView is a segment with its rendered geometry.
type SegmentView struct {
	Segment
	Left       float64 `json:"left"`
	Width      float64 `json:"width"`
	Label      string  `json:"label"`
	Active     bool    `json:"active"`
	Selected   bool    `json:"selected"`
	CuePlaying bool    `json:"cue_playing,omitempty"`
	CueFailed  bool    `json:"cue_failed,omitempty"`
}

type TrackView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Channel  Channel       `json:"channel"`
	Color    string        `json:"color"`
	Volume   float64       `json:"volume"`
	Segments []SegmentView `json:"segments"`
}

// Snapshot is a consistent picture of the timeline: every derived value
// in it was computed from the same playhead position and tracks.
type Snapshot struct {
	Variant      string       `json:"variant"`
	State        State        `json:"state"`
	Zoom         float64      `json:"zoom"`
	MasterVolume float64      `json:"master_volume"`
	Width        float64      `json:"width"`
	PlayheadX    float64      `json:"playhead_x"`
	TimeLabel    string       `json:"time_label"`
	Tracks       []TrackView  `json:"tracks"`
	ActiveLine   *ActiveLine  `json:"active_line,omitempty"`
	Selected     *SegmentRef  `json:"selected,omitempty"`
	Drag         *DragSession `json:"drag,omitempty"`
	Markers      []Marker     `json:"markers,omitempty"`
}

func (t *Timeline) snapshotLocked() Snapshot {
	mp := t.mapperLocked()
	tracks := t.model.Tracks()
	ms := t.state.CurrentMs

	snap := Snapshot{
		Variant:      t.variant.Name,
		State:        t.state,
		Zoom:         t.zoom,
		MasterVolume: t.master,
		Width:        mp.Width(),
		PlayheadX:    mp.TimeToPixel(ms),
		TimeLabel:    FormatTime(ms, t.state.DurationMs),
		Tracks:       make([]TrackView, 0, len(tracks)),
		Markers:      mp.Markers(),
	}

	for _, tr := range tracks {
		view := TrackView{
			ID:       tr.ID,
			Name:     tr.Name,
			Channel:  tr.Channel,
			Color:    tr.Color,
			Volume:   tr.Volume,
			Segments: make([]SegmentView, 0, len(tr.Segments)),
		}
		for _, seg := range tr.Segments {
			sv := SegmentView{
				Segment:  seg,
				Left:     mp.TimeToPixel(seg.StartMs),
				Width:    mp.TimeToPixel(seg.EndMs) - mp.TimeToPixel(seg.StartMs),
				Label:    FormatTime(seg.StartMs, t.state.DurationMs),
				Active:   seg.Contains(ms),
				Selected: t.selected != nil && t.selected.TrackID == tr.ID && t.selected.SegmentID == seg.ID,
			}
			if t.cues != nil {
				sv.CuePlaying = t.cues.Playing(tr.ID, seg.ID)
				sv.CueFailed = t.cues.Failed(tr.ID, seg.ID)
			}
			view.Segments = append(view.Segments, sv)
		}
		snap.Tracks = append(snap.Tracks, view)
	}

	if t.hasActive {
		line := t.active
		snap.ActiveLine = &line
	}
	if t.selected != nil {
		sel := *t.selected
		snap.Selected = &sel
	}
	if s, ok := t.editor.Session(); ok {
		snap.Drag = &s
	}
	return snap
}
