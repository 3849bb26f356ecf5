package timeline

// TrackFilter selects the tracks a resolution looks at. Nil means all.
type TrackFilter func(Track) bool

func ChannelFilter(ch Channel) TrackFilter {
	return func(t Track) bool { return t.Channel == ch }
}

// ActiveLine is a resolved segment with the track it belongs to.
type ActiveLine struct {
	TrackID string  `json:"track_id"`
	Segment Segment `json:"segment"`
}

// Resolve returns the first segment containing ms among the matching
// tracks, scanning in order.
func Resolve(tracks []Track, ms int64, filter TrackFilter) (ActiveLine, bool) {
	for _, t := range tracks {
		if filter != nil && !filter(t) {
			continue
		}
		for _, s := range t.Segments {
			if s.Contains(ms) {
				return ActiveLine{TrackID: t.ID, Segment: s}, true
			}
		}
	}
	return ActiveLine{}, false
}

// ActiveSegments returns every containing segment, keyed by track id.
func ActiveSegments(tracks []Track, ms int64) map[string]string {
	out := make(map[string]string)
	for _, t := range tracks {
		for _, s := range t.Segments {
			if s.Contains(ms) {
				out[t.ID] = s.ID
				break
			}
		}
	}
	return out
}

// Resolver remembers the last line it reported so that listeners hear
// about identity changes only.
type Resolver struct {
	filter TrackFilter
	last   string
	has    bool
}

func NewResolver(filter TrackFilter) *Resolver {
	return &Resolver{filter: filter}
}

// Update resolves ms and reports whether a different segment became
// active. A gap is not reported and does not clear the last line, so
// returning to it after a gap stays silent.
func (r *Resolver) Update(tracks []Track, ms int64) (ActiveLine, bool) {
	line, ok := Resolve(tracks, ms, r.filter)
	if !ok {
		return ActiveLine{}, false
	}
	key := segmentKey(line.TrackID, line.Segment.ID)
	if r.has && r.last == key {
		return line, false
	}
	r.last = key
	r.has = true
	return line, true
}

// Mark records a line as already reported, e.g. when the host itself
// picked it.
func (r *Resolver) Mark(trackID, segmentID string) {
	r.last = segmentKey(trackID, segmentID)
	r.has = true
}

func (r *Resolver) Reset() {
	r.last = ""
	r.has = false
}
