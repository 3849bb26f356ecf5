package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// LineID accepts both numeric and string ids from the backend.
type LineID string

func (id *LineID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = LineID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("line id: %w", err)
	}
	*id = LineID(n.String())
	return nil
}

// MarshalJSON writes integer ids back as numbers.
func (id LineID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type TranscriptLine struct {
	ID        LineID `json:"id"`
	StartAtMs int64  `json:"start_at_ms"`
	EndAtMs   int64  `json:"end_at_ms"`
	Value     string `json:"value"`
	Speaker   string `json:"speaker,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	WavURL    string `json:"wav_url,omitempty"`
}

type Transcript struct {
	ID              LineID           `json:"id"`
	Speaker         string           `json:"speaker,omitempty"`
	TranscriptLines []TranscriptLine `json:"transcript_lines"`
}

// Info is the dubbing, subtitle or transcript payload served by the
// backend for one task.
type Info struct {
	DurationMs            int64       `json:"duration_ms"`
	OriginalTranscript    *Transcript `json:"original_transcript,omitempty"`
	TranslatedTranscripts *Transcript `json:"translated_transcripts,omitempty"`
	Transcript            *Transcript `json:"transcript,omitempty"`
	AudioInstrumentURL    string      `json:"audio_instrument_url,omitempty"`
	WavURL                string      `json:"wav_url,omitempty"`
}

func (in *Info) transcript(ch Channel) *Transcript {
	if in == nil {
		return nil
	}
	switch ch {
	case ChannelOriginal:
		return in.OriginalTranscript
	case ChannelTranslated:
		return in.TranslatedTranscripts
	case ChannelTranscript:
		return in.Transcript
	}
	return nil
}

// Clone deep-copies the transcript lines.
func (in *Info) Clone() *Info {
	if in == nil {
		return nil
	}
	out := *in
	out.OriginalTranscript = in.OriginalTranscript.clone()
	out.TranslatedTranscripts = in.TranslatedTranscripts.clone()
	out.Transcript = in.Transcript.clone()
	return &out
}

func (t *Transcript) clone() *Transcript {
	if t == nil {
		return nil
	}
	out := *t
	out.TranscriptLines = append([]TranscriptLine(nil), t.TranscriptLines...)
	return &out
}

// lineRef locates the payload line a segment was built from.
type lineRef struct {
	channel Channel
	index   int
}

// LineIndex maps track and segment ids back to their payload lines.
type LineIndex map[string]lineRef

// Loaded is the result of mapping an Info payload onto a variant.
type Loaded struct {
	DurationMs int64
	Tracks     []Track
	Lines      LineIndex
}

// LoadTracks maps info into tracks for the variant. It reports false and
// builds nothing when the duration or a required transcript id is absent.
func LoadTracks(info *Info, v Variant) (Loaded, bool) {
	if info == nil || info.DurationMs <= 0 {
		return Loaded{}, false
	}
	for _, ch := range v.Require {
		if tr := info.transcript(ch); tr == nil || tr.ID == "" {
			return Loaded{}, false
		}
	}

	out := Loaded{DurationMs: info.DurationMs, Lines: make(LineIndex)}
	for _, ts := range v.Tracks {
		tr := info.transcript(ts.Channel)
		if tr == nil || tr.ID == "" {
			continue
		}
		track := Track{
			ID:       string(tr.ID),
			Name:     tr.Speaker,
			Channel:  ts.Channel,
			Color:    ts.Color,
			Volume:   clampUnit(ts.Volume),
			Segments: make([]Segment, 0, len(tr.TranscriptLines)),
		}
		if ts.Channel == ChannelTranscript {
			track.AudioURL = info.WavURL
		}
		for i, line := range tr.TranscriptLines {
			seg := Segment{
				ID:       string(line.ID),
				StartMs:  line.StartAtMs,
				EndMs:    line.EndAtMs,
				Value:    line.Value,
				Speaker:  line.Speaker,
				AudioURL: line.AudioURL,
			}
			if seg.ID == "" {
				seg.ID = string(ts.Channel) + "-" + strconv.Itoa(i)
			}
			if seg.AudioURL == "" {
				seg.AudioURL = line.WavURL
			}
			track.Segments = append(track.Segments, seg)
			out.Lines[segmentKey(track.ID, seg.ID)] = lineRef{channel: ts.Channel, index: i}
		}
		out.Tracks = append(out.Tracks, track)
	}

	if v.IncludeInstrument && info.AudioInstrumentURL != "" {
		out.Tracks = append(out.Tracks, Track{
			ID:      string(ChannelInstrument),
			Name:    "Instrument",
			Channel: ChannelInstrument,
			Color:   colorGray,
			Volume:  1,
			Segments: []Segment{{
				ID:       string(ChannelInstrument),
				StartMs:  0,
				EndMs:    info.DurationMs,
				AudioURL: info.AudioInstrumentURL,
			}},
		})
	}
	return out, true
}

// SyncSegment returns a copy of info with the line behind the segment
// updated. The original payload is left untouched.
func (idx LineIndex) SyncSegment(info *Info, trackID string, seg Segment) (*Info, bool) {
	ref, ok := idx[segmentKey(trackID, seg.ID)]
	if !ok || info == nil {
		return info, false
	}
	tr := info.transcript(ref.channel)
	if tr == nil || ref.index >= len(tr.TranscriptLines) {
		return info, false
	}

	out := *info
	cp := tr.clone()
	line := &cp.TranscriptLines[ref.index]
	line.StartAtMs = seg.StartMs
	line.EndAtMs = seg.EndMs
	line.Value = seg.Value

	switch ref.channel {
	case ChannelOriginal:
		out.OriginalTranscript = cp
	case ChannelTranslated:
		out.TranslatedTranscripts = cp
	case ChannelTranscript:
		out.Transcript = cp
	}
	return &out, true
}

// Line returns the payload line behind a segment.
func (idx LineIndex) Line(info *Info, trackID, segmentID string) (TranscriptLine, bool) {
	ref, ok := idx[segmentKey(trackID, segmentID)]
	if !ok {
		return TranscriptLine{}, false
	}
	tr := info.transcript(ref.channel)
	if tr == nil || ref.index >= len(tr.TranscriptLines) {
		return TranscriptLine{}, false
	}
	return tr.TranscriptLines[ref.index], true
}
