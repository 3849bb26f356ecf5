package timeline

import (
	"errors"
	"log"
	"time"
)

var ErrCueFailed = errors.New("cue failed")

// Cue is the audio of one segment.
type Cue interface {
	// SetGain applies a linear gain in [0, 1] without restarting playback.
	SetGain(g float64)
	// Start plays from offset into the asset.
	Start(offset time.Duration) error
	// Stop halts playback and rewinds.
	Stop()
	// Err reports a load or playback failure that happened in the background.
	Err() error
	Close()
}

type CueLoader interface {
	LoadCue(segmentID, url string) (Cue, error)
}

// CueScheduler starts and stops segment cues as the playhead enters and
// leaves their ranges. Not safe for concurrent use; Timeline guards it.
type CueScheduler struct {
	loader  CueLoader
	cues    map[string]Cue
	started map[string]bool
	failed  map[string]bool
}

func NewCueScheduler(loader CueLoader) *CueScheduler {
	return &CueScheduler{
		loader:  loader,
		cues:    make(map[string]Cue),
		started: make(map[string]bool),
		failed:  make(map[string]bool),
	}
}

// Update brings the cues in line with the playhead at ms.
func (s *CueScheduler) Update(tracks []Track, ms int64, playing bool, master float64) {
	if !playing {
		s.Interrupt()
		return
	}

	active := make(map[string]bool)
	for _, t := range tracks {
		gain := clampUnit(t.Volume * master)
		for _, seg := range t.Segments {
			if seg.AudioURL == "" || !seg.Contains(ms) {
				continue
			}
			key := segmentKey(t.ID, seg.ID)
			if s.failed[key] {
				continue
			}
			cue := s.cue(key, seg)
			if cue == nil {
				continue
			}
			if err := cue.Err(); err != nil {
				s.fail(key, seg.ID, err)
				continue
			}

			active[key] = true
			cue.SetGain(gain)
			if s.started[key] {
				continue
			}
			offset := time.Duration(ms-seg.StartMs) * time.Millisecond
			if err := cue.Start(offset); err != nil {
				s.fail(key, seg.ID, err)
				delete(active, key)
				continue
			}
			s.started[key] = true
		}
	}

	for key := range s.started {
		if !active[key] {
			if cue, ok := s.cues[key]; ok {
				cue.Stop()
			}
			delete(s.started, key)
		}
	}
}

// ApplyGains pushes volume changes to every loaded cue.
func (s *CueScheduler) ApplyGains(tracks []Track, master float64) {
	for _, t := range tracks {
		gain := clampUnit(t.Volume * master)
		for _, seg := range t.Segments {
			if cue, ok := s.cues[segmentKey(t.ID, seg.ID)]; ok {
				cue.SetGain(gain)
			}
		}
	}
}

// Interrupt stops every playing cue. The next Update restarts whatever is
// under the playhead at the right offset.
func (s *CueScheduler) Interrupt() {
	for key := range s.started {
		if cue, ok := s.cues[key]; ok {
			cue.Stop()
		}
		delete(s.started, key)
	}
}

// Playing reports whether the segment's cue is currently started.
func (s *CueScheduler) Playing(trackID, segmentID string) bool {
	return s.started[segmentKey(trackID, segmentID)]
}

// Failed reports whether the segment's cue has been given up on.
func (s *CueScheduler) Failed(trackID, segmentID string) bool {
	return s.failed[segmentKey(trackID, segmentID)]
}

// Reset drops all cues, for when the tracks are replaced.
func (s *CueScheduler) Reset() {
	for key, cue := range s.cues {
		cue.Stop()
		cue.Close()
		delete(s.cues, key)
	}
	s.started = make(map[string]bool)
	s.failed = make(map[string]bool)
}

func (s *CueScheduler) Close() { s.Reset() }

func (s *CueScheduler) cue(key string, seg Segment) Cue {
	if cue, ok := s.cues[key]; ok {
		return cue
	}
	if s.loader == nil {
		return nil
	}
	cue, err := s.loader.LoadCue(seg.ID, seg.AudioURL)
	if err != nil {
		s.fail(key, seg.ID, err)
		return nil
	}
	s.cues[key] = cue
	return cue
}

func (s *CueScheduler) fail(key, segmentID string, err error) {
	if s.failed[key] {
		return
	}
	s.failed[key] = true
	if s.started[key] {
		if cue, ok := s.cues[key]; ok {
			cue.Stop()
		}
		delete(s.started, key)
	}
	log.Printf("❌ Cue for segment %s failed: %v", segmentID, err)
}
