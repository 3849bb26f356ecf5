package timeline

import (
	"errors"
	"math/rand"
	"testing"
)

func newTestModel(duration int64, segs ...Segment) *Model {
	m := NewModel(duration)
	m.Replace(duration, []Track{{ID: "tr", Channel: ChannelTranslated, Volume: 1, Segments: segs}})
	return m
}

func TestModel_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		seg       Segment
		duration  int64
		op        func(m *Model) (Segment, error)
		wantStart int64
		wantEnd   int64
	}{
		{
			name:      "move clamps at upper bound keeping length",
			seg:       Segment{ID: "a", StartMs: 5000, EndMs: 7000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.MoveSegment("tr", "a", 5000+5000) },
			wantStart: 8000, wantEnd: 10000,
		},
		{
			name:      "move clamps at zero keeping length",
			seg:       Segment{ID: "a", StartMs: 1000, EndMs: 4000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.MoveSegment("tr", "a", -2500) },
			wantStart: 0, wantEnd: 3000,
		},
		{
			name:      "resize left stops at minimum duration",
			seg:       Segment{ID: "a", StartMs: 1000, EndMs: 3000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.ResizeLeft("tr", "a", 2500) },
			wantStart: 2000, wantEnd: 3000,
		},
		{
			name:      "resize left stops at zero",
			seg:       Segment{ID: "a", StartMs: 1000, EndMs: 3000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.ResizeLeft("tr", "a", -400) },
			wantStart: 0, wantEnd: 3000,
		},
		{
			name:      "resize right stops at minimum duration",
			seg:       Segment{ID: "a", StartMs: 1000, EndMs: 3000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.ResizeRight("tr", "a", 1200) },
			wantStart: 1000, wantEnd: 2000,
		},
		{
			name:      "resize right stops at duration",
			seg:       Segment{ID: "a", StartMs: 1000, EndMs: 3000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.ResizeRight("tr", "a", 12000) },
			wantStart: 1000, wantEnd: 10000,
		},
		{
			name:      "short segment at the track end cannot grow past it",
			seg:       Segment{ID: "a", StartMs: 9500, EndMs: 10000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.ResizeRight("tr", "a", 9800) },
			wantStart: 9500, wantEnd: 10000,
		},
		{
			name:      "short segment at the track start widens to zero",
			seg:       Segment{ID: "a", StartMs: 200, EndMs: 700},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.ResizeLeft("tr", "a", 400) },
			wantStart: 0, wantEnd: 700,
		},
		{
			name:      "short segment with room is widened to the minimum",
			seg:       Segment{ID: "a", StartMs: 2000, EndMs: 2500},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.ResizeRight("tr", "a", 2300) },
			wantStart: 2000, wantEnd: 3000,
		},
		{
			name:      "short segment keeps its length when moved",
			seg:       Segment{ID: "a", StartMs: 200, EndMs: 700},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.MoveSegment("tr", "a", 4000) },
			wantStart: 4000, wantEnd: 4500,
		},
		{
			name:      "segment longer than the track is pinned to it",
			seg:       Segment{ID: "a", StartMs: 0, EndMs: 15000},
			duration:  10000,
			op:        func(m *Model) (Segment, error) { return m.MoveSegment("tr", "a", 300) },
			wantStart: 0, wantEnd: 10000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(tt.duration, tt.seg)
			got, err := tt.op(m)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.StartMs != tt.wantStart || got.EndMs != tt.wantEnd {
				t.Errorf("Got {%d,%d}, want {%d,%d}", got.StartMs, got.EndMs, tt.wantStart, tt.wantEnd)
			}
			stored, _ := m.Segment("tr", "a")
			if stored != got {
				t.Errorf("Model holds %+v, op returned %+v", stored, got)
			}
		})
	}
}

func TestModel_InvariantUnderRandomEdits(t *testing.T) {
	const duration = 30000
	rng := rand.New(rand.NewSource(7))
	m := newTestModel(duration,
		Segment{ID: "a", StartMs: 0, EndMs: 2000},
		Segment{ID: "b", StartMs: 2000, EndMs: 9000},
		Segment{ID: "c", StartMs: 9000, EndMs: 10000},
	)
	ids := []string{"a", "b", "c"}

	for i := 0; i < 5000; i++ {
		id := ids[rng.Intn(len(ids))]
		target := rng.Int63n(3*duration) - duration
		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = m.MoveSegment("tr", id, target)
		case 1:
			_, err = m.ResizeLeft("tr", id, target)
		case 2:
			_, err = m.ResizeRight("tr", id, target)
		}
		if err != nil {
			t.Fatalf("Edit %d failed: %v", i, err)
		}

		for _, s := range m.Tracks()[0].Segments {
			if s.StartMs < 0 || s.StartMs >= s.EndMs || s.EndMs > duration {
				t.Fatalf("Edit %d broke bounds: %+v", i, s)
			}
			if s.Length() < MinSegmentDuration {
				t.Fatalf("Edit %d made %s shorter than %dms: %+v", i, s.ID, MinSegmentDuration, s)
			}
		}
	}
}

func TestModel_CopyOnWrite(t *testing.T) {
	m := newTestModel(10000, Segment{ID: "a", StartMs: 1000, EndMs: 3000})
	before := m.Tracks()

	if _, err := m.MoveSegment("tr", "a", 4000); err != nil {
		t.Fatal(err)
	}

	if before[0].Segments[0].StartMs != 1000 {
		t.Errorf("Edit wrote through to an earlier snapshot: %+v", before[0].Segments[0])
	}
	if m.Tracks()[0].Segments[0].StartMs != 4000 {
		t.Errorf("Edit not visible in the new snapshot")
	}
}

func TestModel_NotFound(t *testing.T) {
	m := newTestModel(10000, Segment{ID: "a", StartMs: 0, EndMs: 2000})

	if _, err := m.MoveSegment("tr", "zzz", 0); !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("Expected ErrSegmentNotFound, got %v", err)
	}
	if _, err := m.ResizeLeft("nope", "a", 0); !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("Expected ErrSegmentNotFound, got %v", err)
	}
	if err := m.SetTrackVolume("nope", 1); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("Expected ErrTrackNotFound, got %v", err)
	}
}

func TestModel_VolumeAndSolo(t *testing.T) {
	m := NewModel(10000)
	m.Replace(10000, []Track{
		{ID: "t", Channel: ChannelTranslated, Volume: 1},
		{ID: "o", Channel: ChannelOriginal, Volume: 0},
		{ID: "i", Channel: ChannelInstrument, Volume: 0.6},
	})

	if err := m.SetTrackVolume("t", 1.7); err != nil {
		t.Fatal(err)
	}
	if v := m.Tracks()[0].Volume; v != 1 {
		t.Errorf("Expected volume clamped to 1, got %v", v)
	}

	if !m.Solo(ChannelOriginal) {
		t.Fatal("Expected solo to change volumes")
	}
	want := map[string]float64{"t": 0, "o": 1, "i": 0.6}
	for _, tr := range m.Tracks() {
		if tr.Volume != want[tr.ID] {
			t.Errorf("Track %s: volume %v, want %v", tr.ID, tr.Volume, want[tr.ID])
		}
	}
	if m.Solo(ChannelOriginal) {
		t.Error("Second solo on the same channel should change nothing")
	}
}
