package timeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	MinZoom = 1.0
	MaxZoom = 20.0
)

// ClockSource selects what drives the playhead.
type ClockSource string

const (
	// ClockSelf advances the playhead on animation frames and slaves the
	// external player to it.
	ClockSelf ClockSource = "self"
	// ClockElement follows a media element's own clock.
	ClockElement ClockSource = "element"
)

type Capabilities struct {
	AudioCues   bool        `yaml:"audio_cues" json:"audio_cues"`
	CaptionSync bool        `yaml:"caption_sync" json:"caption_sync"`
	Clock       ClockSource `yaml:"clock" json:"clock"`
	// SeekOnGrab moves the playhead to a segment's start when it is grabbed.
	SeekOnGrab bool `yaml:"seek_on_grab" json:"seek_on_grab"`
}

// TrackSpec describes one track a variant builds from an info payload.
type TrackSpec struct {
	Channel Channel `yaml:"channel" json:"channel"`
	Color   string  `yaml:"color" json:"color"`
	Volume  float64 `yaml:"volume" json:"volume"`
}

// Variant is a named timeline configuration: which tracks to build, which
// capabilities are on and the initial view.
type Variant struct {
	Name         string `yaml:"name" json:"name"`
	Capabilities `yaml:",inline" json:"capabilities"`

	Zoom         float64 `yaml:"zoom" json:"zoom"`
	MasterVolume float64 `yaml:"master_volume" json:"master_volume"`

	// Require lists transcripts that must be present for a load to apply.
	Require           []Channel   `yaml:"require" json:"require"`
	Tracks            []TrackSpec `yaml:"tracks" json:"tracks"`
	CaptionChannel    Channel     `yaml:"caption_channel" json:"caption_channel"`
	IncludeInstrument bool        `yaml:"include_instrument" json:"include_instrument"`
}

const (
	colorRed    = "hsl(0 72.2% 50.6%)"
	colorBlue   = "hsl(221.2 83.2% 53.3%)"
	colorModern = "hsl(217 91% 60%)"
	colorGray   = "hsl(215 16% 47%)"
)

var (
	DubbingVariant = Variant{
		Name:              "dubbing",
		Capabilities:      Capabilities{AudioCues: true, Clock: ClockSelf},
		Zoom:              2,
		MasterVolume:      0.8,
		Require:           []Channel{ChannelOriginal, ChannelTranslated},
		Tracks:            []TrackSpec{{ChannelTranslated, colorRed, 1}, {ChannelOriginal, colorBlue, 0}},
		CaptionChannel:    ChannelTranslated,
		IncludeInstrument: true,
	}
	SubtitleVariant = Variant{
		Name:           "subtitle",
		Capabilities:   Capabilities{CaptionSync: true, Clock: ClockSelf, SeekOnGrab: true},
		Zoom:           10,
		MasterVolume:   1,
		Require:        []Channel{ChannelOriginal, ChannelTranslated},
		Tracks:         []TrackSpec{{ChannelTranslated, colorModern, 1}},
		CaptionChannel: ChannelTranslated,
	}
	TranscriptVariant = Variant{
		Name:           "transcript",
		Capabilities:   Capabilities{CaptionSync: true, Clock: ClockElement},
		Zoom:           2,
		MasterVolume:   0.8,
		Require:        []Channel{ChannelTranscript},
		Tracks:         []TrackSpec{{ChannelTranscript, colorBlue, 1}},
		CaptionChannel: ChannelTranscript,
	}
)

// Variants returns the built-in presets by name.
func Variants() map[string]Variant {
	return map[string]Variant{
		DubbingVariant.Name:    DubbingVariant,
		SubtitleVariant.Name:   SubtitleVariant,
		TranscriptVariant.Name: TranscriptVariant,
	}
}

// LoadVariants reads presets from a YAML file on top of the built-in
// ones. A missing file is not an error.
//
//	variants:
//	  - name: dubbing
//	    zoom: 4
//	    audio_cues: true
func LoadVariants(path string) (map[string]Variant, error) {
	out := Variants()
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read variants: %w", err)
	}

	var file struct {
		Variants []Variant `yaml:"variants"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse variants %s: %w", path, err)
	}

	for _, v := range file.Variants {
		if v.Name == "" {
			return nil, fmt.Errorf("parse variants %s: variant without name", path)
		}
		out[v.Name] = v.normalized()
	}
	return out, nil
}

func (v Variant) normalized() Variant {
	v.Zoom = ClampZoom(v.Zoom)
	if v.MasterVolume <= 0 {
		v.MasterVolume = 1
	}
	v.MasterVolume = clampUnit(v.MasterVolume)
	if v.Clock == "" {
		v.Clock = ClockSelf
	}
	if v.CaptionChannel == "" && len(v.Tracks) > 0 {
		v.CaptionChannel = v.Tracks[0].Channel
	}
	return v
}

func ClampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}
