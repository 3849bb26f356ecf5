package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Kind is the container of an audio file.
type Kind string

const (
	KindUnknown Kind = ""
	KindMP3     Kind = "mp3"
	KindWAV     Kind = "wav"
	KindFLAC    Kind = "flac"
	KindOGG     Kind = "ogg"
)

// Sniff works out the container from the file's tags, its RIFF header,
// then its extension.
func Sniff(r io.ReadSeeker, name string) Kind {
	defer r.Seek(0, io.SeekStart)

	if _, ft, err := tag.Identify(r); err == nil {
		switch ft {
		case tag.MP3:
			return KindMP3
		case tag.FLAC:
			return KindFLAC
		case tag.OGG:
			return KindOGG
		}
	}

	r.Seek(0, io.SeekStart)
	head := make([]byte, 12)
	if n, _ := io.ReadFull(r, head); n == 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:], []byte("WAVE")) {
		return KindWAV
	}

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "mp3":
		return KindMP3
	case "wav", "wave":
		return KindWAV
	case "flac":
		return KindFLAC
	case "ogg", "oga":
		return KindOGG
	}
	return KindUnknown
}

// Decode opens a local audio file as a seekable stream. Closing the
// stream closes the file.
func Decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch kind := Sniff(f, path); kind {
	case KindMP3:
		s, format, err = mp3.Decode(f)
	case KindWAV:
		s, format, err = wav.Decode(f)
	case KindFLAC:
		s, format, err = flac.Decode(f)
	case KindOGG:
		s, format, err = vorbis.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return s, format, nil
}
