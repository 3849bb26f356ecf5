package studio

import (
	"context"

	"marai-studio/internal/marai"
	"marai-studio/internal/timeline"
)

// Backend is the part of the Marai API a session needs. *marai.Client
// satisfies it.
type Backend interface {
	FetchTaskBundle(ctx context.Context, slug string, kind marai.InfoKind) (*marai.TaskBundle, error)
	UpdateTranscriptSegment(ctx context.Context, slug string, line timeline.TranscriptLine) error
}

// InfoKindFor picks the payload endpoint a variant loads from.
func InfoKindFor(v timeline.Variant) marai.InfoKind {
	for _, ch := range v.Require {
		if ch == timeline.ChannelTranscript {
			return marai.InfoTranscript
		}
	}
	switch v.Name {
	case timeline.SubtitleVariant.Name:
		return marai.InfoSubtitle
	case timeline.TranscriptVariant.Name:
		return marai.InfoTranscript
	}
	return marai.InfoDubbing
}
