package transcribe

import (
	"context"

	"github.com/pkg/errors"
)

// Format selects the shape of the returned captions.
type Format string

const (
	// FormatSRT returns numbered subtitle blocks with
	// HH:MM:SS,mmm --> HH:MM:SS,mmm timestamp lines.
	FormatSRT Format = "srt"
	// FormatText returns the plain transcript with no timestamps.
	FormatText Format = "text"
)

// ParseFormat validates a user-supplied format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatSRT:
		return FormatSRT, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", errors.Errorf("unknown caption format %q (want \"srt\" or \"text\")", s)
	}
}

// FileName is the download name for captions in this format.
func (f Format) FileName() string {
	if f == FormatSRT {
		return "captions.srt"
	}
	return "captions.txt"
}

// Transcriber turns an audio file into caption text. The result is an
// opaque string from here on: the service never parses or validates it,
// through editing and download.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, format Format) (string, error)
}
