package pipeline

import "github.com/pkg/errors"

// The pipeline has exactly three ways to fail that the interface cares
// about: the media toolchain could not decode the upload, the speech-to-text
// service was unreachable, or the speech-to-text service rejected our
// credentials. Everything else is generic.
var (
	ErrDecode  = errors.New("decode failure")
	ErrNetwork = errors.New("network failure")
	ErrAuth    = errors.New("auth failure")
)

// Class names a failure category in API responses.
type Class string

const (
	ClassDecode  Class = "decode_failure"
	ClassNetwork Class = "network_failure"
	ClassAuth    Class = "auth_failure"
	ClassGeneric Class = "error"
)

// FFmpegHint is shown alongside decode failures. Extraction problems are
// almost always a missing or misplaced ffmpeg install rather than a bad file.
const FFmpegHint = "check that ffmpeg is installed and on PATH, or point media.ffmpeg_dir (FFMPEG_DIR) at its directory"

// ClassOf reports which failure category err belongs to.
func ClassOf(err error) Class {
	switch {
	case errors.Is(err, ErrDecode):
		return ClassDecode
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrNetwork):
		return ClassNetwork
	default:
		return ClassGeneric
	}
}
