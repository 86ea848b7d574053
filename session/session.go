package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"captiongen/transcribe"
)

// Stage is the last pipeline step a session has completed.
type Stage string

const (
	StageUpload       Stage = "upload"
	StageExtractAudio Stage = "extract_audio"
	StageTranscribe   Stage = "transcribe"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrBadTransition = errors.New("stage transition not allowed")
)

// transitions holds the legal stage moves: the linear forward path plus the
// single manual back-transition used to re-run transcription.
var transitions = map[Stage][]Stage{
	StageUpload:       {StageExtractAudio},
	StageExtractAudio: {StageTranscribe},
	StageTranscribe:   {StageExtractAudio},
}

// Session tracks one upload through the pipeline. Stage gates what the
// interface may do next; everything else is artifact bookkeeping.
type Session struct {
	ID         string
	Stage      Stage
	VideoPath  string
	VideoName  string
	AudioPath  string
	Format     transcribe.Format
	Transcript string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// New creates a session for a freshly uploaded video. SRT is the default
// caption format; the user can re-select before transcribing.
func New(videoPath, videoName string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Stage:     StageUpload,
		VideoPath: videoPath,
		VideoName: videoName,
		Format:    transcribe.FormatSRT,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the session to the given stage if the transition is legal.
func (s *Session) Advance(to Stage) error {
	for _, next := range transitions[s.Stage] {
		if next == to {
			s.Stage = to
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return errors.Wrapf(ErrBadTransition, "%s -> %s", s.Stage, to)
}

// clone returns an independent copy so stores never hand out aliased state.
func (s *Session) clone() *Session {
	cp := *s
	return &cp
}
