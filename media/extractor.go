package media

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"captiongen/pipeline"
)

// Prober measures an extracted audio file. It exists as a seam so tests can
// extract without a real encoder on PATH.
type Prober func(path string) (time.Duration, error)

// Extractor demuxes the audio stream of a video container and re-encodes it
// to MP3 by shelling out to ffmpeg.
type Extractor struct {
	ffmpegDir  string
	scratchDir string
	prober     Prober
	logger     *slog.Logger
}

// NewExtractor builds an extractor. ffmpegDir may be empty to use PATH;
// prober may be nil to use the MP3 frame probe.
func NewExtractor(ffmpegDir, scratchDir string, prober Prober, logger *slog.Logger) *Extractor {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if prober == nil {
		prober = ProbeDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ffmpegDir: ffmpegDir, scratchDir: scratchDir, prober: prober, logger: logger}
}

// Extract transcodes the audio track of videoPath into a scratch MP3 and
// returns its path. Every failure mode here, including a silent or missing
// audio stream, is a decode failure.
func (e *Extractor) Extract(ctx context.Context, videoPath string) (string, error) {
	out, err := os.CreateTemp(e.scratchDir, "audio-*.mp3")
	if err != nil {
		return "", errors.Wrap(err, "creating scratch file")
	}
	outPath := out.Name()
	_ = out.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath(),
		"-y", "-i", videoPath,
		"-vn",
		"-codec:a", "libmp3lame",
		"-q:a", "2",
		outPath,
	)
	cmd.Stderr = &stderr

	e.logger.Info("extracting audio", "video", videoPath, "out", outPath)
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(pipeline.ErrDecode, "ffmpeg: %v: %s", err, lastLine(stderr.String()))
	}

	dur, err := e.prober(outPath)
	if err != nil {
		return "", errors.Wrapf(pipeline.ErrDecode, "probing extracted audio: %v", err)
	}
	if dur <= 0 {
		return "", errors.Wrap(pipeline.ErrDecode, "extracted audio is empty (no audio stream?)")
	}

	e.logger.Info("audio extracted", "out", outPath, "duration", dur)
	return outPath, nil
}

func (e *Extractor) ffmpegPath() string {
	if e.ffmpegDir == "" {
		return "ffmpeg"
	}
	return filepath.Join(e.ffmpegDir, "ffmpeg")
}

// lastLine trims ffmpeg's banner noise down to the line that usually
// carries the actual complaint.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
