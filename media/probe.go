package media

import (
	"io"
	"os"
	"time"

	"github.com/tcolgate/mp3"
)

// ProbeDuration sums the durations of the decodable MP3 frames in the file.
// A file with no frames probes as zero, which callers treat as an empty
// artifact.
func ProbeDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := mp3.NewDecoder(f)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
	)
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
		total += frame.Duration()
	}
	return total, nil
}
