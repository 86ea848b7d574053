package media

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Video containers accepted for upload. Anything else is rejected up front;
// a corrupt file with an accepted extension surfaces later as a decode
// failure in the extractor.
var allowedExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
}

// AllowedExtension reports whether the file name carries an accepted video
// container extension.
func AllowedExtension(name string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// SaveUpload copies an uploaded video stream into a scratch file under dir,
// keeping the original extension so the decoder can sniff the container.
// The file is intentionally left behind for OS temp cleanup; sessions may
// outlive the request that created them.
func SaveUpload(dir, name string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".mp4"
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return "", errors.Errorf("unsupported video type %q (accepted: mp4, mov, mkv, webm, avi)", ext)
	}

	f, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", errors.Wrap(err, "creating scratch file")
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", errors.Wrap(err, "writing upload")
	}
	return f.Name(), nil
}
