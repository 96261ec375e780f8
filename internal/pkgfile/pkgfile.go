// package pkgfile reads identifiers embedded in console package files
package pkgfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/desertthunder/pkgsend/internal/shared"
)

const (
	// ContentIDOffset is where the NUL-terminated content identifier starts.
	ContentIDOffset = 0x40
	// contentIDWindow bounds how many bytes are read looking for the terminator.
	contentIDWindow = 256
)

var titleIDPattern = regexp.MustCompile(`CUSA\d+`)

// Metadata is what [Inspect] learns about a package file.
type Metadata struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	ContentID string `json:"contentId"`
	TitleID   string `json:"titleId,omitempty"`
}

// Inspector reads package metadata from disk. The zero value is ready to use.
type Inspector struct{}

// Inspect implements the orchestrator's package inspection dependency.
func (Inspector) Inspect(path string) (*Metadata, error) {
	return Inspect(path)
}

// Inspect opens path and reads its content and title identifiers.
func Inspect(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidPackage, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidPackage, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", shared.ErrInvalidPackage, path)
	}

	contentID, err := ReadContentID(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrInvalidPackage, path, err)
	}

	return &Metadata{
		Path:      path,
		Size:      info.Size(),
		ContentID: contentID,
		TitleID:   TitleID(contentID),
	}, nil
}

// ReadContentID reads the identifier at [ContentIDOffset], stopping at the first NUL byte
// or after 256 bytes.
func ReadContentID(r io.ReaderAt) (string, error) {
	buf := make([]byte, contentIDWindow)
	n, err := r.ReadAt(buf, ContentIDOffset)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("file too short for a content id")
		}
		return "", err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	buf = buf[:n]
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

// TitleID extracts the CUSA title identifier from a content id, or "" when absent.
func TitleID(contentID string) string {
	return titleIDPattern.FindString(contentID)
}
