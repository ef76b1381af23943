// Package staging hands an image to providers that only accept a URL.
package staging

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/types"
)

// Stager makes blob reachable by URL. Cleanup must be called once the
// provider is done with the image; it is never nil on success.
type Stager interface {
	Stage(ctx context.Context, blob types.ImageBlob) (string, func(), error)
}

// DataURLStager inlines the image as a data: URL. Nothing to clean up.
type DataURLStager struct{}

func (DataURLStager) Stage(ctx context.Context, blob types.ImageBlob) (string, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", nil, apperr.FromContext("staging.stage", err)
	}
	if blob.IsEmpty() {
		return "", nil, apperr.Newf(apperr.KindInvalidInput, "staging.stage", "empty image")
	}
	return fmt.Sprintf("data:%s;base64,%s", blob.MimeType(), blob.Base64()), func() {}, nil
}

// DirStager writes each image to a uniquely named file under Dir.
type DirStager struct {
	Dir string
}

func NewDirStager(dir string) (*DirStager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "staging.dir", fmt.Errorf("create staging dir %q: %w", dir, err))
	}
	return &DirStager{Dir: dir}, nil
}

func (s *DirStager) Stage(ctx context.Context, blob types.ImageBlob) (string, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", nil, apperr.FromContext("staging.stage", err)
	}
	if blob.IsEmpty() {
		return "", nil, apperr.Newf(apperr.KindInvalidInput, "staging.stage", "empty image")
	}
	ext := blob.Format()
	if ext == "" || ext == "unknown" {
		ext = "bin"
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("%s.%s", uuid.New().String(), ext))
	if err := os.WriteFile(path, blob.Bytes(), 0o600); err != nil {
		return "", nil, apperr.New(apperr.KindConfiguration, "staging.stage", fmt.Errorf("write staged image: %w", err))
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String(), func() { _ = os.Remove(path) }, nil
}
