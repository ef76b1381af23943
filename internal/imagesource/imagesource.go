// Package imagesource loads input images from local paths or http(s) URLs.
package imagesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/types"
)

const defaultMaxBytes = 20 << 20

type Loader struct {
	client   *httpclient.Client
	maxBytes int64
}

// New builds a loader whose downloads use strategy. Images larger than
// maxBytes are rejected.
func New(strategy httpclient.Strategy, maxBytes int64, opts ...httpclient.Option) *Loader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	opts = append(opts, httpclient.WithMaxBodyBytes(maxBytes+1))
	return &Loader{client: httpclient.New(strategy, opts...), maxBytes: maxBytes}
}

// IsURL reports whether source should be fetched over HTTP.
func IsURL(source string) bool {
	s := strings.ToLower(strings.TrimSpace(source))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Load reads source and returns it as an image blob.
func (l *Loader) Load(ctx context.Context, source string) (types.ImageBlob, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return types.ImageBlob{}, apperr.Newf(apperr.KindInvalidInput, "imagesource.load", "no image source given")
	}
	var data []byte
	var err error
	if IsURL(source) {
		data, err = l.fetch(ctx, source)
	} else {
		data, err = l.readFile(source)
	}
	if err != nil {
		return types.ImageBlob{}, err
	}
	return FromBytes(data, l.maxBytes)
}

// FromBytes validates raw upload bytes the same way Load does.
func FromBytes(data []byte, maxBytes int64) (types.ImageBlob, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if len(data) == 0 {
		return types.ImageBlob{}, apperr.Newf(apperr.KindInvalidInput, "imagesource.load", "image is empty")
	}
	if int64(len(data)) > maxBytes {
		return types.ImageBlob{}, apperr.Newf(apperr.KindInvalidInput, "imagesource.load", "image exceeds %d bytes", maxBytes)
	}
	format := types.DetectFormat(data)
	if format == "unknown" {
		return types.ImageBlob{}, apperr.Newf(apperr.KindInvalidInput, "imagesource.load", "content is not a recognised image")
	}
	return types.NewImageBlob(data, format), nil
}

// ReadAll reads at most maxBytes+1 bytes from r so oversize uploads are detected.
func ReadAll(r io.Reader, maxBytes int64) (types.ImageBlob, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return types.ImageBlob{}, apperr.New(apperr.KindInvalidInput, "imagesource.read", err)
	}
	return FromBytes(data, maxBytes)
}

func (l *Loader) fetch(ctx context.Context, source string) ([]byte, error) {
	resp, err := l.client.Do(ctx, httpclient.Request{
		Op:     "imagesource.fetch",
		Method: http.MethodGet,
		URL:    source,
		Header: http.Header{"Accept": []string{"image/*"}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "imagesource.load", fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, l.maxBytes+1))
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "imagesource.load", fmt.Errorf("read %s: %w", path, err))
	}
	return data, nil
}
