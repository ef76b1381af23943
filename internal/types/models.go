package types

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
)

// ImageBlob is an immutable image payload. The constructor copies the input and
// accessors never hand out the backing array.
type ImageBlob struct {
	data   []byte
	format string
}

func NewImageBlob(data []byte, format string) ImageBlob {
	cp := make([]byte, len(data))
	copy(cp, data)
	if format == "" {
		format = DetectFormat(cp)
	}
	return ImageBlob{data: cp, format: strings.ToLower(format)}
}

// Format is the short tag ("jpeg", "png", "webp", ...).
func (b ImageBlob) Format() string { return b.format }

func (b ImageBlob) Len() int { return len(b.data) }

func (b ImageBlob) IsEmpty() bool { return len(b.data) == 0 }

// Bytes returns a copy of the payload.
func (b ImageBlob) Bytes() []byte {
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp
}

// Reader streams the payload without copying it.
func (b ImageBlob) Reader() io.Reader { return bytes.NewReader(b.data) }

func (b ImageBlob) Base64() string { return base64.StdEncoding.EncodeToString(b.data) }

// MimeType maps the format tag back to a content type.
func (b ImageBlob) MimeType() string {
	switch b.format {
	case "", "unknown":
		return "application/octet-stream"
	default:
		return "image/" + b.format
	}
}

// DetectFormat sniffs the content type and returns the image subtype.
func DetectFormat(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return strings.TrimPrefix(ct, "image/")
	}
	return "unknown"
}

// BoundingBox is [x1, y1, x2, y2] as returned by the segmentation provider.
type BoundingBox [4]float64

type SegmentationResult struct {
	Image ImageBlob   `json:"-"`
	BBox  BoundingBox `json:"bbox"`
}

type CharacterIdentification struct {
	Name       string  `json:"name"`
	AnimeName  string  `json:"animeName"`
	Confidence float64 `json:"confidence"`
}

type CharacterDetails struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	AnimeName   string `json:"anime_name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

type VideoResult struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	Description  string `json:"description"`
}

// Sample is one row of an image manifest.
type Sample struct {
	ID        string `json:"id,omitempty"`
	Source    string `json:"source"`
	Expected  string `json:"expected,omitempty"`
	RowNumber int    `json:"row"`
}
