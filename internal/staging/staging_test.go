package staging

import (
	"context"
	"encoding/base64"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/types"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDataURLStagerInlinesImage(t *testing.T) {
	blob := types.NewImageBlob(pngHeader, "")

	u, cleanup, err := DataURLStager{}.Stage(context.Background(), blob)

	require.NoError(t, err)
	require.NotNil(t, cleanup)
	cleanup()
	require.True(t, strings.HasPrefix(u, "data:image/png;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, "data:image/png;base64,"))
	require.NoError(t, err)
	require.Equal(t, pngHeader, raw)
}

func TestDirStagerWritesAndCleansUp(t *testing.T) {
	s, err := NewDirStager(t.TempDir())
	require.NoError(t, err)
	blob := types.NewImageBlob(pngHeader, "")

	first, cleanupFirst, err := s.Stage(context.Background(), blob)
	require.NoError(t, err)
	second, cleanupSecond, err := s.Stage(context.Background(), blob)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	parsed, err := url.Parse(first)
	require.NoError(t, err)
	require.Equal(t, "file", parsed.Scheme)
	require.True(t, strings.HasSuffix(parsed.Path, ".png"))
	data, err := os.ReadFile(parsed.Path)
	require.NoError(t, err)
	require.Equal(t, pngHeader, data)

	cleanupFirst()
	_, err = os.Stat(parsed.Path)
	require.True(t, os.IsNotExist(err))
	cleanupSecond()
}

func TestStagersRejectEmptyImages(t *testing.T) {
	_, _, err := DataURLStager{}.Stage(context.Background(), types.ImageBlob{})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	s, err := NewDirStager(t.TempDir())
	require.NoError(t, err)
	_, _, err = s.Stage(context.Background(), types.ImageBlob{})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestStageHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := DataURLStager{}.Stage(ctx, types.NewImageBlob(pngHeader, ""))

	require.ErrorIs(t, err, apperr.ErrCanceled)
}
