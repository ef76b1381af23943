package imagesource

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/httpclient"
)

var gifData = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naruto.gif")
	require.NoError(t, os.WriteFile(path, gifData, 0o644))

	blob, err := New(httpclient.None(), 1024).Load(context.Background(), path)

	require.NoError(t, err)
	require.Equal(t, "gif", blob.Format())
	require.Equal(t, gifData, blob.Bytes())
}

func TestLoadFromURLRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(gifData)
	}))
	defer srv.Close()

	blob, err := New(httpclient.Fixed(2, 0), 1024).Load(context.Background(), srv.URL+"/img.gif")

	require.NoError(t, err)
	require.Equal(t, "gif", blob.Format())
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestLoadRejectsOversizeImages(t *testing.T) {
	big := append(append([]byte{}, gifData...), bytes.Repeat([]byte{0}, 64)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	_, err := New(httpclient.None(), 32).Load(context.Background(), srv.URL)

	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	require.Contains(t, err.Error(), "exceeds")
}

func TestLoadRejectsNonImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	_, err := New(httpclient.None(), 1024).Load(context.Background(), path)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = New(httpclient.None(), 1024).Load(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestReadAllDetectsOversizeUploads(t *testing.T) {
	_, err := ReadAll(strings.NewReader(string(gifData)+strings.Repeat("x", 100)), 20)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	blob, err := ReadAll(bytes.NewReader(gifData), 1024)
	require.NoError(t, err)
	require.Equal(t, len(gifData), blob.Len())
}

func TestIsURL(t *testing.T) {
	require.True(t, IsURL("https://example.com/a.png"))
	require.True(t, IsURL(" HTTP://example.com/a.png"))
	require.False(t, IsURL("/tmp/a.png"))
	require.False(t, IsURL("ftp://example.com/a.png"))
}
