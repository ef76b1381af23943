package identification

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/ratelimit"
	"anime-identifier-go/internal/types"
)

func testImage(t *testing.T) types.ImageBlob {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		img.Set(x, x%32, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return types.NewImageBlob(buf.Bytes(), "")
}

func newTestClient(t *testing.T, output string) (*Client, *predictionRequest, *int32) {
	t.Helper()
	var calls int32
	got := &predictionRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer llama-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(got)
		_, _ = w.Write([]byte(output))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default().Identification
	cfg.URL = srv.URL
	cfg.APIKey = "llama-key"
	cfg.Image.MaxDimension = 16
	return New(cfg, ratelimit.New(ratelimit.Settings{}), httpclient.New(httpclient.None()), nil), got, &calls
}

func TestIdentifyNaruto(t *testing.T) {
	client, got, _ := newTestClient(t, `{"id":"p1","status":"succeeded","output":"{\"name\":\"Naruto Uzumaki\",\"animeName\":\"Naruto\",\"confidence\":0.95}"}`)

	id, err := client.Identify(context.Background(), testImage(t))

	require.NoError(t, err)
	require.Equal(t, types.CharacterIdentification{Name: "Naruto Uzumaki", AnimeName: "Naruto", Confidence: 0.95}, id)
	require.Equal(t, config.Default().Identification.Version, got.Version)
	require.Equal(t, 0.7, got.Input.Temperature)
	require.Equal(t, 100, got.Input.MaxTokens)

	sent, err := base64.StdEncoding.DecodeString(got.Input.Image)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(sent))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 16, cfg.Width)
}

func TestIdentifyJoinsStreamedTokens(t *testing.T) {
	client, _, _ := newTestClient(t, `{"status":"succeeded","output":["Sure! `+"```json"+`\n{\"name\": \"Levi\", ","\"animeName\": \"Attack on Titan\", \"confidence\": 1.4}\n`+"```"+`"]}`)

	id, err := client.Identify(context.Background(), testImage(t))

	require.NoError(t, err)
	require.Equal(t, "Levi", id.Name)
	require.Equal(t, "Attack on Titan", id.AnimeName)
	require.Equal(t, 1.0, id.Confidence)
}

func TestIdentifyRejectsUnusableOutput(t *testing.T) {
	cases := map[string]string{
		"null output":    `{"id":"p2","status":"starting","output":null}`,
		"missing name":   `{"output":"{\"animeName\":\"Naruto\",\"confidence\":0.5}"}`,
		"prose only":     `{"output":"I cannot tell who this is."}`,
		"failed predict": `{"status":"failed","error":"CUDA out of memory","output":null}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client, _, _ := newTestClient(t, body)

			_, err := client.Identify(context.Background(), testImage(t))

			require.ErrorIs(t, err, apperr.ErrInvalidResponse)
		})
	}
}

func TestIdentifyRequiresAPIKeyBeforeNetwork(t *testing.T) {
	client, _, calls := newTestClient(t, `{}`)
	client.cfg.APIKey = " "

	_, err := client.Identify(context.Background(), testImage(t))

	require.ErrorIs(t, err, apperr.ErrConfiguration)
	require.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestIdentifyRejectsUndecodableImage(t *testing.T) {
	client, _, calls := newTestClient(t, `{}`)

	_, err := client.Identify(context.Background(), types.NewImageBlob([]byte("nope"), "jpeg"))

	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	require.EqualValues(t, 0, atomic.LoadInt32(calls))
}
