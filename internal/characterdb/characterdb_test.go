package characterdb

import (
	"context"
	"encoding/json"
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

type seen struct {
	key, agent string
	req        searchRequest
}

func newTestClient(t *testing.T, status int, body string) (*Client, *seen, *int32) {
	t.Helper()
	var calls int32
	got := &seen{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		got.key = r.Header.Get("X-API-Key")
		got.agent = r.Header.Get("User-Agent")
		_ = json.NewDecoder(r.Body).Decode(&got.req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default().CharacterDB
	cfg.URL = srv.URL
	cfg.APIKey = "acdb-key"
	return New(cfg, ratelimit.New(ratelimit.Settings{}), httpclient.New(httpclient.None()), nil), got, &calls
}

func TestLookupReturnsFirstCharacter(t *testing.T) {
	client, got, _ := newTestClient(t, http.StatusOK, `{"characters":[
		{"id":42,"name":"Naruto Uzumaki","anime":"Naruto","description":"Ninja","image_url":"https://img/naruto.png"},
		{"id":43,"name":"Naruto Clone","anime":"Naruto","image_url":""}]}`)

	details, err := client.Lookup(context.Background(), "Character: Naruto Uzumaki")

	require.NoError(t, err)
	require.Equal(t, types.CharacterDetails{ID: 42, Name: "Naruto Uzumaki", AnimeName: "Naruto", Description: "Ninja", ImageURL: "https://img/naruto.png"}, details)
	require.Equal(t, "acdb-key", got.key)
	require.Equal(t, config.Default().CharacterDB.UserAgent, got.agent)
	require.Equal(t, searchRequest{Name: "Naruto Uzumaki", Limit: 1}, got.req)
}

func TestLookupFillsMissingDescription(t *testing.T) {
	client, _, _ := newTestClient(t, http.StatusOK, `{"characters":[{"id":7,"name":"Rem","anime":"Re:Zero","description":null,"image_url":"u"}]}`)

	details, err := client.Lookup(context.Background(), "Rem")

	require.NoError(t, err)
	require.Equal(t, "No description available", details.Description)
}

func TestLookupAcceptsLegacySchema(t *testing.T) {
	client, _, _ := newTestClient(t, http.StatusOK, `{"search_term":"goku","search_results":[{"id":9,"name":"Goku","anime_name":"Dragon Ball","desc":"","character_image":"g.png"}]}`)

	details, err := client.Lookup(context.Background(), "Goku")

	require.NoError(t, err)
	require.Equal(t, types.CharacterDetails{ID: 9, Name: "Goku", AnimeName: "Dragon Ball", Description: "No description available", ImageURL: "g.png"}, details)
}

func TestLookupNotFound(t *testing.T) {
	for name, body := range map[string]string{
		"empty list": `{"characters":[]}`,
		"sentinel":   "-1",
	} {
		t.Run(name, func(t *testing.T) {
			client, _, calls := newTestClient(t, http.StatusOK, body)

			_, err := client.Lookup(context.Background(), "Nobody")

			require.ErrorIs(t, err, apperr.ErrCharacterNotFound)
			require.EqualValues(t, 1, atomic.LoadInt32(calls))
		})
	}
}

func TestLookupRequiresAPIKeyBeforeNetwork(t *testing.T) {
	client, _, calls := newTestClient(t, http.StatusOK, `{}`)
	client.cfg.APIKey = ""

	_, err := client.Lookup(context.Background(), "Naruto")

	require.ErrorIs(t, err, apperr.ErrConfiguration)
	require.Contains(t, err.Error(), config.EnvCharacterDBKey)
	require.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestLookupUserAgentRejected(t *testing.T) {
	client, _, _ := newTestClient(t, http.StatusPaymentRequired, "user agent required")

	_, err := client.Lookup(context.Background(), "Naruto")

	require.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestLookupBadJSON(t *testing.T) {
	client, _, _ := newTestClient(t, http.StatusOK, `<html>`)

	_, err := client.Lookup(context.Background(), "Naruto")

	require.ErrorIs(t, err, apperr.ErrDecoding)
}

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"Character: Naruto Uzumaki":          "Naruto Uzumaki",
		"Character:[Monkey D. Luffy]":        "Monkey D. Luffy",
		"Japanese: Uzumaki, Naruto":          "Uzumaki Naruto",
		"  From:   Attack on Titan  ":        "Attack on Titan",
		"NarutoUzumaki":                      "Naruto Uzumaki",
		"DIO":                                "DIO",
		"Character: Levi\nFrom: Attack on T": "Levi Attack on T",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanName(in), "input %q", in)
	}
}
