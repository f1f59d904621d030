package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tf2pug/internal/config"
	"tf2pug/internal/pug"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *LivelogsClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewLivelogsClient(&config.Config{LivelogsAddress: srv.URL + "/", LivelogsAPIKey: "secret"}, zerolog.Nop())
}

func TestLivelogsClient_GetLiveLogs(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/main.php", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "get_live", r.URL.Query().Get("action"))
		_, _ = w.Write([]byte(`{"logs":[{"id":7,"server_ip":"10.0.0.1","server_port":27015,"map":"cp_badlands","live":true}]}`))
	})

	resp, err := c.GetLiveLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, int64(7), resp.Logs[0].ID)
	assert.Equal(t, "cp_badlands", resp.Logs[0].Map)
	assert.True(t, resp.Logs[0].Live)
}

func TestLivelogsClient_GetPlayerStats(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_stats", r.URL.Query().Get("action"))
		assert.Equal(t, "76561197960265729,76561197960265730", r.URL.Query().Get("steamids"))
		_, _ = w.Write([]byte(`{"stats":{"76561197960265729":{"games":12,"kills":140}}}`))
	})

	resp, err := c.GetPlayerStats(context.Background(), []pug.PlayerID{76561197960265729, 76561197960265730})
	require.NoError(t, err)
	assert.Equal(t, 12, resp.Stats["76561197960265729"].Games)
	assert.Equal(t, 140, resp.Stats["76561197960265729"].Kills)

	empty, err := c.GetPlayerStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Stats)
}

func TestLivelogsClient_Errors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.GetLiveLogs(context.Background())
	assert.ErrorContains(t, err, "502")

	bad := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err = bad.GetLiveLogs(context.Background())
	assert.Error(t, err)

	off := NewLivelogsClient(&config.Config{}, zerolog.Nop())
	assert.False(t, off.Enabled())
	_, err = off.GetLiveLogs(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
