package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = domain.Token{AccessToken: "user_token", UserID: "1001", Login: "viewer"}

func newTestHelix(t *testing.T, handler http.Handler) *HelixClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	hc, err := NewHelixClient(HelixOptions{ClientID: "test_client", BaseURL: server.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)
	return hc
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestHelixClient_FollowedChannelsPaginates(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/followed", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer user_token", r.Header.Get("Authorization"))
		assert.Equal(t, "test_client", r.Header.Get("Client-Id"))
		assert.Equal(t, "1001", r.URL.Query().Get("user_id"))
		assert.Equal(t, "100", r.URL.Query().Get("first"))

		if r.URL.Query().Get("after") == "" {
			writeJSON(w, map[string]any{
				"total": 3,
				"data": []map[string]any{
					{"broadcaster_id": "100", "broadcaster_login": "alpha", "broadcaster_name": "Alpha", "followed_at": "2024-01-01T00:00:00Z"},
					{"broadcaster_id": "200", "broadcaster_login": "bravo", "broadcaster_name": "Bravo", "followed_at": "2024-01-01T00:00:00Z"},
				},
				"pagination": map[string]any{"cursor": "page2"},
			})
			return
		}

		assert.Equal(t, "page2", r.URL.Query().Get("after"))
		writeJSON(w, map[string]any{
			"total": 3,
			"data": []map[string]any{
				{"broadcaster_id": "300", "broadcaster_login": "charlie", "broadcaster_name": "Charlie", "followed_at": "2024-01-01T00:00:00Z"},
			},
			"pagination": map[string]any{},
		})
	})

	channels, err := newTestHelix(t, mux).FollowedChannels(context.Background(), testToken)

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, channels, 3)
	assert.Equal(t, domain.Channel{ID: "300", Login: "charlie", DisplayName: "Charlie"}, channels[2])
}

func TestHelixClient_FollowedChannelsRequiresUserID(t *testing.T) {
	hc := newTestHelix(t, http.NotFoundHandler())

	_, err := hc.FollowedChannels(context.Background(), domain.Token{AccessToken: "x"})
	assert.Error(t, err)
}

func TestHelixClient_LiveStreams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/streams", func(w http.ResponseWriter, r *http.Request) {
		assert.ElementsMatch(t, []string{"100", "200"}, r.URL.Query()["user_id"])
		writeJSON(w, map[string]any{
			"data": []map[string]any{{
				"id":            "s1",
				"user_id":       "100",
				"user_login":    "alpha",
				"user_name":     "Alpha",
				"game_name":     "Chess",
				"title":         "Blitz all day",
				"viewer_count":  1234,
				"started_at":    "2026-10-16T10:00:00Z",
				"thumbnail_url": "https://example/thumb.jpg",
			}},
			"pagination": map[string]any{},
		})
	})

	streams, err := newTestHelix(t, mux).LiveStreams(context.Background(), testToken, []string{"100", "200"})

	require.NoError(t, err)
	require.Len(t, streams, 1)
	s := streams[0]
	assert.Equal(t, "100", s.ChannelID)
	assert.Equal(t, "Alpha", s.DisplayName)
	assert.Equal(t, "Chess", s.Game)
	assert.Equal(t, "Blitz all day", s.Title)
	assert.Equal(t, 1234, s.ViewerCount)
	assert.True(t, s.StartedAt.Equal(time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)))
}

func TestHelixClient_LiveStreamsLimits(t *testing.T) {
	hc := newTestHelix(t, http.NotFoundHandler())

	streams, err := hc.LiveStreams(context.Background(), testToken, nil)
	assert.NoError(t, err)
	assert.Empty(t, streams)

	ids := make([]string, MaxIDsPerRequest+1)
	_, err = hc.LiveStreams(context.Background(), testToken, ids)
	assert.Error(t, err)
}

func TestHelixClient_UnauthorizedMapsToTokenRejected(t *testing.T) {
	hc := newTestHelix(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`))
	}))

	_, err := hc.LiveStreams(context.Background(), testToken, []string{"100"})
	assert.ErrorIs(t, err, domain.ErrTokenRejected)
}

func TestHelixClient_RateLimited(t *testing.T) {
	hc := newTestHelix(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"Too Many Requests","status":429,"message":""}`))
	}))

	_, err := hc.LiveStreams(context.Background(), testToken, []string{"100"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestHelixClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	hc := newTestHelix(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"Bad Gateway","status":502,"message":""}`))
	}))

	for range 5 {
		_, err := hc.LiveStreams(context.Background(), testToken, []string{"100"})
		require.Error(t, err)
	}

	_, err := hc.LiveStreams(context.Background(), testToken, []string{"100"})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(5), calls.Load())
}
