package zapview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsClientFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/stats/profile/"+testRecipient, r.URL.Path)
		json.NewEncoder(w).Encode(AggregateStats{Count: 42, TotalMsats: 21_000, MaxMsats: 5_000})
	}))
	defer srv.Close()

	c := NewStatsClient(srv.URL, time.Second, 10)

	stats, ok := c.Fetch(context.Background(), targetProfile, testRecipient)
	require.True(t, ok)
	assert.Equal(t, int64(42), stats.Count)
	assert.Equal(t, int64(21_000), stats.TotalMsats)
	assert.Equal(t, int64(5_000), stats.MaxMsats)

	// Second fetch is served from cache.
	_, ok = c.Fetch(context.Background(), targetProfile, testRecipient)
	require.True(t, ok)
	assert.Equal(t, int32(1), hits.Load())
}

func TestStatsClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewStatsClient(srv.URL, time.Second, 10)
	_, ok := c.Fetch(context.Background(), targetEvent, hexID(1))
	assert.False(t, ok)
}

func TestStatsClientBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := NewStatsClient(srv.URL, time.Second, 10)
	_, ok := c.Fetch(context.Background(), targetProfile, testRecipient)
	assert.False(t, ok)
}

func TestStatsClientUnreachable(t *testing.T) {
	c := NewStatsClient("http://127.0.0.1:1", 100*time.Millisecond, 10)
	_, ok := c.Fetch(context.Background(), targetProfile, testRecipient)
	assert.False(t, ok)
}

func TestStatsClientTrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats/event/"+hexID(1), r.URL.Path)
		json.NewEncoder(w).Encode(AggregateStats{Count: 1})
	}))
	defer srv.Close()

	c := NewStatsClient(srv.URL+"/", time.Second, 10)
	stats, ok := c.Fetch(context.Background(), targetEvent, hexID(1))
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Count)
}
