package zapview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"zapview/internal/cache"
)

// AggregateStats are the zap totals for a profile or event.
type AggregateStats struct {
	Count      int64 `json:"count"`
	TotalMsats int64 `json:"msats"`
	MaxMsats   int64 `json:"maxMsats"`
}

// statsCacheAge bounds how stale a served baseline may be.
const statsCacheAge = 5 * time.Minute

// StatsClient talks to the aggregate-statistics service. Responses are
// cached for a few minutes and concurrent fetches for the same target
// collapse into one HTTP request.
type StatsClient struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
	cache   *cache.Expiring[AggregateStats]
}

// NewStatsClient builds a client for the given service base URL.
func NewStatsClient(baseURL string, timeout time.Duration, cacheCapacity int) *StatsClient {
	return &StatsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   cache.NewExpiring[AggregateStats](cacheCapacity, statsCacheAge),
	}
}

// Fetch returns the aggregate for a target ("profile" or "event") and
// its hex identifier. ok is false when the service is unreachable or
// answers garbage; callers then fall back to local folding.
func (c *StatsClient) Fetch(ctx context.Context, target, identifier string) (AggregateStats, bool) {
	key := target + "/" + identifier
	if stats, ok := c.cache.Get(key); ok {
		return stats, true
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.fetch(ctx, target, identifier)
	})
	if err != nil {
		slog.Debug("stats fetch failed", "target", target, "err", err)
		return AggregateStats{}, false
	}

	stats := v.(AggregateStats)
	c.cache.Set(key, stats)
	return stats, true
}

func (c *StatsClient) fetch(ctx context.Context, target, identifier string) (AggregateStats, error) {
	url := fmt.Sprintf("%s/stats/%s/%s", c.baseURL, target, identifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return AggregateStats{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return AggregateStats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AggregateStats{}, fmt.Errorf("stats service returned %d", resp.StatusCode)
	}

	var stats AggregateStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return AggregateStats{}, fmt.Errorf("decode stats response: %w", err)
	}
	return stats, nil
}
