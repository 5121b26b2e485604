package cache

import (
	"context"
	"sort"
	"time"

	"github.com/playforge/arcadia/internal/logger"
)

// WarmupItem is one entry to preload. A zero TTL uses the category TTL.
// Higher-priority items are written first.
type WarmupItem struct {
	Category Category
	Key      string
	Value    []byte
	TTL      time.Duration
	Priority int
}

// WarmupResult reports the outcome of a warmup pass.
type WarmupResult struct {
	Loaded     int      `json:"loaded"`
	Failed     int      `json:"failed"`
	FailedKeys []string `json:"failed_keys,omitempty"`
}

// Warmup preloads the given items, highest priority first. Individual set
// failures do not stop the pass; they are collected in the result.
func (c *Cache) Warmup(ctx context.Context, items []WarmupItem) WarmupResult {
	ordered := make([]WarmupItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var res WarmupResult
	for _, it := range ordered {
		if err := c.Set(ctx, it.Category, it.Key, it.Value, it.TTL); err != nil {
			res.Failed++
			res.FailedKeys = append(res.FailedKeys, it.Key)
			logger.Warn("cache warmup set failed",
				logger.KeyCategory, string(it.Category), "key", it.Key,
				logger.KeyError, err.Error())
			continue
		}
		res.Loaded++
	}

	logger.Info("cache warmup finished", "loaded", res.Loaded, "failed", res.Failed)
	return res
}
