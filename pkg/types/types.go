package types

import "time"

// ObjectInfo represents metadata about an object
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type"`
	Metadata     map[string]string `json:"metadata"`
}

// CacheStats is a snapshot of the grid file cache.
type CacheStats struct {
	Files       int     `json:"files"`
	FailedFiles int     `json:"failed_files"`
	Grids       int     `json:"grids"`
	Handles     int     `json:"handles"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	HitRate     float64 `json:"hit_rate"`

	Trees TreeCacheStats `json:"trees"`
}

// TreeCacheStats describes the memoised tree cache.
type TreeCacheStats struct {
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Utilization float64 `json:"utilization"`
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func HitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
