package models

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries  int64 `json:"entries"`
	Capacity int64 `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}
