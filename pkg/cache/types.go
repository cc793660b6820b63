package cache

import (
	"time"
)

// Stats is a diagnostic snapshot of a store
type Stats struct {
	Name        string        `json:"name"`
	Size        int           `json:"size"`
	MaxSize     int           `json:"max_size"`
	TTL         time.Duration `json:"ttl"`
	Hits        uint64        `json:"hits"`
	Misses      uint64        `json:"misses"`
	Evictions   uint64        `json:"evictions"`
	Expirations uint64        `json:"expirations"`
	Entries     []EntryStats  `json:"entries"`
}

// HitRate returns the hit rate (0.0 to 1.0)
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total)
}

// EntryStats describes a single entry
type EntryStats struct {
	Key            string        `json:"key"`
	Age            time.Duration `json:"age"`
	AccessCount    int           `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
}

// Key builds the "{userID}:{resourceID}" key shared by the permission caches
func Key(userID, resourceID string) string {
	return userID + ":" + resourceID
}
