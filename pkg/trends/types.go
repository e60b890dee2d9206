package trends

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Key identifies one cacheable unit: a source category queried for a region.
type Key struct {
	Source string `json:"source"`
	Region string `json:"region"`
}

func (k Key) String() string {
	return k.Source + "/" + k.Region
}

// MarshalText lets a Key be used as a JSON map key.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the "source/region" form produced by MarshalText.
// Regions never contain a slash, so the split is on the first one.
func (k *Key) UnmarshalText(text []byte) error {
	source, region, ok := strings.Cut(string(text), "/")
	if !ok || source == "" {
		return fmt.Errorf("malformed key %q", text)
	}
	k.Source = source
	k.Region = region
	return nil
}

// Record is one persisted cache entry. At most one Record exists per Key;
// writes replace payload, count and timestamp together.
type Record struct {
	Key         Key             `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	RecordCount int             `json:"record_count"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Item is one ranked entry in a source's payload.
type Item struct {
	Rank  int     `json:"rank"`
	Title string  `json:"title"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// FetchResult is the outcome of a single source fetch for one region.
type FetchResult struct {
	Key         Key             `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	RecordCount int             `json:"record_count"`
	Cached      bool            `json:"cached"`
}
