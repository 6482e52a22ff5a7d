package models

import "time"

// Footprint is one append-only audit chain record. Appended monotonically,
// never rewritten.
type Footprint struct {
	Producer string         `json:"producer"`
	Operation string        `json:"operation"`
	Data      map[string]any `json:"data,omitempty"`
	WallTime  time.Time      `json:"wall_time"`
	Sequence  uint64         `json:"sequence"`
}
