package api

import "time"

// Event is one entry on the admin WebSocket stream.
type Event struct {
	Type      string    `json:"type"` // cycle, placement, cancel, pairing, settlement, error
	Timestamp time.Time `json:"timestamp"`
	LineID    string    `json:"line_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// CycleInfo is the payload of cycle events.
type CycleInfo struct {
	Cycle      uint64        `json:"cycle"`
	Duration   time.Duration `json:"duration_ns"`
	Lines      int           `json:"lines"`
	Placements int           `json:"placements"`
	Cancels    int           `json:"cancels"`
	Degraded   bool          `json:"degraded"`
}

// PairingInfo is the payload of pairing events.
type PairingInfo struct {
	ReferenceEventID string  `json:"reference_event_id"`
	ExchangeEventID  int     `json:"exchange_event_id"`
	Confidence       float64 `json:"confidence"`
	ManualOverride   bool    `json:"manual_override"`
}
