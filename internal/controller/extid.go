package controller

import (
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"
)

// placementCounter makes external IDs unique even when two placements for
// the same line land in the same millisecond.
var placementCounter atomic.Uint64

// NewExternalID mints a placement identifier. IDs are never reused, even on
// retry: a retried placement is a new placement.
//
// Shape: mm-<lineHash>-<unixms>-<counter>
func NewExternalID(lineID string, now time.Time) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(lineID))
	return fmt.Sprintf("mm-%08x-%d-%d", h.Sum32(), now.UnixMilli(), placementCounter.Add(1))
}
