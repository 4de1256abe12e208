// Package oms holds the order-lifecycle core: the identifier registry, the
// reconciling state machine, and the bulk cancel/close orchestration.
package oms

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDSource issues session-scoped local order ids and sequential trade ids.
// Local ids are seeded from the login time so ids from distinct sessions do
// not collide at the venue.
type IDSource struct {
	seed    int64
	orderID atomic.Int64
	tradeID atomic.Int64
}

// NewIDSource seeds the generator from the session start time.
func NewIDSource(loginAt time.Time) *IDSource {
	stamp, _ := strconv.ParseInt(loginAt.UTC().Format("060102150405"), 10, 64)
	s := &IDSource{seed: stamp * 10000}
	s.orderID.Store(10000)
	return s
}

// NextLocalID returns the next monotonic local order id.
func (s *IDSource) NextLocalID() string {
	return strconv.FormatInt(s.seed+s.orderID.Add(1), 10)
}

// NextTradeID returns the next sequential trade id.
func (s *IDSource) NextTradeID() int64 {
	return s.tradeID.Add(1)
}
