// Package schema defines the venue-neutral order, trade, position and
// account model shared by every gateway component.
package schema

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Segment identifies one of the three OKEX market segments.
type Segment string

const (
	// SegmentFutures represents dated delivery futures.
	SegmentFutures Segment = "futures"
	// SegmentSwap represents perpetual swaps.
	SegmentSwap Segment = "swap"
	// SegmentSpot represents spot currency pairs.
	SegmentSpot Segment = "spot"
)

// Valid reports whether the segment is recognised.
func (s Segment) Valid() bool {
	switch s {
	case SegmentFutures, SegmentSwap, SegmentSpot:
		return true
	default:
		return false
	}
}

// Direction identifies the long/short side of an order or position.
type Direction string

const (
	// DirectionLong represents the long side.
	DirectionLong Direction = "long"
	// DirectionShort represents the short side.
	DirectionShort Direction = "short"
)

// Offset identifies whether an order opens or closes a position.
type Offset string

const (
	// OffsetOpen opens new exposure.
	OffsetOpen Offset = "open"
	// OffsetClose reduces existing exposure.
	OffsetClose Offset = "close"
)

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	// StatusPlaced marks an order submitted but not yet acknowledged.
	StatusPlaced OrderStatus = "placed"
	// StatusNotTraded marks an acknowledged order with no fills.
	StatusNotTraded OrderStatus = "not_traded"
	// StatusPartTraded marks an order with partial fills.
	StatusPartTraded OrderStatus = "part_traded"
	// StatusAllTraded marks a fully filled order.
	StatusAllTraded OrderStatus = "all_traded"
	// StatusCancelled marks a cancelled order.
	StatusCancelled OrderStatus = "cancelled"
	// StatusRejected marks an order refused by the venue or the connector.
	StatusRejected OrderStatus = "rejected"
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusAllTraded, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// ParseDirection normalises a direction string.
func ParseDirection(v string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long":
		return DirectionLong, true
	case "short":
		return DirectionShort, true
	default:
		return "", false
	}
}

// Zero is the shared decimal zero used across fill accounting.
var Zero = decimal.Zero
