package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest describes an order submission from the trading application.
type OrderRequest struct {
	Symbol    string
	Segment   Segment
	Direction Direction
	Offset    Offset
	Price     decimal.Decimal
	Quantity  decimal.Decimal
}

// CancelRequest asks for cancellation of a previously placed order.
type CancelRequest struct {
	Symbol  string
	Segment Segment
	LocalID string
}

// Order is the authoritative record for one order. The local id is assigned
// by this gateway before submission; the exchange id is known only after the
// venue acknowledges.
type Order struct {
	LocalID    string
	ExchangeID string
	Symbol     string
	Segment    Segment
	Direction  Direction
	Offset     Offset

	Price        decimal.Decimal
	TotalQty     decimal.Decimal
	TradedQty    decimal.Decimal
	ThisTraded   decimal.Decimal
	AvgFillPrice decimal.Decimal

	Status       OrderStatus
	RejectReason string

	CreatedAt   time.Time
	DeliveredAt time.Time
}

// Clone returns a copy safe to publish while the record keeps mutating.
func (o *Order) Clone() Order {
	if o == nil {
		return Order{}
	}
	return *o
}

// Trade is one discrete fill, synthesized once per observed positive
// cumulative-fill delta. Immutable once created.
type Trade struct {
	TradeID    int64
	LocalID    string
	ExchangeID string
	Symbol     string
	Segment    Segment
	Direction  Direction
	Offset     Offset
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Time       time.Time
}

// OrderSnapshot is the normalized order view produced by both the REST poll
// and the WS push path before reaching the reconciler. Channel origin is
// irrelevant downstream.
type OrderSnapshot struct {
	ExchangeID    string
	ClientOrderID string
	Symbol        string
	Segment       Segment
	Direction     Direction
	Offset        Offset
	Price         decimal.Decimal
	TotalQty      decimal.Decimal
	Filled        decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Status        OrderStatus
	Timestamp     time.Time
}
