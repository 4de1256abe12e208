package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/errs"
)

// Contract describes one mapped instrument published after a listing refresh.
type Contract struct {
	Symbol     string
	VendorCode string
	Segment    Segment
	PriceTick  decimal.Decimal
	Size       decimal.Decimal
}

// Account is a wholesale balance snapshot keyed by currency.
type Account struct {
	Currency      string
	Segment       Segment
	Balance       decimal.Decimal
	Available     decimal.Decimal
	Margin        decimal.Decimal
	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal
}

// Position is a wholesale holding snapshot keyed by (symbol, direction).
type Position struct {
	Symbol    string
	Segment   Segment
	Direction Direction
	Quantity  decimal.Decimal
	Available decimal.Decimal
	AvgPrice  decimal.Decimal
}

// Tick is the per-symbol market data cache fed by the ticker, depth and
// trade channels. Published only once both book and last price are known.
type Tick struct {
	Symbol    string
	Segment   Segment
	LastPrice decimal.Decimal
	LastQty   decimal.Decimal
	High24h   decimal.Decimal
	Low24h    decimal.Decimal
	Volume24h decimal.Decimal
	BidPrices [5]decimal.Decimal
	BidQtys   [5]decimal.Decimal
	AskPrices [5]decimal.Decimal
	AskQtys   [5]decimal.Decimal
	Timestamp time.Time
}

// Ready reports whether the tick carries both a traded price and book depth.
func (t *Tick) Ready() bool {
	if t == nil {
		return false
	}
	return !t.LastPrice.IsZero() && !t.AskPrices[0].IsZero()
}

// Bar is one historical candle.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// ErrorEvent carries a structured failure to the trading application.
type ErrorEvent struct {
	ID      string
	Source  string
	Code    errs.Code
	Message string
}

// NewErrorEvent builds an error event from a gateway error envelope.
func NewErrorEvent(err *errs.E) ErrorEvent {
	if err == nil {
		return ErrorEvent{ID: uuid.NewString()}
	}
	return ErrorEvent{
		ID:      uuid.NewString(),
		Source:  err.Source,
		Code:    err.Code,
		Message: err.Error(),
	}
}

// EventSink receives normalized updates from the gateway. Implementations
// must be safe for concurrent use; the gateway publishes from both the poll
// and push paths.
type EventSink interface {
	OnOrder(Order)
	OnTrade(Trade)
	OnPosition(Position)
	OnAccount(Account)
	OnContract(Contract)
	OnTick(Tick)
	OnError(ErrorEvent)
}

// NopSink discards every event. Useful as a default and in tests.
type NopSink struct{}

func (NopSink) OnOrder(Order)       {}
func (NopSink) OnTrade(Trade)       {}
func (NopSink) OnPosition(Position) {}
func (NopSink) OnAccount(Account)   {}
func (NopSink) OnContract(Contract) {}
func (NopSink) OnTick(Tick)         {}
func (NopSink) OnError(ErrorEvent)  {}
