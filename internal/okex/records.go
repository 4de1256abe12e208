package okex

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/instrument"
	"github.com/tradeforge/okexgw/internal/schema"
)

// orderRecord is the vendor order shape shared by the REST order endpoints
// and the websocket order channels. Futures and swap carry the four-way
// "type" enum and a numeric status; spot carries "side" and a string status.
type orderRecord struct {
	InstrumentID string `json:"instrument_id"`
	OrderID      string `json:"order_id"`
	ClientOID    string `json:"client_oid"`
	Price        string `json:"price"`
	PriceAvg     string `json:"price_avg"`
	Size         string `json:"size"`
	FilledQty    string `json:"filled_qty"`
	FilledSize   string `json:"filled_size"`
	Type         string `json:"type"`
	Side         string `json:"side"`
	Status       string `json:"status"`
	State        string `json:"state"`
	Timestamp    string `json:"timestamp"`
}

func (r orderRecord) filled() string {
	if r.FilledQty != "" {
		return r.FilledQty
	}
	return r.FilledSize
}

func (r orderRecord) status() string {
	if r.Status != "" {
		return r.Status
	}
	return r.State
}

// normalizeOrder translates a vendor order record into a neutral snapshot.
// Records for instruments outside the mapper and records with an unknown
// status or side vocabulary are rejected with a structured error.
func normalizeOrder(spec *segmentSpec, mapper *instrument.Mapper, r orderRecord) (schema.OrderSnapshot, error) {
	symbol, err := mapper.Symbol(r.InstrumentID)
	if err != nil {
		return schema.OrderSnapshot{}, err
	}
	status, ok := statusFromVendor(r.status())
	if !ok {
		return schema.OrderSnapshot{}, errs.New("okex/"+string(spec.segment), errs.CodeDataAnomaly,
			errs.WithMessage(fmt.Sprintf("order %s: unknown status %q", r.OrderID, r.status())))
	}
	direction, offset, ok := spec.decodeSide(r)
	if !ok {
		return schema.OrderSnapshot{}, errs.New("okex/"+string(spec.segment), errs.CodeDataAnomaly,
			errs.WithMessage(fmt.Sprintf("order %s: unknown side %q/%q", r.OrderID, r.Type, r.Side)))
	}
	price := parseDecimal(r.Price)
	total := parseDecimal(r.Size)
	filled := parseDecimal(r.filled())
	avg := parseDecimal(r.PriceAvg)
	return schema.OrderSnapshot{
		ExchangeID:    r.OrderID,
		ClientOrderID: r.ClientOID,
		Symbol:        symbol,
		Segment:       spec.segment,
		Direction:     direction,
		Offset:        offset,
		Price:         price,
		TotalQty:      total,
		Filled:        filled,
		AvgFillPrice:  avg,
		Status:        status,
		Timestamp:     parseTimestamp(r.Timestamp),
	}, nil
}

// instrumentRecord is the shape of the public instruments listing. The
// three segments expose overlapping field sets; absent fields decode to
// their zero values.
type instrumentRecord struct {
	InstrumentID  string `json:"instrument_id"`
	UnderlyingID  string `json:"underlying_index"`
	QuoteCurrency string `json:"quote_currency"`
	BaseCurrency  string `json:"base_currency"`
	TickSize      string `json:"tick_size"`
	SizeIncrement string `json:"size_increment"`
	ContractVal   string `json:"contract_val"`
	MinSize       string `json:"min_size"`
}

func (r instrumentRecord) priceStep() decimal.Decimal {
	return parseDecimal(r.TickSize)
}

func (r instrumentRecord) sizeStep() decimal.Decimal {
	if r.SizeIncrement != "" {
		return parseDecimal(r.SizeIncrement)
	}
	if r.ContractVal != "" {
		return decimal.New(1, 0)
	}
	return parseDecimal(r.MinSize)
}

// futuresAccountEnvelope wraps per-currency futures balances under "info".
type futuresAccountEnvelope struct {
	Info map[string]marginBalanceRecord `json:"info"`
}

type marginBalanceRecord struct {
	Equity     string `json:"equity"`
	MarginUsed string `json:"margin"`
	Frozen     string `json:"margin_frozen"`
	MarginMode string `json:"margin_mode"`
}

type swapAccountEnvelope struct {
	Info []swapBalanceRecord `json:"info"`
}

type swapBalanceRecord struct {
	InstrumentID string `json:"instrument_id"`
	Equity       string `json:"equity"`
	Margin       string `json:"margin"`
	Frozen       string `json:"margin_frozen"`
}

type spotBalanceRecord struct {
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

// positionRecord covers the hedged futures/swap position shape: one record
// carries both the long and the short leg.
type positionRecord struct {
	InstrumentID string `json:"instrument_id"`
	LongQty      string `json:"long_qty"`
	LongAvail    string `json:"long_avail_qty"`
	LongAvgCost  string `json:"long_avg_cost"`
	ShortQty     string `json:"short_qty"`
	ShortAvail   string `json:"short_avail_qty"`
	ShortAvgCost string `json:"short_avg_cost"`
	// Swap one-way shape.
	Side     string `json:"side"`
	Position string `json:"position"`
	AvailPos string `json:"avail_position"`
	AvgCost  string `json:"avg_cost"`
}

type tickerRecord struct {
	InstrumentID string `json:"instrument_id"`
	Last         string `json:"last"`
	BestBid      string `json:"best_bid"`
	BestAsk      string `json:"best_ask"`
	High24h      string `json:"high_24h"`
	Low24h       string `json:"low_24h"`
	Volume24h    string `json:"volume_24h"`
	Timestamp    string `json:"timestamp"`
}

type depthRecord struct {
	InstrumentID string     `json:"instrument_id"`
	Asks         [][]string `json:"asks"`
	Bids         [][]string `json:"bids"`
	Timestamp    string     `json:"timestamp"`
}

type wsTradeRecord struct {
	InstrumentID string `json:"instrument_id"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Qty          string `json:"qty"`
	Timestamp    string `json:"timestamp"`
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}
