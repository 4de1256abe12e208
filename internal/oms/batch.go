package oms

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/instrument"
	"github.com/tradeforge/okexgw/internal/observability"
	"github.com/tradeforge/okexgw/internal/schema"
)

// DefaultBatchLimit is the vendor cap on order ids per batch-cancel call.
const DefaultBatchLimit = 20

// OpenOrder is one row from the open-order query feeding cancelAll.
type OpenOrder struct {
	OrderID string
	Status  schema.OrderStatus
}

// Holding is one position row feeding closeAll.
type Holding struct {
	VendorCode   string
	LongAvail    decimal.Decimal
	ShortAvail   decimal.Decimal
	LongAvgCost  decimal.Decimal
	ShortAvgCost decimal.Decimal
}

// BatchVenue is the segment REST surface the batch operator drives. Every
// call is independent; the operator never assumes atomicity across calls.
type BatchVenue interface {
	OpenOrders(ctx context.Context, vendorCode string) ([]OpenOrder, error)
	CancelBatch(ctx context.Context, vendorCode string, orderIDs []string) ([]string, error)
	Holdings(ctx context.Context, vendorCode string) ([]Holding, error)
	PlaceMarketClose(ctx context.Context, vendorCode string, side schema.Direction, qty, price decimal.Decimal) (string, error)
}

// Batcher orchestrates cancel-all and close-all across symbols with chunked
// batch requests and best-effort partial-failure aggregation.
type Batcher struct {
	segment schema.Segment
	venue   BatchVenue
	mapper  *instrument.Mapper
	limit   int
	sink    schema.EventSink
}

// NewBatcher builds a batch operator for one segment.
func NewBatcher(segment schema.Segment, venue BatchVenue, mapper *instrument.Mapper, limit int) *Batcher {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Batcher{segment: segment, venue: venue, mapper: mapper, limit: limit, sink: schema.NopSink{}}
}

// SetSink wires the event sink receiving partial-failure reports.
func (b *Batcher) SetSink(sink schema.EventSink) {
	if sink != nil {
		b.sink = sink
	}
}

// CancelAll cancels open and partially filled orders for the target symbols,
// optionally restricted to the given exchange order ids. Returns the union
// of confirmed-cancelled ids; chunk failures are logged and skipped, they
// never abort the remaining chunks.
func (b *Batcher) CancelAll(ctx context.Context, symbols, orderIDs []string) []string {
	if len(symbols) == 0 {
		symbols = b.mapper.Symbols()
	}
	filter := toSet(orderIDs)

	p := pool.NewWithResults[[]string]()
	for _, symbol := range symbols {
		p.Go(func() []string {
			return b.cancelSymbol(ctx, symbol, filter)
		})
	}
	var out []string
	for _, ids := range p.Wait() {
		out = append(out, ids...)
	}
	return out
}

func (b *Batcher) cancelSymbol(ctx context.Context, symbol string, filter map[string]struct{}) []string {
	vendorCode, err := b.mapper.VendorCode(symbol)
	if err != nil {
		observability.Log().Error("cancel-all symbol unmapped",
			observability.F("segment", b.segment), observability.F("symbol", symbol), observability.F("error", err.Error()))
		return nil
	}
	open, err := b.venue.OpenOrders(ctx, vendorCode)
	if err != nil {
		observability.Log().Error("cancel-all open-order query failed",
			observability.F("segment", b.segment), observability.F("symbol", symbol), observability.F("error", err.Error()))
		return nil
	}

	ids := make([]string, 0, len(open))
	for _, o := range open {
		if o.Status != schema.StatusNotTraded && o.Status != schema.StatusPartTraded {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[o.OrderID]; !ok {
				continue
			}
		}
		ids = append(ids, o.OrderID)
	}

	var cancelled []string
	chunks := chunkIDs(ids, b.limit)
	failed := 0
	for _, chunk := range chunks {
		done, err := b.venue.CancelBatch(ctx, vendorCode, chunk)
		observability.Metrics().BatchChunk(string(b.segment), err == nil)
		if err != nil {
			failed++
			observability.Log().Error("batch cancel chunk failed",
				observability.F("segment", b.segment), observability.F("symbol", symbol),
				observability.F("chunk_size", len(chunk)), observability.F("error", err.Error()))
			continue
		}
		cancelled = append(cancelled, done...)
	}
	if failed > 0 {
		b.sink.OnError(schema.NewErrorEvent(errs.New("oms/batch", errs.CodePartialBatch,
			errs.WithMessage(fmt.Sprintf("cancel-all %s: %d of %d chunks failed", symbol, failed, len(chunks))))))
	}
	if len(cancelled) > 0 {
		observability.Log().Info("batch cancel confirmed",
			observability.F("segment", b.segment), observability.F("symbol", symbol),
			observability.F("order_ids", cancelled))
	}
	return cancelled
}

// CloseAll flattens current holdings for the symbols with market orders
// sized at the available quantity. A nil direction closes both sides. The
// returned ids are the accepted close orders; per-side failures are logged
// and do not stop the remaining sides or symbols.
func (b *Batcher) CloseAll(ctx context.Context, symbols []string, direction *schema.Direction) []string {
	if len(symbols) == 0 {
		symbols = b.mapper.Symbols()
	}
	p := pool.NewWithResults[[]string]()
	for _, symbol := range symbols {
		p.Go(func() []string {
			return b.closeSymbol(ctx, symbol, direction)
		})
	}
	var out []string
	for _, ids := range p.Wait() {
		out = append(out, ids...)
	}
	return out
}

func (b *Batcher) closeSymbol(ctx context.Context, symbol string, direction *schema.Direction) []string {
	vendorCode, err := b.mapper.VendorCode(symbol)
	if err != nil {
		observability.Log().Error("close-all symbol unmapped",
			observability.F("segment", b.segment), observability.F("symbol", symbol), observability.F("error", err.Error()))
		return nil
	}
	holdings, err := b.venue.Holdings(ctx, vendorCode)
	if err != nil {
		observability.Log().Error("close-all position query failed",
			observability.F("segment", b.segment), observability.F("symbol", symbol), observability.F("error", err.Error()))
		return nil
	}

	var placed []string
	for _, h := range holdings {
		if wantSide(direction, schema.DirectionLong) && h.LongAvail.Sign() > 0 {
			if id, err := b.venue.PlaceMarketClose(ctx, h.VendorCode, schema.DirectionLong, h.LongAvail, h.LongAvgCost); err != nil {
				observability.Log().Error("close long failed",
					observability.F("segment", b.segment), observability.F("vendor_code", h.VendorCode), observability.F("error", err.Error()))
			} else {
				placed = append(placed, id)
			}
		}
		if wantSide(direction, schema.DirectionShort) && h.ShortAvail.Sign() > 0 {
			if id, err := b.venue.PlaceMarketClose(ctx, h.VendorCode, schema.DirectionShort, h.ShortAvail, h.ShortAvgCost); err != nil {
				observability.Log().Error("close short failed",
					observability.F("segment", b.segment), observability.F("vendor_code", h.VendorCode), observability.F("error", err.Error()))
			} else {
				placed = append(placed, id)
			}
		}
	}
	return placed
}

func wantSide(filter *schema.Direction, side schema.Direction) bool {
	return filter == nil || *filter == side
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 || len(ids) <= size {
		snapshot := make([]string, len(ids))
		copy(snapshot, ids)
		return [][]string{snapshot}
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]string, end-start)
		copy(chunk, ids[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}
