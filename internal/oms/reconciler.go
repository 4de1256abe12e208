package oms

import (
	"sync"
	"time"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/observability"
	"github.com/tradeforge/okexgw/internal/schema"
)

// CancelSender issues a signed cancel request for a bound order. Implemented
// by the segment connector; invoked outside the reconciler lock because it
// performs network I/O.
type CancelSender interface {
	SendCancel(req schema.CancelRequest, exchangeID string)
}

// Reconciler keeps one authoritative order record per exchange id and turns
// cumulative filled-quantity snapshots into discrete trade events exactly
// once. Snapshots from the REST poll and the WS push arrive normalized to
// the same shape; only recency and identity matter here.
type Reconciler struct {
	segment  schema.Segment
	ids      *IDSource
	registry *Registry
	sink     schema.EventSink
	cancels  CancelSender
	now      func() time.Time

	mu         sync.Mutex
	byExchange map[string]*schema.Order
	byLocal    map[string]*schema.Order
}

// NewReconciler builds a reconciler for one market segment.
func NewReconciler(segment schema.Segment, ids *IDSource, registry *Registry, sink schema.EventSink) *Reconciler {
	if sink == nil {
		sink = schema.NopSink{}
	}
	return &Reconciler{
		segment:    segment,
		ids:        ids,
		registry:   registry,
		sink:       sink,
		now:        time.Now,
		byExchange: make(map[string]*schema.Order),
		byLocal:    make(map[string]*schema.Order),
	}
}

// SetCancelSender wires the connector used to replay queued cancels.
func (rc *Reconciler) SetCancelSender(cs CancelSender) { rc.cancels = cs }

// SetClock overrides the time source, for tests.
func (rc *Reconciler) SetClock(clock func() time.Time) {
	if clock != nil {
		rc.now = clock
	}
}

// NextLocalID assigns a session-monotonic local order id.
func (rc *Reconciler) NextLocalID() string { return rc.ids.NextLocalID() }

// Track seeds the record for a freshly placed order (local id only) and
// registers the id so inbound acknowledgments can find it.
func (rc *Reconciler) Track(order schema.Order) {
	order.Segment = rc.segment
	if order.Status == "" {
		order.Status = schema.StatusPlaced
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = rc.now()
	}
	rc.registry.RegisterLocal(order.LocalID)
	rc.mu.Lock()
	rec := order
	rc.byLocal[order.LocalID] = &rec
	rc.mu.Unlock()
}

// Bind attaches the exchange id delivered by the placement acknowledgment.
// A cancel queued before the acknowledgment is replayed immediately.
func (rc *Reconciler) Bind(localID, exchangeID string) error {
	replay, hasReplay, err := rc.registry.BindExchangeID(localID, exchangeID)
	if err != nil {
		return err
	}
	rc.mu.Lock()
	if rec, ok := rc.byLocal[localID]; ok {
		rec.ExchangeID = exchangeID
		rc.byExchange[exchangeID] = rec
	}
	rc.mu.Unlock()

	if hasReplay && rc.cancels != nil {
		rc.cancels.SendCancel(replay, exchangeID)
	}
	return nil
}

// Reject transitions an order straight to Rejected. Used for vendor-reported
// placement failures and for transport failures alike; the reason string
// keeps the two distinguishable.
func (rc *Reconciler) Reject(localID string, cause *errs.E) {
	rc.mu.Lock()
	rec, ok := rc.byLocal[localID]
	if !ok {
		rc.mu.Unlock()
		return
	}
	rec.Status = schema.StatusRejected
	rec.RejectReason = cause.Reason()
	rec.DeliveredAt = rc.now()
	published := rec.Clone()
	exchangeID := rec.ExchangeID
	delete(rc.byLocal, localID)
	if exchangeID != "" {
		delete(rc.byExchange, exchangeID)
	}
	rc.mu.Unlock()

	rc.sink.OnOrder(published)
	rc.registry.Release(localID, exchangeID)
	observability.Metrics().OrderRejected(string(rc.segment), rejectOrigin(cause))
}

func rejectOrigin(cause *errs.E) string {
	if cause != nil && cause.Code == errs.CodeTransport {
		return "connector"
	}
	return "vendor"
}

// Cancel resolves the exchange id and either sends the cancel or queues it
// until the placement acknowledgment binds one.
func (rc *Reconciler) Cancel(req schema.CancelRequest) {
	exchangeID, queued := rc.registry.QueueCancel(req.LocalID, req)
	if queued {
		observability.Log().Info("cancel queued until exchange id binds",
			observability.F("segment", rc.segment), observability.F("local_id", req.LocalID))
		return
	}
	if rc.cancels != nil {
		rc.cancels.SendCancel(req, exchangeID)
	}
}

// Apply runs the five-step update procedure for one normalized snapshot.
// Returns a StaleUpdate error when the snapshot would decrease the recorded
// cumulative fill; the record is left untouched in that case.
func (rc *Reconciler) Apply(snap schema.OrderSnapshot) error {
	var replay schema.CancelRequest
	var hasReplay bool

	rc.mu.Lock()
	rec, known := rc.byExchange[snap.ExchangeID]
	if !known {
		rec, replay, hasReplay = rc.adoptLocked(snap)
	}

	delta := snap.Filled.Sub(rec.TradedQty)
	if delta.Sign() < 0 {
		rc.mu.Unlock()
		observability.Metrics().StaleUpdate(string(rc.segment))
		return errs.New("oms/reconciler", errs.CodeStaleUpdate,
			errs.WithMessage("cumulative fill for "+snap.ExchangeID+" decreased from "+
				rec.TradedQty.String()+" to "+snap.Filled.String()))
	}

	if delta.Sign() > 0 {
		rec.TradedQty = snap.Filled
	}
	rec.ThisTraded = delta
	rec.Status = snap.Status
	rec.AvgFillPrice = snap.AvgFillPrice
	if !snap.Price.IsZero() {
		rec.Price = snap.Price
	}
	if !snap.TotalQty.IsZero() {
		rec.TotalQty = snap.TotalQty
	}
	rec.DeliveredAt = rc.now()

	published := rec.Clone()
	var trade schema.Trade
	emitTrade := delta.Sign() > 0
	if emitTrade {
		trade = schema.Trade{
			TradeID:    rc.ids.NextTradeID(),
			LocalID:    rec.LocalID,
			ExchangeID: rec.ExchangeID,
			Symbol:     rec.Symbol,
			Segment:    rc.segment,
			Direction:  rec.Direction,
			Offset:     rec.Offset,
			Quantity:   delta,
			Price:      snap.AvgFillPrice,
			Time:       rc.now(),
		}
	}

	terminal := rec.Status.Terminal()
	localID := rec.LocalID
	if terminal {
		delete(rc.byExchange, rec.ExchangeID)
		delete(rc.byLocal, localID)
	}
	rc.mu.Unlock()

	rc.sink.OnOrder(published)
	if emitTrade {
		rc.sink.OnTrade(trade)
		observability.Metrics().TradeSynthesized(string(rc.segment))
	}
	if terminal {
		rc.registry.Release(localID, snap.ExchangeID)
	}
	if hasReplay && !terminal && rc.cancels != nil {
		rc.cancels.SendCancel(replay, snap.ExchangeID)
	}
	return nil
}

// adoptLocked resolves a snapshot for an exchange id with no record yet:
// either the acknowledgment raced the push and the client order id finds the
// placed record, or the order was opened by another session and a fresh
// local id is synthesized. Never an error.
func (rc *Reconciler) adoptLocked(snap schema.OrderSnapshot) (*schema.Order, schema.CancelRequest, bool) {
	if snap.ClientOrderID != "" {
		if rec, ok := rc.byLocal[snap.ClientOrderID]; ok {
			rec.ExchangeID = snap.ExchangeID
			rc.byExchange[snap.ExchangeID] = rec
			replay, hasReplay, err := rc.registry.BindExchangeID(rec.LocalID, snap.ExchangeID)
			if err != nil {
				observability.Log().Error("bind during adoption failed",
					observability.F("local_id", rec.LocalID), observability.F("error", err.Error()))
			}
			return rec, replay, hasReplay
		}
	}

	localID := snap.ClientOrderID
	if localID == "" {
		localID = rc.ids.NextLocalID()
	}
	rec := &schema.Order{
		LocalID:    localID,
		ExchangeID: snap.ExchangeID,
		Symbol:     snap.Symbol,
		Segment:    rc.segment,
		Direction:  snap.Direction,
		Offset:     snap.Offset,
		Price:      snap.Price,
		TotalQty:   snap.TotalQty,
		Status:     schema.StatusNotTraded,
		CreatedAt:  snap.Timestamp,
	}
	rc.byLocal[localID] = rec
	rc.byExchange[snap.ExchangeID] = rec
	rc.registry.RegisterLocal(localID)
	replay, hasReplay, err := rc.registry.BindExchangeID(localID, snap.ExchangeID)
	if err != nil {
		observability.Log().Error("bind for adopted order failed",
			observability.F("local_id", localID), observability.F("error", err.Error()))
	}
	observability.Log().Info("order adopted from another source",
		observability.F("segment", rc.segment), observability.F("exchange_id", snap.ExchangeID))
	return rec, replay, hasReplay
}

// Lookup returns a copy of the tracked order for the local id, if present.
func (rc *Reconciler) Lookup(localID string) (schema.Order, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rec, ok := rc.byLocal[localID]; ok {
		return rec.Clone(), true
	}
	return schema.Order{}, false
}
