package oms

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/schema"
)

type recordingSink struct {
	mu     sync.Mutex
	orders []schema.Order
	trades []schema.Trade
	errors []schema.ErrorEvent
}

func (s *recordingSink) OnOrder(o schema.Order) {
	s.mu.Lock()
	s.orders = append(s.orders, o)
	s.mu.Unlock()
}

func (s *recordingSink) OnTrade(tr schema.Trade) {
	s.mu.Lock()
	s.trades = append(s.trades, tr)
	s.mu.Unlock()
}

func (s *recordingSink) OnPosition(schema.Position) {}
func (s *recordingSink) OnAccount(schema.Account)   {}
func (s *recordingSink) OnContract(schema.Contract) {}
func (s *recordingSink) OnTick(schema.Tick)         {}
func (s *recordingSink) OnError(e schema.ErrorEvent) {
	s.mu.Lock()
	s.errors = append(s.errors, e)
	s.mu.Unlock()
}

type recordingCanceller struct {
	mu    sync.Mutex
	sent  []string
	calls int
}

func (c *recordingCanceller) SendCancel(req schema.CancelRequest, exchangeID string) {
	c.mu.Lock()
	c.sent = append(c.sent, exchangeID)
	c.calls++
	c.mu.Unlock()
}

func newTestReconciler(sink schema.EventSink) (*Reconciler, *Registry) {
	registry := NewRegistry()
	ids := NewIDSource(time.Date(2019, 1, 22, 3, 0, 0, 0, time.UTC))
	rc := NewReconciler(schema.SegmentFutures, ids, registry, sink)
	return rc, registry
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func snapshot(exchangeID string, filled string, status schema.OrderStatus, avg string) schema.OrderSnapshot {
	return schema.OrderSnapshot{
		ExchangeID:   exchangeID,
		Symbol:       "eos_quarter",
		Segment:      schema.SegmentFutures,
		Direction:    schema.DirectionLong,
		Offset:       schema.OffsetOpen,
		Filled:       dec(filled),
		AvgFillPrice: dec(avg),
		Status:       status,
		Timestamp:    time.Now(),
	}
}

func TestPlaceBindFillScenario(t *testing.T) {
	sink := new(recordingSink)
	rc, registry := newTestReconciler(sink)

	rc.Track(schema.Order{
		LocalID:   "L1",
		Symbol:    "eos_quarter",
		Direction: schema.DirectionLong,
		Offset:    schema.OffsetOpen,
		Price:     dec("100"),
		TotalQty:  dec("1"),
	})
	if err := rc.Bind("L1", "E1"); err != nil {
		t.Fatal(err)
	}

	if err := rc.Apply(snapshot("E1", "1", schema.StatusAllTraded, "100")); err != nil {
		t.Fatal(err)
	}

	if len(sink.trades) != 1 {
		t.Fatalf("want 1 trade, got %d", len(sink.trades))
	}
	tr := sink.trades[0]
	if !tr.Quantity.Equal(dec("1")) || !tr.Price.Equal(dec("100")) {
		t.Errorf("trade = qty %s price %s", tr.Quantity, tr.Price)
	}
	last := sink.orders[len(sink.orders)-1]
	if last.Status != schema.StatusAllTraded {
		t.Errorf("final status = %s", last.Status)
	}
	if _, ok := registry.ResolveExchangeID("L1"); ok {
		t.Error("identifier mapping should be released after terminal state")
	}
	if _, ok := registry.ResolveLocalID("E1"); ok {
		t.Error("reverse mapping should be released after terminal state")
	}
}

func TestTradeQuantitiesSumToFinalCumulative(t *testing.T) {
	sink := new(recordingSink)
	rc, _ := newTestReconciler(sink)

	rc.Track(schema.Order{LocalID: "L1", Symbol: "eos_quarter", TotalQty: dec("10")})
	if err := rc.Bind("L1", "E1"); err != nil {
		t.Fatal(err)
	}

	steps := []string{"2", "2", "5", "7", "10"}
	for i, filled := range steps {
		status := schema.StatusPartTraded
		if i == len(steps)-1 {
			status = schema.StatusAllTraded
		}
		if err := rc.Apply(snapshot("E1", filled, status, "3.1")); err != nil {
			t.Fatalf("apply %s: %v", filled, err)
		}
	}

	sum := decimal.Zero
	for _, tr := range sink.trades {
		sum = sum.Add(tr.Quantity)
	}
	if !sum.Equal(dec("10")) {
		t.Errorf("trade quantities sum to %s, want 10", sum)
	}
	// The repeated "2" snapshot carries a zero delta and emits nothing.
	if len(sink.trades) != 4 {
		t.Errorf("want 4 trades, got %d", len(sink.trades))
	}
}

func TestStaleSnapshotRejectedWithoutMutation(t *testing.T) {
	sink := new(recordingSink)
	rc, _ := newTestReconciler(sink)

	rc.Track(schema.Order{LocalID: "L1", Symbol: "eos_quarter", TotalQty: dec("10")})
	if err := rc.Bind("L1", "E1"); err != nil {
		t.Fatal(err)
	}
	if err := rc.Apply(snapshot("E1", "5", schema.StatusPartTraded, "3.1")); err != nil {
		t.Fatal(err)
	}
	trades := len(sink.trades)

	err := rc.Apply(snapshot("E1", "3", schema.StatusPartTraded, "3.0"))
	if !errs.IsCode(err, errs.CodeStaleUpdate) {
		t.Fatalf("want StaleUpdate, got %v", err)
	}
	if len(sink.trades) != trades {
		t.Error("stale snapshot must not emit a trade")
	}
	rec, ok := rc.Lookup("L1")
	if !ok {
		t.Fatal("record evicted by stale update")
	}
	if !rec.TradedQty.Equal(dec("5")) {
		t.Errorf("cumulative decreased to %s", rec.TradedQty)
	}
}

func TestUnknownExchangeIDAdopted(t *testing.T) {
	sink := new(recordingSink)
	rc, registry := newTestReconciler(sink)

	snap := snapshot("E9", "1", schema.StatusPartTraded, "4.2")
	snap.TotalQty = dec("3")
	if err := rc.Apply(snap); err != nil {
		t.Fatalf("adoption must not fail: %v", err)
	}
	if len(sink.orders) != 1 || len(sink.trades) != 1 {
		t.Fatalf("orders=%d trades=%d", len(sink.orders), len(sink.trades))
	}
	local := sink.orders[0].LocalID
	if local == "" {
		t.Fatal("adopted order needs a synthesized local id")
	}
	if remote, ok := registry.ResolveExchangeID(local); !ok || remote != "E9" {
		t.Errorf("adopted order not registered: %q, %v", remote, ok)
	}
}

func TestAckSnapshotFindsPlacedRecordByClientOrderID(t *testing.T) {
	sink := new(recordingSink)
	rc, _ := newTestReconciler(sink)

	rc.Track(schema.Order{LocalID: "L7", Symbol: "eos_quarter", TotalQty: dec("2"), Price: dec("3")})

	snap := snapshot("E7", "0", schema.StatusNotTraded, "0")
	snap.ClientOrderID = "L7"
	if err := rc.Apply(snap); err != nil {
		t.Fatal(err)
	}
	if got := sink.orders[0].LocalID; got != "L7" {
		t.Errorf("snapshot should attach to the placed record, got local id %q", got)
	}
	if len(sink.trades) != 0 {
		t.Error("zero fill must not emit a trade")
	}
}

func TestQueuedCancelReplayedExactlyOnceOnBind(t *testing.T) {
	sink := new(recordingSink)
	rc, _ := newTestReconciler(sink)
	canceller := new(recordingCanceller)
	rc.SetCancelSender(canceller)

	rc.Track(schema.Order{LocalID: "L2", Symbol: "eos_quarter", TotalQty: dec("1")})
	rc.Cancel(schema.CancelRequest{Symbol: "eos_quarter", LocalID: "L2"})
	if canceller.calls != 0 {
		t.Fatal("cancel must queue before binding, not send")
	}

	if err := rc.Bind("L2", "E2"); err != nil {
		t.Fatal(err)
	}
	if canceller.calls != 1 {
		t.Fatalf("want exactly one replayed cancel, got %d", canceller.calls)
	}
	if canceller.sent[0] != "E2" {
		t.Errorf("cancel sent for %q, want E2", canceller.sent[0])
	}

	// A later cancel for the now-bound order goes straight out.
	rc.Cancel(schema.CancelRequest{Symbol: "eos_quarter", LocalID: "L2"})
	if canceller.calls != 2 {
		t.Errorf("direct cancel not sent, calls=%d", canceller.calls)
	}
}

func TestVendorRejectionCapturedVerbatim(t *testing.T) {
	sink := new(recordingSink)
	rc, registry := newTestReconciler(sink)

	rc.Track(schema.Order{LocalID: "L3", Symbol: "eos_quarter", TotalQty: dec("1")})
	rc.Reject("L3", errs.New("okex/futures", errs.CodeVendorRejection,
		errs.WithRawCode("32019"), errs.WithRawMessage("order price deviates")))

	last := sink.orders[len(sink.orders)-1]
	if last.Status != schema.StatusRejected {
		t.Fatalf("status = %s", last.Status)
	}
	if last.RejectReason != "32019 order price deviates" {
		t.Errorf("reason = %q", last.RejectReason)
	}
	if _, ok := registry.ResolveExchangeID("L3"); ok {
		t.Error("rejected order must release its mapping")
	}
}

func TestTransportFailureTaggedAsConnector(t *testing.T) {
	sink := new(recordingSink)
	rc, _ := newTestReconciler(sink)

	rc.Track(schema.Order{LocalID: "L4", Symbol: "eos_quarter", TotalQty: dec("1")})
	rc.Reject("L4", errs.New("okex/futures", errs.CodeTransport, errs.WithMessage("request timed out")))

	last := sink.orders[len(sink.orders)-1]
	if last.RejectReason != "connector: request timed out" {
		t.Errorf("reason = %q, want connector-tagged", last.RejectReason)
	}
}

func TestLateSnapshotAfterTerminalAdoptsFresh(t *testing.T) {
	sink := new(recordingSink)
	rc, _ := newTestReconciler(sink)

	rc.Track(schema.Order{LocalID: "L5", TotalQty: dec("1"), Symbol: "eos_quarter"})
	if err := rc.Bind("L5", "E5"); err != nil {
		t.Fatal(err)
	}
	if err := rc.Apply(snapshot("E5", "1", schema.StatusAllTraded, "2")); err != nil {
		t.Fatal(err)
	}

	// A duplicate of the final push arriving after eviction is treated as an
	// order seen for the first time: adoption starts from zero cumulative,
	// so the full quantity is the delta.
	before := len(sink.trades)
	if err := rc.Apply(snapshot("E5", "1", schema.StatusAllTraded, "2")); err != nil {
		t.Fatal(err)
	}
	if len(sink.trades) != before+1 {
		t.Errorf("adopted duplicate emitted %d trades, want 1", len(sink.trades)-before)
	}
	if sink.trades[len(sink.trades)-1].LocalID == "L5" {
		t.Error("re-adopted order must carry a fresh local id")
	}
}
