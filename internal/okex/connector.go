package okex

import (
	"context"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/instrument"
	"github.com/tradeforge/okexgw/internal/observability"
	"github.com/tradeforge/okexgw/internal/oms"
	"github.com/tradeforge/okexgw/internal/schema"
	"github.com/tradeforge/okexgw/internal/sign"
	"github.com/tradeforge/okexgw/lib/async"
)

// Connector runs one market segment end to end: instrument mapping, signed
// REST, the authenticated websocket and order reconciliation. The three
// segments differ only by their segmentSpec.
type Connector struct {
	spec       *segmentSpec
	rest       *restSurface
	mapper     *instrument.Mapper
	registry   *oms.Registry
	reconciler *oms.Reconciler
	batcher    *oms.Batcher
	ws         *wsSession
	sink       schema.EventSink
	pool       *async.Pool

	ctx context.Context

	tickMu     sync.Mutex
	ticks      map[string]*schema.Tick
	marketSubs map[string]struct{}
}

// ConnectorConfig wires one segment connector.
type ConnectorConfig struct {
	Segment  schema.Segment
	RESTHost string
	WSHost   string
	Signer   *sign.Signer
	Sink     schema.EventSink
	Options  OrderOptions
	IDs      *oms.IDSource
	Pool     *async.Pool
	Timeout  time.Duration
}

// NewConnector builds a disconnected segment connector.
func NewConnector(ctx context.Context, cfg ConnectorConfig) (*Connector, error) {
	var spec *segmentSpec
	switch cfg.Segment {
	case schema.SegmentFutures:
		spec = futuresSpec()
	case schema.SegmentSwap:
		spec = swapSpec()
	case schema.SegmentSpot:
		spec = spotSpec()
	default:
		return nil, errs.New("okex/connector", errs.CodeInvalid,
			errs.WithMessage("unknown segment "+string(cfg.Segment)))
	}
	sink := cfg.Sink
	if sink == nil {
		sink = schema.NopSink{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = oms.NewIDSource(time.Now())
	}

	mapper := instrument.New(cfg.Segment)
	client := newRESTClient(cfg.RESTHost, cfg.Signer, cfg.Timeout)
	rest := newRESTSurface(spec, client, mapper, cfg.Options)
	registry := oms.NewRegistry()
	reconciler := oms.NewReconciler(cfg.Segment, ids, registry, sink)
	batcher := oms.NewBatcher(cfg.Segment, rest, mapper, oms.DefaultBatchLimit)
	batcher.SetSink(sink)

	c := &Connector{
		spec:       spec,
		rest:       rest,
		mapper:     mapper,
		registry:   registry,
		reconciler: reconciler,
		batcher:    batcher,
		sink:       sink,
		pool:       cfg.Pool,
		ctx:        ctx,
		ticks:      make(map[string]*schema.Tick),
		marketSubs: make(map[string]struct{}),
	}
	reconciler.SetCancelSender(c)
	c.ws = newWSSession(ctx, cfg.WSHost, cfg.Signer, c.handlePush, c.onLogin, c.onWSError)
	return c, nil
}

// Segment reports which market segment this connector serves.
func (c *Connector) Segment() schema.Segment { return c.spec.segment }

// Symbols lists the generic symbols currently mapped for the segment.
func (c *Connector) Symbols() []string { return c.mapper.Symbols() }

// Connect loads the instrument table, opens the websocket session and runs
// the initial account, position and open-order queries.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.RefreshInstruments(ctx); err != nil {
		return err
	}
	if err := c.ws.start(); err != nil {
		return errs.New(c.source(), errs.CodeTransport,
			errs.WithMessage("websocket session"), errs.WithCause(err))
	}
	c.QueryAccounts(ctx)
	c.QueryPositions(ctx)
	c.QueryOpenOrders(ctx)
	return nil
}

// Close tears down the websocket session.
func (c *Connector) Close() { c.ws.stop() }

func (c *Connector) source() string { return "okex/" + string(c.spec.segment) }

// RefreshInstruments rebuilds the symbol table from the public listing and
// publishes one contract event per mapped instrument. Listing anomalies are
// surfaced as error events, never silently truncated.
func (c *Connector) RefreshInstruments(ctx context.Context) error {
	listings, err := c.rest.Instruments(ctx)
	if err != nil {
		return err
	}
	if c.spec.segment == schema.SegmentFutures {
		for _, anomaly := range c.mapper.RebuildFutures(listings) {
			c.sink.OnError(schema.NewErrorEvent(anomaly))
			observability.Log().Warn("instrument listing anomaly",
				observability.F("segment", c.spec.segment), observability.F("error", anomaly.Error()))
		}
	} else {
		c.mapper.RebuildIdentity(listings)
	}
	for _, contract := range c.mapper.Contracts() {
		c.sink.OnContract(contract)
	}
	return c.subscribeOrderChannels()
}

func (c *Connector) subscribeOrderChannels() error {
	contracts := c.mapper.Contracts()
	channels := make([]string, 0, len(contracts))
	for _, contract := range contracts {
		channels = append(channels, c.spec.wsPrefix+"/order:"+contract.VendorCode)
	}
	return c.ws.subscribe(channels)
}

// SendOrder assigns a local id, seeds the order record and submits the
// placement asynchronously. The local id is returned immediately; the
// acknowledgment or rejection arrives through the event sink.
func (c *Connector) SendOrder(req schema.OrderRequest) (string, error) {
	vendorCode, err := c.mapper.VendorCode(req.Symbol)
	if err != nil {
		return "", err
	}
	localID := c.reconciler.NextLocalID()
	c.reconciler.Track(schema.Order{
		LocalID:   localID,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Offset:    req.Offset,
		Price:     req.Price,
		TotalQty:  req.Quantity,
	})
	observability.Metrics().OrderPlaced(string(c.spec.segment))

	task := func(ctx context.Context) error {
		exchangeID, err := c.rest.PlaceOrder(ctx, vendorCode, localID, req)
		if err != nil {
			c.rejectPlacement(localID, err)
			return nil
		}
		if err := c.reconciler.Bind(localID, exchangeID); err != nil {
			c.reportError(err)
		}
		return nil
	}
	if err := c.submit(task); err != nil {
		c.rejectPlacement(localID, err)
	}
	return localID, nil
}

func (c *Connector) rejectPlacement(localID string, err error) {
	e := asE(c.source(), err)
	c.reconciler.Reject(localID, e)
	c.reportError(e)
}

// CancelOrder requests cancellation; unacknowledged orders have the cancel
// queued until the exchange id binds.
func (c *Connector) CancelOrder(req schema.CancelRequest) {
	c.reconciler.Cancel(req)
}

// SendCancel issues the signed cancel call for a bound order. Invoked by the
// reconciler, including for queued cancels replayed on bind.
func (c *Connector) SendCancel(req schema.CancelRequest, exchangeID string) {
	vendorCode, err := c.mapper.VendorCode(req.Symbol)
	if err != nil {
		c.reportError(err)
		return
	}
	task := func(ctx context.Context) error {
		if err := c.rest.CancelOrder(ctx, vendorCode, exchangeID); err != nil {
			c.reportError(err)
		}
		return nil
	}
	if err := c.submit(task); err != nil {
		c.reportError(err)
	}
}

// CancelAll cancels open orders across symbols in vendor-limit chunks.
func (c *Connector) CancelAll(ctx context.Context, symbols, orderIDs []string) []string {
	return c.batcher.CancelAll(ctx, symbols, orderIDs)
}

// CloseAll flattens held positions with best-price market orders.
func (c *Connector) CloseAll(ctx context.Context, symbols []string, direction *schema.Direction) []string {
	return c.batcher.CloseAll(ctx, symbols, direction)
}

// QueryAccounts publishes a balance snapshot per currency.
func (c *Connector) QueryAccounts(ctx context.Context) {
	accounts, err := c.rest.Accounts(ctx)
	if err != nil {
		c.reportError(err)
		return
	}
	for _, account := range accounts {
		c.sink.OnAccount(account)
	}
}

// QueryPositions publishes a position snapshot per (symbol, side).
func (c *Connector) QueryPositions(ctx context.Context) {
	if !c.spec.hasPositions {
		return
	}
	for _, contract := range c.mapper.Contracts() {
		positions, err := c.rest.Positions(ctx, contract.VendorCode)
		if err != nil {
			c.reportError(err)
			continue
		}
		for _, position := range positions {
			c.sink.OnPosition(position)
		}
	}
}

// QueryOpenOrders reconciles every resting order through the same path the
// websocket push uses, so poll and push snapshots stay interchangeable.
func (c *Connector) QueryOpenOrders(ctx context.Context) {
	for _, contract := range c.mapper.Contracts() {
		snaps, failures := c.rest.OpenOrderSnapshots(ctx, contract.VendorCode)
		for _, err := range failures {
			c.reportError(err)
		}
		for _, snap := range snaps {
			if err := c.reconciler.Apply(snap); err != nil {
				c.reportError(err)
			}
		}
	}
}

// Candles fetches history bars for a symbol.
func (c *Connector) Candles(ctx context.Context, symbol string, granularitySeconds int, start, end string) ([]schema.Bar, error) {
	vendorCode, err := c.mapper.VendorCode(symbol)
	if err != nil {
		return nil, err
	}
	return c.rest.Candles(ctx, vendorCode, granularitySeconds, start, end)
}

// SubscribeMarketData opens the ticker, depth and trade channels for the
// symbol. A tick is published once both book and last price are populated.
func (c *Connector) SubscribeMarketData(symbol string) error {
	vendorCode, err := c.mapper.VendorCode(symbol)
	if err != nil {
		return err
	}
	c.tickMu.Lock()
	if _, ok := c.marketSubs[vendorCode]; ok {
		c.tickMu.Unlock()
		return nil
	}
	c.marketSubs[vendorCode] = struct{}{}
	c.ticks[vendorCode] = &schema.Tick{Symbol: symbol, Segment: c.spec.segment}
	c.tickMu.Unlock()

	return c.ws.subscribe([]string{
		c.spec.wsPrefix + "/ticker:" + vendorCode,
		c.spec.wsPrefix + "/depth5:" + vendorCode,
		c.spec.wsPrefix + "/trade:" + vendorCode,
	})
}

func (c *Connector) onLogin() {
	observability.Log().Info("websocket session authenticated",
		observability.F("segment", c.spec.segment))
}

func (c *Connector) onWSError(err error) {
	c.reportError(errs.New(c.source(), errs.CodeTransport,
		errs.WithMessage("websocket"), errs.WithCause(err)))
}

// handlePush routes a websocket table to its decoder.
func (c *Connector) handlePush(table string, data []json.RawMessage) {
	prefix, channel, found := strings.Cut(table, "/")
	if !found || prefix != c.spec.wsPrefix {
		return
	}
	switch channel {
	case "order":
		c.handleOrderPush(data)
	case "ticker":
		c.handleTickerPush(data)
	case "depth5":
		c.handleDepthPush(data)
	case "trade":
		c.handleTradePush(data)
	}
}

func (c *Connector) handleOrderPush(data []json.RawMessage) {
	for _, raw := range data {
		var record orderRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			c.reportError(errs.New(c.source(), errs.CodeTransport,
				errs.WithMessage("decode order push"), errs.WithCause(err)))
			continue
		}
		snap, err := normalizeOrder(c.spec, c.mapper, record)
		if err != nil {
			c.reportError(err)
			continue
		}
		if err := c.reconciler.Apply(snap); err != nil {
			c.reportError(err)
		}
	}
}

func (c *Connector) handleTickerPush(data []json.RawMessage) {
	for _, raw := range data {
		var record tickerRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		c.updateTick(record.InstrumentID, func(tick *schema.Tick) {
			tick.LastPrice = parseDecimal(record.Last)
			tick.High24h = parseDecimal(record.High24h)
			tick.Low24h = parseDecimal(record.Low24h)
			tick.Volume24h = parseDecimal(record.Volume24h)
			tick.Timestamp = parseTimestamp(record.Timestamp)
		})
	}
}

func (c *Connector) handleDepthPush(data []json.RawMessage) {
	for _, raw := range data {
		var record depthRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		c.updateTick(record.InstrumentID, func(tick *schema.Tick) {
			for i := 0; i < len(tick.BidPrices) && i < len(record.Bids); i++ {
				if len(record.Bids[i]) >= 2 {
					tick.BidPrices[i] = parseDecimal(record.Bids[i][0])
					tick.BidQtys[i] = parseDecimal(record.Bids[i][1])
				}
			}
			for i := 0; i < len(tick.AskPrices) && i < len(record.Asks); i++ {
				if len(record.Asks[i]) >= 2 {
					tick.AskPrices[i] = parseDecimal(record.Asks[i][0])
					tick.AskQtys[i] = parseDecimal(record.Asks[i][1])
				}
			}
			tick.Timestamp = parseTimestamp(record.Timestamp)
		})
	}
}

func (c *Connector) handleTradePush(data []json.RawMessage) {
	for _, raw := range data {
		var record wsTradeRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		c.updateTick(record.InstrumentID, func(tick *schema.Tick) {
			tick.LastPrice = parseDecimal(record.Price)
			qty := record.Size
			if qty == "" {
				qty = record.Qty
			}
			tick.LastQty = parseDecimal(qty)
			tick.Timestamp = parseTimestamp(record.Timestamp)
		})
	}
}

// updateTick mutates the cached tick under lock and publishes a copy when
// the tick is complete enough to act on.
func (c *Connector) updateTick(vendorCode string, mutate func(*schema.Tick)) {
	c.tickMu.Lock()
	tick, ok := c.ticks[vendorCode]
	if !ok {
		c.tickMu.Unlock()
		return
	}
	mutate(tick)
	ready := tick.Ready()
	published := *tick
	c.tickMu.Unlock()
	if ready {
		c.sink.OnTick(published)
	}
}

func (c *Connector) submit(task async.Task) error {
	if c.pool == nil {
		go func() {
			_ = task(c.ctx)
		}()
		return nil
	}
	return c.pool.Submit(c.ctx, task)
}

func (c *Connector) reportError(err error) {
	if err == nil {
		return
	}
	e := asE(c.source(), err)
	c.sink.OnError(schema.NewErrorEvent(e))
	observability.Log().Error("connector error",
		observability.F("segment", c.spec.segment), observability.F("error", e.Error()))
}

// asE normalizes any error into the structured envelope, wrapping foreign
// errors as transport failures.
func asE(source string, err error) *errs.E {
	if e, ok := err.(*errs.E); ok && e != nil {
		return e
	}
	return errs.New(source, errs.CodeTransport,
		errs.WithMessage(err.Error()), errs.WithCause(err))
}
