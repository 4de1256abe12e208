package okex

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/oms"
	"github.com/tradeforge/okexgw/internal/schema"
	"github.com/tradeforge/okexgw/internal/sign"
	"github.com/tradeforge/okexgw/lib/async"
)

const defaultQueryInterval = 6 * time.Second

// GatewayConfig wires the whole venue connection.
type GatewayConfig struct {
	APIKey     string
	APISecret  string
	Passphrase string

	RESTHost string
	WSHost   string

	// Segments selects which market segments to run; empty means all three.
	Segments []schema.Segment

	Leverage int
	Margin   bool

	// QueryInterval paces the background account/position poll. Zero uses
	// the default; negative disables the loop.
	QueryInterval time.Duration

	HTTPTimeout time.Duration
	Workers     int
	QueueDepth  int
}

// Gateway is the venue facade: it owns one connector per configured segment
// and routes requests to the segment named on them.
type Gateway struct {
	sink       schema.EventSink
	connectors map[schema.Segment]*Connector
	pool       *async.Pool
	interval   time.Duration

	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewGateway builds a disconnected gateway.
func NewGateway(ctx context.Context, cfg GatewayConfig, sink schema.EventSink) (*Gateway, context.Context, error) {
	if sink == nil {
		sink = schema.NopSink{}
	}
	segments := cfg.Segments
	if len(segments) == 0 {
		segments = []schema.Segment{schema.SegmentFutures, schema.SegmentSwap, schema.SegmentSpot}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	queue := cfg.QueueDepth
	if queue <= 0 {
		queue = 256
	}
	pool, err := async.NewPool(workers, queue)
	if err != nil {
		return nil, nil, err
	}

	interval := cfg.QueryInterval
	if interval == 0 {
		interval = defaultQueryInterval
	}

	gwCtx, cancel := context.WithCancel(ctx)
	signer := &sign.Signer{Key: cfg.APIKey, Secret: cfg.APISecret, Passphrase: cfg.Passphrase}
	ids := oms.NewIDSource(time.Now())

	g := &Gateway{
		sink:       sink,
		connectors: make(map[schema.Segment]*Connector, len(segments)),
		pool:       pool,
		interval:   interval,
		cancel:     cancel,
	}
	for _, segment := range segments {
		connector, err := NewConnector(gwCtx, ConnectorConfig{
			Segment:  segment,
			RESTHost: cfg.RESTHost,
			WSHost:   cfg.WSHost,
			Signer:   signer,
			Sink:     sink,
			Options:  OrderOptions{Leverage: cfg.Leverage, Margin: cfg.Margin},
			IDs:      ids,
			Pool:     pool,
			Timeout:  cfg.HTTPTimeout,
		})
		if err != nil {
			cancel()
			pool.Close()
			return nil, nil, err
		}
		g.connectors[segment] = connector
	}
	return g, gwCtx, nil
}

// Connect brings every segment online and starts the background query loop.
// A segment that fails to connect is reported and skipped; the gateway runs
// with whatever connected.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}

	connected := 0
	for _, connector := range g.connectors {
		if err := connector.Connect(ctx); err != nil {
			g.sink.OnError(schema.NewErrorEvent(asE("okex/gateway", err)))
			continue
		}
		connected++
	}
	if connected == 0 {
		return errs.New("okex/gateway", errs.CodeUnavailable,
			errs.WithMessage("no segment connected"))
	}

	if g.interval > 0 {
		g.loopWG.Add(1)
		go g.queryLoop(ctx)
	}
	g.started = true
	return nil
}

// Close stops the query loop, the websocket sessions and the worker pool.
func (g *Gateway) Close() {
	g.cancel()
	g.loopWG.Wait()
	for _, connector := range g.connectors {
		connector.Close()
	}
	g.pool.Close()
}

// queryLoop rotates through the account, position and open-order polls so
// no single query starves the rate limiter. The open-order poll feeds the
// reconciler the REST view of every resting order, repairing any push the
// websocket dropped.
func (g *Gateway) queryLoop(ctx context.Context) {
	defer g.loopWG.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	polls := []func(*Connector, context.Context){
		(*Connector).QueryAccounts,
		(*Connector).QueryPositions,
		(*Connector).QueryOpenOrders,
	}
	phase := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll := polls[phase%len(polls)]
			var wg conc.WaitGroup
			for _, connector := range g.connectors {
				wg.Go(func() {
					poll(connector, ctx)
				})
			}
			wg.Wait()
			phase++
		}
	}
}

func (g *Gateway) connector(segment schema.Segment) (*Connector, error) {
	if connector, ok := g.connectors[segment]; ok {
		return connector, nil
	}
	return nil, errs.New("okex/gateway", errs.CodeInvalid,
		errs.WithMessage("segment "+string(segment)+" not configured"))
}

// SendOrder routes a placement to the connector for the request's segment
// and returns the assigned local order id.
func (g *Gateway) SendOrder(req schema.OrderRequest) (string, error) {
	connector, err := g.connector(req.Segment)
	if err != nil {
		return "", err
	}
	return connector.SendOrder(req)
}

// CancelOrder routes a cancel to the owning segment.
func (g *Gateway) CancelOrder(req schema.CancelRequest) error {
	connector, err := g.connector(req.Segment)
	if err != nil {
		return err
	}
	connector.CancelOrder(req)
	return nil
}

// CancelAll cancels open orders on the segment, optionally restricted to
// specific symbols or exchange order ids.
func (g *Gateway) CancelAll(ctx context.Context, segment schema.Segment, symbols, orderIDs []string) ([]string, error) {
	connector, err := g.connector(segment)
	if err != nil {
		return nil, err
	}
	return connector.CancelAll(ctx, symbols, orderIDs), nil
}

// CloseAll flattens held positions on the segment with market orders.
func (g *Gateway) CloseAll(ctx context.Context, segment schema.Segment, symbols []string, direction *schema.Direction) ([]string, error) {
	connector, err := g.connector(segment)
	if err != nil {
		return nil, err
	}
	return connector.CloseAll(ctx, symbols, direction), nil
}

// Subscribe opens market data channels for the symbol on its segment.
func (g *Gateway) Subscribe(segment schema.Segment, symbol string) error {
	connector, err := g.connector(segment)
	if err != nil {
		return err
	}
	return connector.SubscribeMarketData(symbol)
}

// Candles fetches history bars for the symbol on its segment.
func (g *Gateway) Candles(ctx context.Context, segment schema.Segment, symbol string, granularitySeconds int, start, end string) ([]schema.Bar, error) {
	connector, err := g.connector(segment)
	if err != nil {
		return nil, err
	}
	return connector.Candles(ctx, symbol, granularitySeconds, start, end)
}

// Symbols lists the mapped symbols for the segment.
func (g *Gateway) Symbols(segment schema.Segment) ([]string, error) {
	connector, err := g.connector(segment)
	if err != nil {
		return nil, err
	}
	return connector.Symbols(), nil
}
