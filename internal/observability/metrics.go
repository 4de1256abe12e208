package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "okexgw"

// GatewayMetrics holds the counters instrumenting the order pipeline.
type GatewayMetrics struct {
	ordersPlaced   metric.Int64Counter
	ordersRejected metric.Int64Counter
	trades         metric.Int64Counter
	staleUpdates   metric.Int64Counter
	batchChunks    metric.Int64Counter
}

// NewGatewayMetrics registers the gateway instruments on the global meter
// provider.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter(meterName)
	m := new(GatewayMetrics)
	var err error
	if m.ordersPlaced, err = meter.Int64Counter("okexgw.orders.placed"); err != nil {
		return nil, err
	}
	if m.ordersRejected, err = meter.Int64Counter("okexgw.orders.rejected"); err != nil {
		return nil, err
	}
	if m.trades, err = meter.Int64Counter("okexgw.trades.synthesized"); err != nil {
		return nil, err
	}
	if m.staleUpdates, err = meter.Int64Counter("okexgw.updates.stale_dropped"); err != nil {
		return nil, err
	}
	if m.batchChunks, err = meter.Int64Counter("okexgw.batch.chunks"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *GatewayMetrics) add(counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// OrderPlaced counts an accepted order submission.
func (m *GatewayMetrics) OrderPlaced(segment string) {
	if m == nil {
		return
	}
	m.add(m.ordersPlaced, attribute.String("segment", segment))
}

// OrderRejected counts a rejected submission; origin tells vendor from connector.
func (m *GatewayMetrics) OrderRejected(segment, origin string) {
	if m == nil {
		return
	}
	m.add(m.ordersRejected, attribute.String("segment", segment), attribute.String("origin", origin))
}

// TradeSynthesized counts one emitted fill delta.
func (m *GatewayMetrics) TradeSynthesized(segment string) {
	if m == nil {
		return
	}
	m.add(m.trades, attribute.String("segment", segment))
}

// StaleUpdate counts one discarded out-of-order snapshot.
func (m *GatewayMetrics) StaleUpdate(segment string) {
	if m == nil {
		return
	}
	m.add(m.staleUpdates, attribute.String("segment", segment))
}

// BatchChunk counts one batch-cancel chunk outcome.
func (m *GatewayMetrics) BatchChunk(segment string, ok bool) {
	if m == nil {
		return
	}
	m.add(m.batchChunks, attribute.String("segment", segment), attribute.Bool("ok", ok))
}

var defaultMetrics *GatewayMetrics

// SetMetrics installs the global gateway metrics instance.
func SetMetrics(m *GatewayMetrics) { defaultMetrics = m }

// Metrics returns the global gateway metrics instance; nil-safe to call into.
func Metrics() *GatewayMetrics { return defaultMetrics }
