// Command gateway runs the OKEX connection and logs the normalized event
// stream. It exists for operating the gateway standalone; trading
// applications embed the okex package directly.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tradeforge/okexgw/config"
	"github.com/tradeforge/okexgw/internal/observability"
	"github.com/tradeforge/okexgw/internal/okex"
	"github.com/tradeforge/okexgw/internal/schema"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/gateway.yaml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		stdFatal(err)
	}
	cfg = config.FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		stdFatal(err)
	}

	zlog := newZap(cfg.LogLevel)
	defer func() {
		_ = zlog.Sync()
	}()
	observability.SetLogger(observability.NewZapLogger(zlog))

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	metrics, err := observability.NewGatewayMetrics()
	if err != nil {
		observability.Log().Error("metrics init failed", observability.F("error", err.Error()))
	} else {
		observability.SetMetrics(metrics)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	segments := make([]schema.Segment, 0, len(cfg.Trading.Segments))
	for _, s := range cfg.Trading.Segments {
		segments = append(segments, schema.Segment(s))
	}

	gateway, gwCtx, err := okex.NewGateway(ctx, okex.GatewayConfig{
		APIKey:        cfg.Credentials.APIKey,
		APISecret:     cfg.Credentials.APISecret,
		Passphrase:    cfg.Credentials.Passphrase,
		RESTHost:      cfg.Endpoints.RESTHost,
		WSHost:        cfg.Endpoints.WSHost,
		Segments:      segments,
		Leverage:      cfg.Trading.Leverage,
		Margin:        cfg.Trading.Margin,
		QueryInterval: cfg.Runtime.QueryInterval,
		HTTPTimeout:   cfg.Runtime.HTTPTimeout,
		Workers:       cfg.Runtime.Workers,
		QueueDepth:    cfg.Runtime.QueueDepth,
	}, loggingSink{})
	if err != nil {
		observability.Log().Error("gateway init failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	if err := gateway.Connect(gwCtx); err != nil {
		observability.Log().Error("gateway connect failed", observability.F("error", err.Error()))
		gateway.Close()
		os.Exit(1)
	}
	observability.Log().Info("gateway connected", observability.F("segments", cfg.Trading.Segments))

	<-ctx.Done()
	observability.Log().Info("shutting down")

	done := make(chan struct{})
	go func() {
		gateway.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		observability.Log().Warn("shutdown timed out")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		observability.Log().Warn("meter provider shutdown", observability.F("error", err.Error()))
	}
}

func newZap(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func stdFatal(err error) {
	zap.NewExample().Fatal(err.Error())
}

// loggingSink writes every gateway event to the structured log.
type loggingSink struct{}

func (loggingSink) OnOrder(order schema.Order) {
	observability.Log().Info("order",
		observability.F("local_id", order.LocalID),
		observability.F("exchange_id", order.ExchangeID),
		observability.F("symbol", order.Symbol),
		observability.F("status", order.Status),
		observability.F("traded", order.TradedQty.String()),
		observability.F("reason", order.RejectReason))
}

func (loggingSink) OnTrade(trade schema.Trade) {
	observability.Log().Info("trade",
		observability.F("trade_id", trade.TradeID),
		observability.F("local_id", trade.LocalID),
		observability.F("symbol", trade.Symbol),
		observability.F("qty", trade.Quantity.String()),
		observability.F("price", trade.Price.String()))
}

func (loggingSink) OnPosition(position schema.Position) {
	observability.Log().Debug("position",
		observability.F("symbol", position.Symbol),
		observability.F("direction", position.Direction),
		observability.F("qty", position.Quantity.String()))
}

func (loggingSink) OnAccount(account schema.Account) {
	observability.Log().Debug("account",
		observability.F("currency", account.Currency),
		observability.F("segment", account.Segment),
		observability.F("balance", account.Balance.String()))
}

func (loggingSink) OnContract(contract schema.Contract) {
	observability.Log().Debug("contract",
		observability.F("symbol", contract.Symbol),
		observability.F("vendor_code", contract.VendorCode))
}

func (loggingSink) OnTick(tick schema.Tick) {
	observability.Log().Debug("tick",
		observability.F("symbol", tick.Symbol),
		observability.F("last", tick.LastPrice.String()),
		observability.F("bid", tick.BidPrices[0].String()),
		observability.F("ask", tick.AskPrices[0].String()))
}

func (loggingSink) OnError(ev schema.ErrorEvent) {
	observability.Log().Error("gateway error",
		observability.F("id", ev.ID),
		observability.F("source", ev.Source),
		observability.F("code", ev.Code),
		observability.F("message", ev.Message))
}
