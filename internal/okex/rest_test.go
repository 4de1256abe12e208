package okex

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/schema"
	"github.com/tradeforge/okexgw/internal/sign"
)

func testSigner() *sign.Signer {
	return &sign.Signer{Key: "key", Secret: "secret", Passphrase: "phrase"}
}

func newTestSurface(t *testing.T, spec *segmentSpec, handler http.Handler, codes ...string) (*restSurface, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := newRESTClient(server.URL, testSigner(), time.Second)
	mapper := newTestMapper(t, spec.segment, codes...)
	return newRESTSurface(spec, client, mapper, OrderOptions{}), server
}

func TestPlaceOrderSignsAndDecodesAck(t *testing.T) {
	var captured *http.Request
	var body []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"result":true,"order_id":"312269865356374016","client_oid":"10001"}`))
	})
	surface, _ := newTestSurface(t, swapSpec(), handler, "BTC-USD-SWAP")

	req := schema.OrderRequest{
		Symbol:    "BTC-USD-SWAP",
		Direction: schema.DirectionLong,
		Offset:    schema.OffsetOpen,
		Price:     decimal.RequireFromString("4000"),
		Quantity:  decimal.RequireFromString("1"),
	}
	orderID, err := surface.PlaceOrder(context.Background(), "BTC-USD-SWAP", "10001", req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if orderID != "312269865356374016" {
		t.Fatalf("order id=%s", orderID)
	}

	if captured.URL.Path != "/api/swap/v3/order" {
		t.Fatalf("path=%s", captured.URL.Path)
	}
	for _, header := range []string{"Ok-Access-Key", "Ok-Access-Sign", "Ok-Access-Timestamp", "Ok-Access-Passphrase"} {
		if captured.Header.Get(header) == "" {
			t.Fatalf("missing auth header %s", header)
		}
	}
	if raw := captured.Header.Get("Ok-Access-Sign"); raw != "" {
		if _, err := base64.StdEncoding.DecodeString(raw); err != nil {
			t.Fatalf("signature not base64: %v", err)
		}
	}
	if ts := captured.Header.Get("Ok-Access-Timestamp"); len(ts) == 0 || ts[len(ts)-1] != 'Z' {
		t.Fatalf("timestamp must be ISO-8601 UTC, got %q", captured.Header.Get("Ok-Access-Timestamp"))
	}
	if len(body) == 0 {
		t.Fatal("placement body empty")
	}
}

func TestPlaceOrderSurfacesVendorRejectionVerbatim(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":false,"order_id":"-1","error_code":"32019","error_message":"order price deviates"}`))
	})
	surface, _ := newTestSurface(t, futuresSpec(), handler,
		"ETH-USD-190104", "ETH-USD-190111", "ETH-USD-190329")

	req := schema.OrderRequest{
		Symbol:    "eth_quarter",
		Direction: schema.DirectionLong,
		Offset:    schema.OffsetOpen,
		Price:     decimal.RequireFromString("100"),
		Quantity:  decimal.RequireFromString("1"),
	}
	_, err := surface.PlaceOrder(context.Background(), "ETH-USD-190329", "10002", req)
	if !errs.IsCode(err, errs.CodeVendorRejection) {
		t.Fatalf("want vendor rejection, got %v", err)
	}
	e := err.(*errs.E)
	if e.RawCode != "32019" || e.RawMsg != "order price deviates" {
		t.Fatalf("raw code/message not kept verbatim: %q %q", e.RawCode, e.RawMsg)
	}
	if e.Reason() != "32019 order price deviates" {
		t.Fatalf("reason=%q", e.Reason())
	}
}

func TestRejectionWithoutMessageFallsBackToCodeTable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":false,"order_id":"-1","error_code":"32004"}`))
	})
	surface, _ := newTestSurface(t, swapSpec(), handler, "BTC-USD-SWAP")

	req := schema.OrderRequest{
		Symbol:    "BTC-USD-SWAP",
		Direction: schema.DirectionLong,
		Offset:    schema.OffsetOpen,
		Price:     decimal.RequireFromString("1"),
		Quantity:  decimal.RequireFromString("1"),
	}
	_, err := surface.PlaceOrder(context.Background(), "BTC-USD-SWAP", "10009", req)
	if !errs.IsCode(err, errs.CodeVendorRejection) {
		t.Fatalf("want vendor rejection, got %v", err)
	}
	if reason := err.(*errs.E).Reason(); reason != "32004 order does not exist" {
		t.Fatalf("reason=%q", reason)
	}
}

func TestNon2xxBecomesVendorRejectionWithHTTPStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":30024,"message":"parameter value error"}`))
	})
	surface, _ := newTestSurface(t, spotSpec(), handler, "BTC-USDT")

	_, err := surface.OpenOrders(context.Background(), "BTC-USDT")
	if !errs.IsCode(err, errs.CodeVendorRejection) {
		t.Fatalf("want vendor rejection, got %v", err)
	}
	e := err.(*errs.E)
	if e.HTTP != http.StatusBadRequest {
		t.Fatalf("http=%d", e.HTTP)
	}
	if e.RawCode != "30024" {
		t.Fatalf("raw code=%q", e.RawCode)
	}
}

func TestTransportFailureIsNotAVendorRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()
	client := newRESTClient(server.URL, testSigner(), time.Second)
	surface := newRESTSurface(spotSpec(), client, newTestMapper(t, schema.SegmentSpot, "BTC-USDT"), OrderOptions{})

	_, err := surface.OpenOrders(context.Background(), "BTC-USDT")
	if !errs.IsCode(err, errs.CodeTransport) {
		t.Fatalf("want transport failure, got %v", err)
	}
}

func TestOpenOrdersQueriesPendingCompositeStatus(t *testing.T) {
	var captured *http.Request
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		_, _ = w.Write([]byte(`{"result":true,"order_info":[
			{"instrument_id":"BTC-USD-SWAP","order_id":"7","status":"0"},
			{"instrument_id":"BTC-USD-SWAP","order_id":"8","status":"1"}]}`))
	})
	surface, _ := newTestSurface(t, swapSpec(), handler, "BTC-USD-SWAP")

	orders, err := surface.OpenOrders(context.Background(), "BTC-USD-SWAP")
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if captured.URL.Query().Get("status") != openOrClosePending {
		t.Fatalf("status query=%q want %q", captured.URL.Query().Get("status"), openOrClosePending)
	}
	if len(orders) != 2 {
		t.Fatalf("orders=%d", len(orders))
	}
	if orders[0].Status != schema.StatusNotTraded || orders[1].Status != schema.StatusPartTraded {
		t.Fatalf("statuses=%v", orders)
	}
}

func TestSpotOpenOrdersDecodeBareArray(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("instrument_id") != "BTC-USDT" {
			t.Errorf("instrument_id query missing: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"instrument_id":"BTC-USDT","order_id":"9","side":"buy","status":"open"}]`))
	})
	surface, _ := newTestSurface(t, spotSpec(), handler, "BTC-USDT")

	orders, err := surface.OpenOrders(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != "9" {
		t.Fatalf("orders=%v", orders)
	}
}

func TestCancelBatchReturnsAcceptedIDs(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/futures/v3/cancel_batch_orders/ETH-USD-190329" {
			t.Errorf("path=%s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"result":true,"order_ids":["1","2","3"]}`))
	})
	surface, _ := newTestSurface(t, futuresSpec(), handler,
		"ETH-USD-190104", "ETH-USD-190111", "ETH-USD-190329")

	accepted, err := surface.CancelBatch(context.Background(), "ETH-USD-190329", []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if len(accepted) != 3 {
		t.Fatalf("accepted=%v", accepted)
	}
}

func TestHoldingsDecodeHedgedAndOneWayShapes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":true,"holding":[
			{"instrument_id":"ETH-USD-190329","long_qty":"10","long_avail_qty":"8","long_avg_cost":"130.5",
			 "short_qty":"4","short_avail_qty":"4","short_avg_cost":"140"}]}`))
	})
	surface, _ := newTestSurface(t, futuresSpec(), handler,
		"ETH-USD-190104", "ETH-USD-190111", "ETH-USD-190329")

	holdings, err := surface.Holdings(context.Background(), "ETH-USD-190329")
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("holdings=%d", len(holdings))
	}
	h := holdings[0]
	if !h.LongAvail.Equal(decimal.RequireFromString("8")) || !h.ShortAvail.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("avail=%s/%s", h.LongAvail, h.ShortAvail)
	}
	if !h.LongAvgCost.Equal(decimal.RequireFromString("130.5")) {
		t.Fatalf("long avg cost=%s", h.LongAvgCost)
	}

	oneWay := holdingFromRecord("BTC-USD-SWAP", positionRecord{
		Side: "short", AvailPos: "6", AvgCost: "3900",
	})
	if !oneWay.ShortAvail.Equal(decimal.RequireFromString("6")) || !oneWay.ShortAvgCost.Equal(decimal.RequireFromString("3900")) {
		t.Fatalf("one-way short leg not decoded: %+v", oneWay)
	}
}

func TestSpotHasNoPositionsToFlatten(t *testing.T) {
	surface, _ := newTestSurface(t, spotSpec(), http.NotFoundHandler(), "BTC-USDT")
	if _, err := surface.Holdings(context.Background(), "BTC-USDT"); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("want invalid, got %v", err)
	}
	if _, err := surface.PlaceMarketClose(context.Background(), "BTC-USDT",
		schema.DirectionLong, decimal.NewFromInt(1), decimal.NewFromInt(1)); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("want invalid, got %v", err)
	}
}

func TestCandlesReturnOldestFirst(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("granularity") != "60" {
			t.Errorf("granularity query=%q", r.URL.Query().Get("granularity"))
		}
		_, _ = w.Write([]byte(`[
			["2019-03-20T03:46:00.000Z","4001","4002","4000","4001.5","120"],
			["2019-03-20T03:45:00.000Z","4000","4001","3999","4001","100"]]`))
	})
	surface, _ := newTestSurface(t, swapSpec(), handler, "BTC-USD-SWAP")

	bars, err := surface.Candles(context.Background(), "BTC-USD-SWAP", 60, "", "")
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars=%d", len(bars))
	}
	if !bars[0].Time.Before(bars[1].Time) {
		t.Fatalf("bars not oldest-first: %v %v", bars[0].Time, bars[1].Time)
	}
	if !bars[0].Open.Equal(decimal.RequireFromString("4000")) {
		t.Fatalf("open=%s", bars[0].Open)
	}
}

func TestAccountsDecodePerSegmentShapes(t *testing.T) {
	futHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"info":{"eth":{"equity":"10","margin":"2","margin_frozen":"1"}}}`))
	})
	futures, _ := newTestSurface(t, futuresSpec(), futHandler,
		"ETH-USD-190104", "ETH-USD-190111", "ETH-USD-190329")
	accounts, err := futures.Accounts(context.Background())
	if err != nil {
		t.Fatalf("futures Accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Currency != "ETH" {
		t.Fatalf("futures accounts=%v", accounts)
	}
	if !accounts[0].Available.Equal(decimal.RequireFromString("8")) {
		t.Fatalf("available=%s want equity-margin=8", accounts[0].Available)
	}

	spotHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"currency":"usdt","balance":"500","available":"400","hold":"100"}]`))
	})
	spot, _ := newTestSurface(t, spotSpec(), spotHandler, "BTC-USDT")
	accounts, err = spot.Accounts(context.Background())
	if err != nil {
		t.Fatalf("spot Accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Currency != "USDT" {
		t.Fatalf("spot accounts=%v", accounts)
	}
	if !accounts[0].Available.Equal(decimal.RequireFromString("400")) {
		t.Fatalf("available=%s", accounts[0].Available)
	}
}
