// Package okex implements the OKEX v3 market connectors. One generic
// connector serves all three market segments; everything segment-specific
// (endpoint set, side encoding, status vocabulary, channel prefix) lives in
// a segmentSpec.
package okex

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/internal/schema"
)

const (
	// RESTHost is the production REST endpoint.
	RESTHost = "https://www.okex.com"
	// WSHost is the production v3 websocket endpoint.
	WSHost = "wss://real.okex.com:10442/ws/v3"

	// openOrClosePending is the vendor composite status covering unfilled
	// and partially filled orders on the open-order query.
	openOrClosePending = "6"
)

// segmentSpec parameterizes the generic connector for one market segment.
type segmentSpec struct {
	segment  schema.Segment
	wsPrefix string

	instrumentsPath string
	accountsPath    string
	positionPath    func(vendorCode string) string
	orderPath       string
	openOrdersPath  func(vendorCode string) string
	cancelPath      func(vendorCode, orderID string) string
	batchCancelPath func(vendorCode string) string
	candlesPath     func(vendorCode string) string

	hasPositions bool

	// buildOrderBody renders the vendor placement payload for the segment.
	buildOrderBody func(spec *segmentSpec, vendorCode, clientOID string, req schema.OrderRequest, opts OrderOptions) map[string]any
	// buildCloseBody renders the market close payload used by closeAll.
	buildCloseBody func(vendorCode string, side schema.Direction, qty, price decimal.Decimal, leverage int) map[string]any

	decodeSide func(record orderRecord) (schema.Direction, schema.Offset, bool)
}

// typeForSide is the four-way futures/swap side enum: open-long, open-short,
// close-long ("cover") and close-short ("sell").
func typeForSide(direction schema.Direction, offset schema.Offset) string {
	switch {
	case direction == schema.DirectionLong && offset == schema.OffsetOpen:
		return "1"
	case direction == schema.DirectionShort && offset == schema.OffsetOpen:
		return "2"
	case direction == schema.DirectionShort && offset == schema.OffsetClose:
		return "3"
	case direction == schema.DirectionLong && offset == schema.OffsetClose:
		return "4"
	default:
		return ""
	}
}

func sideFromType(code string) (schema.Direction, schema.Offset, bool) {
	switch strings.TrimSpace(code) {
	case "1":
		return schema.DirectionLong, schema.OffsetOpen, true
	case "2":
		return schema.DirectionShort, schema.OffsetOpen, true
	case "3":
		return schema.DirectionShort, schema.OffsetClose, true
	case "4":
		return schema.DirectionLong, schema.OffsetClose, true
	default:
		return "", "", false
	}
}

// statusFromVendor maps both the numeric futures/swap vocabulary and the
// string spot vocabulary onto the neutral status set.
func statusFromVendor(raw string) (schema.OrderStatus, bool) {
	switch strings.TrimSpace(raw) {
	case "0", "open":
		return schema.StatusNotTraded, true
	case "1", "part_filled":
		return schema.StatusPartTraded, true
	case "2", "filled":
		return schema.StatusAllTraded, true
	case "-1", "cancelled":
		return schema.StatusCancelled, true
	case "-2", "failure":
		return schema.StatusRejected, true
	default:
		return "", false
	}
}

// marginSideForClose returns the vendor type that flattens the given
// position side: selling closes longs, covering closes shorts.
func marginSideForClose(side schema.Direction) string {
	if side == schema.DirectionLong {
		return "3"
	}
	return "4"
}

func futuresSpec() *segmentSpec {
	return &segmentSpec{
		segment:         schema.SegmentFutures,
		wsPrefix:        "futures",
		instrumentsPath: "/api/futures/v3/instruments",
		accountsPath:    "/api/futures/v3/accounts",
		positionPath:    func(code string) string { return "/api/futures/v3/" + code + "/position/" },
		orderPath:       "/api/futures/v3/order",
		openOrdersPath:  func(code string) string { return "/api/futures/v3/orders/" + code },
		cancelPath: func(code, orderID string) string {
			return "/api/futures/v3/cancel_order/" + code + "/" + orderID
		},
		batchCancelPath: func(code string) string { return "/api/futures/v3/cancel_batch_orders/" + code },
		candlesPath:     func(code string) string { return "/api/futures/v3/instruments/" + code + "/candles" },
		hasPositions:    true,
		buildOrderBody:  marginOrderBody,
		buildCloseBody:  marginCloseBody,
		decodeSide: func(r orderRecord) (schema.Direction, schema.Offset, bool) {
			return sideFromType(r.Type)
		},
	}
}

func swapSpec() *segmentSpec {
	return &segmentSpec{
		segment:         schema.SegmentSwap,
		wsPrefix:        "swap",
		instrumentsPath: "/api/swap/v3/instruments",
		accountsPath:    "/api/swap/v3/accounts",
		positionPath:    func(code string) string { return "/api/swap/v3/" + code + "/position/" },
		orderPath:       "/api/swap/v3/order",
		openOrdersPath:  func(code string) string { return "/api/swap/v3/orders/" + code },
		cancelPath: func(code, orderID string) string {
			return "/api/swap/v3/cancel_order/" + code + "/" + orderID
		},
		batchCancelPath: func(code string) string { return "/api/swap/v3/cancel_batch_orders/" + code },
		candlesPath:     func(code string) string { return "/api/swap/v3/instruments/" + code + "/candles" },
		hasPositions:    true,
		buildOrderBody:  marginOrderBody,
		buildCloseBody:  marginCloseBody,
		decodeSide: func(r orderRecord) (schema.Direction, schema.Offset, bool) {
			return sideFromType(r.Type)
		},
	}
}

func spotSpec() *segmentSpec {
	return &segmentSpec{
		segment:         schema.SegmentSpot,
		wsPrefix:        "spot",
		instrumentsPath: "/api/spot/v3/instruments",
		accountsPath:    "/api/spot/v3/accounts",
		positionPath:    nil,
		orderPath:       "/api/spot/v3/order",
		openOrdersPath:  func(string) string { return "/api/spot/v3/orders" },
		cancelPath: func(_, orderID string) string {
			return "/api/spot/v3/cancel_orders/" + orderID
		},
		batchCancelPath: func(code string) string { return "/api/spot/v3/cancel_batch_orders/" + code },
		candlesPath:     func(code string) string { return "/api/spot/v3/instruments/" + code + "/candles" },
		hasPositions:    false,
		buildOrderBody:  spotOrderBody,
		buildCloseBody:  nil,
		decodeSide: func(r orderRecord) (schema.Direction, schema.Offset, bool) {
			switch strings.TrimSpace(r.Side) {
			case "buy":
				return schema.DirectionLong, schema.OffsetOpen, true
			case "sell":
				return schema.DirectionShort, schema.OffsetOpen, true
			default:
				return "", "", false
			}
		},
	}
}

// OrderOptions carries the account-level placement knobs that are not part
// of the neutral order request.
type OrderOptions struct {
	// Leverage applies to futures and swap orders.
	Leverage int
	// Margin places spot orders on the margin book instead of the spot book.
	Margin bool
}

func marginOrderBody(_ *segmentSpec, vendorCode, clientOID string, req schema.OrderRequest, opts OrderOptions) map[string]any {
	body := map[string]any{
		"client_oid":    clientOID,
		"instrument_id": vendorCode,
		"type":          typeForSide(req.Direction, req.Offset),
		"price":         req.Price.String(),
		"size":          req.Quantity.String(),
	}
	if opts.Leverage > 0 {
		body["leverage"] = opts.Leverage
	}
	return body
}

func marginCloseBody(vendorCode string, side schema.Direction, qty, price decimal.Decimal, leverage int) map[string]any {
	body := map[string]any{
		"instrument_id": vendorCode,
		"type":          marginSideForClose(side),
		"price":         price.String(),
		"size":          qty.String(),
		"match_price":   "1",
	}
	if leverage > 0 {
		body["leverage"] = leverage
	}
	return body
}

func spotOrderBody(_ *segmentSpec, vendorCode, clientOID string, req schema.OrderRequest, opts OrderOptions) map[string]any {
	side := "buy"
	if req.Direction == schema.DirectionShort {
		side = "sell"
	}
	marginTrading := 1
	if opts.Margin {
		marginTrading = 2
	}
	return map[string]any{
		"client_oid":     clientOID,
		"instrument_id":  vendorCode,
		"side":           side,
		"type":           "limit",
		"price":          req.Price.String(),
		"size":           req.Quantity.String(),
		"margin_trading": marginTrading,
	}
}
