package okex

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/instrument"
	"github.com/tradeforge/okexgw/internal/observability"
	"github.com/tradeforge/okexgw/internal/oms"
	"github.com/tradeforge/okexgw/internal/schema"
)

// restSurface is the per-segment private REST API. It implements
// oms.BatchVenue and backs every query the connector issues.
type restSurface struct {
	spec   *segmentSpec
	client *restClient
	mapper *instrument.Mapper
	opts   OrderOptions
}

func newRESTSurface(spec *segmentSpec, client *restClient, mapper *instrument.Mapper, opts OrderOptions) *restSurface {
	return &restSurface{spec: spec, client: client, mapper: mapper, opts: opts}
}

func (s *restSurface) source() string {
	return "okex/" + string(s.spec.segment)
}

// Instruments fetches the public listing for the segment.
func (s *restSurface) Instruments(ctx context.Context) ([]instrument.Listing, error) {
	var records []instrumentRecord
	if err := s.client.get(ctx, s.spec.instrumentsPath, nil, &records); err != nil {
		return nil, err
	}
	listings := make([]instrument.Listing, 0, len(records))
	for _, r := range records {
		id := strings.TrimSpace(r.InstrumentID)
		if id == "" {
			continue
		}
		listings = append(listings, instrument.Listing{
			InstrumentID: id,
			PriceTick:    r.priceStep(),
			Size:         r.sizeStep(),
		})
	}
	return listings, nil
}

// placeResponse is the acknowledgement shape shared by the three segments.
// A 200 answer can still carry result=false plus an error code.
type placeResponse struct {
	Result       bool        `json:"result"`
	OrderID      string      `json:"order_id"`
	ClientOID    string      `json:"client_oid"`
	ErrorCode    json.Number `json:"error_code"`
	ErrorMessage string      `json:"error_message"`
	Code         json.Number `json:"code"`
	Message      string      `json:"message"`
}

func (r placeResponse) rejected() bool {
	if r.Result {
		return false
	}
	code := r.ErrorCode.String()
	if code == "" {
		code = r.Code.String()
	}
	return code != "" && code != "0" || strings.TrimSpace(r.OrderID) == "" || r.OrderID == "-1"
}

func (r placeResponse) rejection(source string) *errs.E {
	code := r.ErrorCode.String()
	if code == "" || code == "0" {
		code = r.Code.String()
	}
	msg := r.ErrorMessage
	if strings.TrimSpace(msg) == "" {
		msg = r.Message
	}
	if strings.TrimSpace(msg) == "" {
		msg = textForCode(code)
	}
	return errs.New(source, errs.CodeVendorRejection,
		errs.WithRawCode(code), errs.WithRawMessage(msg),
		errs.WithMessage("order rejected"))
}

// PlaceOrder submits a limit order and returns the vendor order id.
func (s *restSurface) PlaceOrder(ctx context.Context, vendorCode, clientOID string, req schema.OrderRequest) (string, error) {
	body := s.spec.buildOrderBody(s.spec, vendorCode, clientOID, req, s.opts)
	var resp placeResponse
	if err := s.client.post(ctx, s.spec.orderPath, body, &resp); err != nil {
		return "", err
	}
	if resp.rejected() {
		return "", resp.rejection(s.source())
	}
	return resp.OrderID, nil
}

// CancelOrder requests cancellation of one resting order.
func (s *restSurface) CancelOrder(ctx context.Context, vendorCode, orderID string) error {
	path := s.spec.cancelPath(vendorCode, orderID)
	payload := map[string]any{"instrument_id": vendorCode}
	var resp placeResponse
	if err := s.client.post(ctx, path, payload, &resp); err != nil {
		return err
	}
	if !resp.Result && resp.rejected() {
		return resp.rejection(s.source())
	}
	return nil
}

// openOrdersEnvelope wraps the futures/swap open-order listing; spot returns
// the records as a bare array.
type openOrdersEnvelope struct {
	Result    bool          `json:"result"`
	OrderInfo []orderRecord `json:"order_info"`
}

func (s *restSurface) openOrderRecords(ctx context.Context, vendorCode string) ([]orderRecord, error) {
	query := url.Values{}
	query.Set("status", openOrClosePending)
	if s.spec.segment == schema.SegmentSpot {
		query.Set("instrument_id", vendorCode)
		var records []orderRecord
		if err := s.client.get(ctx, s.spec.openOrdersPath(vendorCode), query, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var envelope openOrdersEnvelope
	if err := s.client.get(ctx, s.spec.openOrdersPath(vendorCode), query, &envelope); err != nil {
		return nil, err
	}
	return envelope.OrderInfo, nil
}

// OpenOrders lists resting orders for the instrument.
func (s *restSurface) OpenOrders(ctx context.Context, vendorCode string) ([]oms.OpenOrder, error) {
	records, err := s.openOrderRecords(ctx, vendorCode)
	if err != nil {
		return nil, err
	}
	out := make([]oms.OpenOrder, 0, len(records))
	for _, r := range records {
		status, ok := statusFromVendor(r.status())
		if !ok {
			continue
		}
		out = append(out, oms.OpenOrder{OrderID: r.OrderID, Status: status})
	}
	return out, nil
}

// OpenOrderSnapshots lists resting orders as neutral snapshots for the poll
// reconciliation path.
func (s *restSurface) OpenOrderSnapshots(ctx context.Context, vendorCode string) ([]schema.OrderSnapshot, []error) {
	records, err := s.openOrderRecords(ctx, vendorCode)
	if err != nil {
		return nil, []error{err}
	}
	snaps := make([]schema.OrderSnapshot, 0, len(records))
	var failures []error
	for _, r := range records {
		snap, err := normalizeOrder(s.spec, s.mapper, r)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, failures
}

type batchCancelResponse struct {
	Result       bool        `json:"result"`
	OrderIDs     []string    `json:"order_ids"`
	IDs          []string    `json:"ids"`
	ErrorCode    json.Number `json:"error_code"`
	ErrorMessage string      `json:"error_message"`
}

// CancelBatch cancels up to the vendor batch limit of order ids in one call
// and returns the ids the venue accepted.
func (s *restSurface) CancelBatch(ctx context.Context, vendorCode string, orderIDs []string) ([]string, error) {
	payload := map[string]any{
		"instrument_id": vendorCode,
		"order_ids":     orderIDs,
	}
	var resp batchCancelResponse
	if err := s.client.post(ctx, s.spec.batchCancelPath(vendorCode), payload, &resp); err != nil {
		return nil, err
	}
	if code := resp.ErrorCode.String(); !resp.Result && code != "" && code != "0" {
		return nil, errs.New(s.source(), errs.CodeVendorRejection,
			errs.WithRawCode(code), errs.WithRawMessage(resp.ErrorMessage),
			errs.WithMessage("batch cancel rejected"))
	}
	accepted := resp.OrderIDs
	if len(accepted) == 0 {
		accepted = resp.IDs
	}
	if len(accepted) == 0 && resp.Result {
		// Spot answers per-pair maps without echoing ids; treat the whole
		// chunk as accepted on a positive result.
		accepted = orderIDs
	}
	return accepted, nil
}

type positionEnvelope struct {
	Result  bool             `json:"result"`
	Holding []positionRecord `json:"holding"`
}

func (s *restSurface) positionRecords(ctx context.Context, vendorCode string) ([]positionRecord, error) {
	if !s.spec.hasPositions {
		return nil, nil
	}
	var envelope positionEnvelope
	if err := s.client.get(ctx, s.spec.positionPath(vendorCode), nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Holding, nil
}

// Holdings reports the flattenable quantity per side for the instrument.
func (s *restSurface) Holdings(ctx context.Context, vendorCode string) ([]oms.Holding, error) {
	if !s.spec.hasPositions {
		return nil, errs.New(s.source(), errs.CodeInvalid,
			errs.WithMessage("segment has no positions to flatten"))
	}
	records, err := s.positionRecords(ctx, vendorCode)
	if err != nil {
		return nil, err
	}
	out := make([]oms.Holding, 0, len(records))
	for _, r := range records {
		out = append(out, holdingFromRecord(vendorCode, r))
	}
	return out, nil
}

func holdingFromRecord(vendorCode string, r positionRecord) oms.Holding {
	h := oms.Holding{
		VendorCode:   vendorCode,
		LongAvail:    parseDecimal(r.LongAvail),
		LongAvgCost:  parseDecimal(r.LongAvgCost),
		ShortAvail:   parseDecimal(r.ShortAvail),
		ShortAvgCost: parseDecimal(r.ShortAvgCost),
	}
	// Swap reports one-way rows with an explicit side instead of the
	// hedged two-leg shape.
	switch strings.TrimSpace(r.Side) {
	case "long":
		h.LongAvail = parseDecimal(r.AvailPos)
		h.LongAvgCost = parseDecimal(r.AvgCost)
	case "short":
		h.ShortAvail = parseDecimal(r.AvailPos)
		h.ShortAvgCost = parseDecimal(r.AvgCost)
	}
	return h
}

// PlaceMarketClose submits a best-price flattening order for one side.
func (s *restSurface) PlaceMarketClose(ctx context.Context, vendorCode string, side schema.Direction, qty, price decimal.Decimal) (string, error) {
	if s.spec.buildCloseBody == nil {
		return "", errs.New(s.source(), errs.CodeInvalid,
			errs.WithMessage("segment does not support market close"))
	}
	body := s.spec.buildCloseBody(vendorCode, side, qty, price, s.opts.Leverage)
	var resp placeResponse
	if err := s.client.post(ctx, s.spec.orderPath, body, &resp); err != nil {
		return "", err
	}
	if resp.rejected() {
		return "", resp.rejection(s.source())
	}
	return resp.OrderID, nil
}

// Positions reads the full position book for the segment and maps it onto
// neutral position events. Futures answers all instruments in one nested
// listing; swap is queried per instrument by the caller.
func (s *restSurface) Positions(ctx context.Context, vendorCode string) ([]schema.Position, error) {
	records, err := s.positionRecords(ctx, vendorCode)
	if err != nil {
		return nil, err
	}
	symbol, err := s.mapper.Symbol(vendorCode)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Position, 0, len(records)*2)
	for _, r := range records {
		h := holdingFromRecord(vendorCode, r)
		longQty := parseDecimal(r.LongQty)
		if longQty.IsZero() && strings.TrimSpace(r.Side) == "long" {
			longQty = parseDecimal(r.Position)
		}
		shortQty := parseDecimal(r.ShortQty)
		if shortQty.IsZero() && strings.TrimSpace(r.Side) == "short" {
			shortQty = parseDecimal(r.Position)
		}
		out = append(out,
			schema.Position{
				Symbol:    symbol,
				Segment:   s.spec.segment,
				Direction: schema.DirectionLong,
				Quantity:  longQty,
				Available: h.LongAvail,
				AvgPrice:  h.LongAvgCost,
			},
			schema.Position{
				Symbol:    symbol,
				Segment:   s.spec.segment,
				Direction: schema.DirectionShort,
				Quantity:  shortQty,
				Available: h.ShortAvail,
				AvgPrice:  h.ShortAvgCost,
			})
	}
	return out, nil
}

// Accounts reads the balance surface for the segment.
func (s *restSurface) Accounts(ctx context.Context) ([]schema.Account, error) {
	switch s.spec.segment {
	case schema.SegmentFutures:
		var envelope futuresAccountEnvelope
		if err := s.client.get(ctx, s.spec.accountsPath, nil, &envelope); err != nil {
			return nil, err
		}
		out := make([]schema.Account, 0, len(envelope.Info))
		for currency, record := range envelope.Info {
			// Fixed-margin accounts report per-contract balances that this
			// crossed-margin shape cannot represent.
			if strings.EqualFold(record.MarginMode, "fixed") {
				observability.Log().Warn("fixed-margin account not supported",
					observability.F("currency", currency))
				continue
			}
			out = append(out, schema.Account{
				Currency:  strings.ToUpper(currency),
				Segment:   s.spec.segment,
				Balance:   parseDecimal(record.Equity),
				Available: parseDecimal(record.Equity).Sub(parseDecimal(record.MarginUsed)),
				Margin:    parseDecimal(record.MarginUsed),
			})
		}
		return out, nil
	case schema.SegmentSwap:
		var envelope swapAccountEnvelope
		if err := s.client.get(ctx, s.spec.accountsPath, nil, &envelope); err != nil {
			return nil, err
		}
		out := make([]schema.Account, 0, len(envelope.Info))
		for _, record := range envelope.Info {
			out = append(out, schema.Account{
				Currency:  record.InstrumentID,
				Segment:   s.spec.segment,
				Balance:   parseDecimal(record.Equity),
				Available: parseDecimal(record.Equity).Sub(parseDecimal(record.Margin)),
				Margin:    parseDecimal(record.Margin),
			})
		}
		return out, nil
	default:
		var records []spotBalanceRecord
		if err := s.client.get(ctx, s.spec.accountsPath, nil, &records); err != nil {
			return nil, err
		}
		out := make([]schema.Account, 0, len(records))
		for _, record := range records {
			out = append(out, schema.Account{
				Currency:  strings.ToUpper(record.Currency),
				Segment:   s.spec.segment,
				Balance:   parseDecimal(record.Balance),
				Available: parseDecimal(record.Available),
				Margin:    parseDecimal(record.Hold),
			})
		}
		return out, nil
	}
}

// Candles fetches historical bars for the instrument. Rows arrive newest
// first as [timestamp, open, high, low, close, volume, ...] tuples.
func (s *restSurface) Candles(ctx context.Context, vendorCode string, granularitySeconds int, start, end string) ([]schema.Bar, error) {
	query := url.Values{}
	if granularitySeconds > 0 {
		query.Set("granularity", strconv.Itoa(granularitySeconds))
	}
	if start != "" {
		query.Set("start", start)
	}
	if end != "" {
		query.Set("end", end)
	}
	var rows [][]string
	if err := s.client.get(ctx, s.spec.candlesPath(vendorCode), query, &rows); err != nil {
		return nil, err
	}
	bars := make([]schema.Bar, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		bars = append(bars, schema.Bar{
			Time:   parseTimestamp(row[0]),
			Open:   parseDecimal(row[1]),
			High:   parseDecimal(row[2]),
			Low:    parseDecimal(row[3]),
			Close:  parseDecimal(row[4]),
			Volume: parseDecimal(row[5]),
		})
	}
	return bars, nil
}
