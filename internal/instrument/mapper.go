// Package instrument derives generic contract roles from vendor instrument
// listings and maintains the vendor-code <-> generic-symbol table used by
// every other gateway component.
package instrument

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/schema"
)

// Role names the generic contract slot assigned to a dated future.
type Role string

const (
	// RoleThisWeek is the nearest settlement.
	RoleThisWeek Role = "this_week"
	// RoleNextWeek is the middle settlement.
	RoleNextWeek Role = "next_week"
	// RoleQuarter is the furthest settlement.
	RoleQuarter Role = "quarter"
)

// datedContractsPerUnderlying is what the venue lists for every underlying;
// anything else is a data anomaly surfaced to the caller.
const datedContractsPerUnderlying = 3

// Listing is one raw instrument row from the vendor listing endpoint.
type Listing struct {
	InstrumentID string
	PriceTick    decimal.Decimal
	Size         decimal.Decimal
}

// Mapper holds the two-way symbol table for one market segment. Built once
// per connection from the full listing and replaced wholesale on refresh.
type Mapper struct {
	segment schema.Segment

	mu        sync.RWMutex
	toVendor  map[string]string
	toSymbol  map[string]string
	contracts []schema.Contract
}

// New returns an empty mapper for the segment.
func New(segment schema.Segment) *Mapper {
	return &Mapper{
		segment:  segment,
		toVendor: make(map[string]string),
		toSymbol: make(map[string]string),
	}
}

// Segment reports which market segment the mapper serves.
func (m *Mapper) Segment() schema.Segment { return m.segment }

// RebuildFutures derives quarter / this-week / next-week roles from a dated
// futures listing. Codes group by their BASE-QUOTE prefix; the trailing
// yymmdd settlement suffix orders them. Underlyings that do not carry
// exactly three dated codes are skipped and reported, never truncated.
func (m *Mapper) RebuildFutures(listings []Listing) []*errs.E {
	type entry struct {
		suffix  string
		listing Listing
	}
	groups := make(map[string][]entry)
	order := make([]string, 0)
	for _, l := range listings {
		code := strings.TrimSpace(l.InstrumentID)
		idx := strings.LastIndex(code, "-")
		if idx <= 0 || idx == len(code)-1 {
			continue
		}
		prefix, suffix := code[:idx], code[idx+1:]
		if _, err := strconv.Atoi(suffix); err != nil {
			continue
		}
		if _, seen := groups[prefix]; !seen {
			order = append(order, prefix)
		}
		groups[prefix] = append(groups[prefix], entry{suffix: suffix, listing: l})
	}

	toVendor := make(map[string]string)
	toSymbol := make(map[string]string)
	contracts := make([]schema.Contract, 0, len(listings))
	var anomalies []*errs.E

	for _, prefix := range order {
		entries := groups[prefix]
		if len(entries) != datedContractsPerUnderlying {
			anomalies = append(anomalies, errs.New("instrument/"+string(m.segment), errs.CodeDataAnomaly,
				errs.WithMessage("underlying "+prefix+" lists "+strconv.Itoa(len(entries))+" dated contracts, want "+strconv.Itoa(datedContractsPerUnderlying))))
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].suffix < entries[j].suffix })

		base := strings.ToLower(prefix)
		if idx := strings.Index(prefix, "-"); idx > 0 {
			base = strings.ToLower(prefix[:idx])
		}
		roles := [datedContractsPerUnderlying]Role{RoleThisWeek, RoleNextWeek, RoleQuarter}
		for i, e := range entries {
			symbol := base + "_" + string(roles[i])
			toVendor[symbol] = e.listing.InstrumentID
			toSymbol[e.listing.InstrumentID] = symbol
			contracts = append(contracts, schema.Contract{
				Symbol:     symbol,
				VendorCode: e.listing.InstrumentID,
				Segment:    m.segment,
				PriceTick:  e.listing.PriceTick,
				Size:       e.listing.Size,
			})
		}
	}

	m.mu.Lock()
	m.toVendor = toVendor
	m.toSymbol = toSymbol
	m.contracts = contracts
	m.mu.Unlock()
	return anomalies
}

// RebuildIdentity installs the passthrough mapping used by the swap and spot
// segments, where the generic symbol equals the vendor instrument code.
func (m *Mapper) RebuildIdentity(listings []Listing) {
	toVendor := make(map[string]string, len(listings))
	toSymbol := make(map[string]string, len(listings))
	contracts := make([]schema.Contract, 0, len(listings))
	for _, l := range listings {
		code := strings.TrimSpace(l.InstrumentID)
		if code == "" {
			continue
		}
		toVendor[code] = code
		toSymbol[code] = code
		contracts = append(contracts, schema.Contract{
			Symbol:     code,
			VendorCode: code,
			Segment:    m.segment,
			PriceTick:  l.PriceTick,
			Size:       l.Size,
		})
	}
	m.mu.Lock()
	m.toVendor = toVendor
	m.toSymbol = toSymbol
	m.contracts = contracts
	m.mu.Unlock()
}

// VendorCode resolves a generic symbol to the vendor instrument code.
func (m *Mapper) VendorCode(symbol string) (string, error) {
	m.mu.RLock()
	code, ok := m.toVendor[symbol]
	m.mu.RUnlock()
	if !ok {
		return "", errs.New("instrument/"+string(m.segment), errs.CodeUnknownSymbol,
			errs.WithMessage("no vendor code for symbol "+symbol))
	}
	return code, nil
}

// Symbol resolves a vendor instrument code to the generic symbol.
func (m *Mapper) Symbol(vendorCode string) (string, error) {
	m.mu.RLock()
	symbol, ok := m.toSymbol[vendorCode]
	m.mu.RUnlock()
	if !ok {
		return "", errs.New("instrument/"+string(m.segment), errs.CodeUnknownSymbol,
			errs.WithMessage("no symbol for vendor code "+vendorCode))
	}
	return symbol, nil
}

// Contracts returns the published contract records for the current table.
func (m *Mapper) Contracts() []schema.Contract {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schema.Contract, len(m.contracts))
	copy(out, m.contracts)
	return out
}

// Symbols lists every generic symbol in the current table.
func (m *Mapper) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.toVendor))
	for symbol := range m.toVendor {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
