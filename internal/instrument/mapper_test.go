package instrument

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/schema"
)

func listing(code string) Listing {
	return Listing{InstrumentID: code, PriceTick: decimal.RequireFromString("0.001"), Size: decimal.NewFromInt(10)}
}

func TestFuturesRoleAssignment(t *testing.T) {
	m := New(schema.SegmentFutures)
	anomalies := m.RebuildFutures([]Listing{
		listing("EOS-USD-190329"),
		listing("EOS-USD-181228"),
		listing("EOS-USD-190628"),
	})
	if len(anomalies) != 0 {
		t.Fatalf("unexpected anomalies: %v", anomalies)
	}

	cases := map[string]string{
		"EOS-USD-181228": "eos_this_week",
		"EOS-USD-190329": "eos_next_week",
		"EOS-USD-190628": "eos_quarter",
	}
	for code, want := range cases {
		got, err := m.Symbol(code)
		if err != nil {
			t.Fatalf("Symbol(%s): %v", code, err)
		}
		if got != want {
			t.Errorf("Symbol(%s) = %q, want %q", code, got, want)
		}
		back, err := m.VendorCode(want)
		if err != nil || back != code {
			t.Errorf("VendorCode(%s) = %q, %v, want %q", want, back, err, code)
		}
	}
}

func TestFuturesAnomalySurfacedNotTruncated(t *testing.T) {
	m := New(schema.SegmentFutures)
	anomalies := m.RebuildFutures([]Listing{
		listing("BTC-USD-181228"),
		listing("BTC-USD-190329"),
		listing("EOS-USD-181228"),
		listing("EOS-USD-190329"),
		listing("EOS-USD-190628"),
	})
	if len(anomalies) != 1 {
		t.Fatalf("want 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Code != errs.CodeDataAnomaly {
		t.Errorf("anomaly code = %s", anomalies[0].Code)
	}
	// The malformed underlying is skipped entirely, the clean one survives.
	if _, err := m.Symbol("BTC-USD-181228"); !errs.IsCode(err, errs.CodeUnknownSymbol) {
		t.Errorf("anomalous underlying should not be mapped, got %v", err)
	}
	if _, err := m.Symbol("EOS-USD-190628"); err != nil {
		t.Errorf("clean underlying should be mapped: %v", err)
	}
}

func TestIdentityMapping(t *testing.T) {
	m := New(schema.SegmentSwap)
	m.RebuildIdentity([]Listing{listing("BTC-USD-SWAP"), listing("EOS-USD-SWAP")})

	got, err := m.VendorCode("BTC-USD-SWAP")
	if err != nil || got != "BTC-USD-SWAP" {
		t.Errorf("VendorCode identity = %q, %v", got, err)
	}
	if symbols := m.Symbols(); len(symbols) != 2 {
		t.Errorf("Symbols() = %v", symbols)
	}
}

func TestUnknownSymbol(t *testing.T) {
	m := New(schema.SegmentSpot)
	if _, err := m.VendorCode("missing"); !errs.IsCode(err, errs.CodeUnknownSymbol) {
		t.Errorf("want UnknownSymbol, got %v", err)
	}
	if _, err := m.Symbol("missing"); !errs.IsCode(err, errs.CodeUnknownSymbol) {
		t.Errorf("want UnknownSymbol, got %v", err)
	}
}

func TestContractsPublished(t *testing.T) {
	m := New(schema.SegmentFutures)
	m.RebuildFutures([]Listing{
		listing("EOS-USD-181228"),
		listing("EOS-USD-190329"),
		listing("EOS-USD-190628"),
	})
	contracts := m.Contracts()
	if len(contracts) != 3 {
		t.Fatalf("want 3 contracts, got %d", len(contracts))
	}
	for _, c := range contracts {
		if c.Segment != schema.SegmentFutures || c.VendorCode == "" || c.Symbol == "" {
			t.Errorf("incomplete contract record: %+v", c)
		}
	}
}
