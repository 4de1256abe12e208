package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorStringIncludesSourceAndCode(t *testing.T) {
	err := New("okex/futures", CodeVendorRejection,
		WithMessage("order refused"),
		WithRawCode("32019"),
		WithRawMessage("order price deviates"),
		WithHTTP(400),
	)
	got := err.Error()
	for _, want := range []string{"source=okex/futures", "code=vendor_rejection", "http=400", "raw_code=\"32019\""} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("okex/rest", CodeTransport, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}

func TestReasonDistinguishesVendorAndTransport(t *testing.T) {
	vendor := New("okex/futures", CodeVendorRejection, WithRawCode("32004"), WithRawMessage("no open order"))
	if got := vendor.Reason(); got != "32004 no open order" {
		t.Errorf("vendor Reason() = %q", got)
	}
	transport := New("okex/futures", CodeTransport)
	if got := transport.Reason(); !strings.HasPrefix(got, "connector:") {
		t.Errorf("transport Reason() = %q, want connector prefix", got)
	}
}

func TestIsCode(t *testing.T) {
	err := New("oms/registry", CodeDuplicateBinding)
	if !IsCode(err, CodeDuplicateBinding) {
		t.Error("expected IsCode to match")
	}
	if IsCode(err, CodeStaleUpdate) {
		t.Error("unexpected IsCode match")
	}
	if IsCode(errors.New("plain"), CodeStaleUpdate) {
		t.Error("plain errors must not match")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Errorf("nil Error() = %q", got)
	}
}
