// Package errs provides structured error types shared across the gateway.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a gateway error category.
type Code string

const (
	// CodeVendorRejection indicates the exchange explicitly refused a request.
	CodeVendorRejection Code = "vendor_rejection"
	// CodeTransport indicates no usable response was received from the venue.
	CodeTransport Code = "transport_failure"
	// CodeStaleUpdate indicates a duplicate or out-of-order order snapshot.
	CodeStaleUpdate Code = "stale_update"
	// CodeUnknownSymbol indicates a symbol with no instrument mapping.
	CodeUnknownSymbol Code = "unknown_symbol"
	// CodeDuplicateBinding indicates a second exchange id bound to a local id.
	CodeDuplicateBinding Code = "duplicate_binding"
	// CodePartialBatch indicates some chunks of a batch operation failed.
	CodePartialBatch Code = "partial_batch"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeUnavailable indicates the component is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeDataAnomaly indicates vendor data that violates a structural assumption.
	CodeDataAnomaly Code = "data_anomaly"
)

// E captures structured error information produced across the gateway.
type E struct {
	Source  string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the originating component and code.
func New(source string, code Code, opts ...Option) *E {
	e := &E{
		Source: strings.TrimSpace(source),
		Code:   code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw exchange error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message verbatim.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	source := strings.TrimSpace(e.Source)
	if source == "" {
		source = "unknown"
	}
	parts = append(parts, "source="+source)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Reason renders the terminal reason string attached to rejected orders.
// Vendor rejections keep the raw code and message; transport failures are
// tagged as connector-originated so callers can tell the two apart.
func (e *E) Reason() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case CodeVendorRejection:
		if e.RawCode != "" || e.RawMsg != "" {
			return strings.TrimSpace(e.RawCode + " " + e.RawMsg)
		}
		return e.Message
	case CodeTransport:
		msg := e.Message
		if msg == "" {
			msg = "no response from venue"
		}
		return "connector: " + msg
	default:
		return e.Message
	}
}

// IsCode reports whether err carries the given gateway error code.
func IsCode(err error, code Code) bool {
	e, ok := err.(*E)
	return ok && e != nil && e.Code == code
}
