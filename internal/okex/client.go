package okex

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tradeforge/okexgw/errs"
	"github.com/tradeforge/okexgw/internal/sign"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	// defaultRequestRate caps private REST traffic well under the venue's
	// per-endpoint limits while batch operations fan out.
	defaultRequestRate  = 20
	maxErrorBodyBytes   = 16 << 10
	contentTypeJSON     = "application/json"
	privateSourcePrefix = "okex/rest"
)

// restClient is the signed HTTP transport shared by all three segment
// surfaces. It classifies every failure as either a vendor rejection (the
// venue answered and said no) or a transport failure (no usable answer).
type restClient struct {
	host    string
	http    *http.Client
	signer  *sign.Signer
	limiter *rate.Limiter
	now     func() time.Time
}

func newRESTClient(host string, signer *sign.Signer, timeout time.Duration) *restClient {
	if host == "" {
		host = RESTHost
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &restClient{
		host:    strings.TrimRight(host, "/"),
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(defaultRequestRate), defaultRequestRate),
		now:     time.Now,
	}
}

// vendorError is the error shape the venue uses across segments. Futures and
// swap answer {error_code, error_message}; spot answers {code, message}.
type vendorError struct {
	Code      json.Number `json:"code"`
	Message   string      `json:"message"`
	ErrorCode json.Number `json:"error_code"`
	ErrorMsg  string      `json:"error_message"`
	Msg       string      `json:"msg"`
}

func (v vendorError) rawCode() string {
	if code := v.ErrorCode.String(); code != "" && code != "0" {
		return code
	}
	if code := v.Code.String(); code != "" && code != "0" {
		return code
	}
	return ""
}

func (v vendorError) rawMessage() string {
	for _, m := range []string{v.ErrorMsg, v.Message, v.Msg} {
		if strings.TrimSpace(m) != "" {
			return m
		}
	}
	return ""
}

// get issues a signed GET and decodes the 2xx body into out.
func (c *restClient) get(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.decode(body, out)
}

// post issues a signed POST with a JSON body and decodes the 2xx body into out.
func (c *restClient) post(ctx context.Context, path string, payload any, out any) error {
	var raw []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return errs.New(privateSourcePrefix, errs.CodeInvalid,
				errs.WithMessage("encode request body"), errs.WithCause(err))
		}
		raw = encoded
	}
	body, err := c.do(ctx, http.MethodPost, path, nil, raw)
	if err != nil {
		return err
	}
	return c.decode(body, out)
}

func (c *restClient) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.New(privateSourcePrefix, errs.CodeTransport,
			errs.WithMessage("rate limiter interrupted"), errs.WithCause(err))
	}

	target := c.host + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errs.New(privateSourcePrefix, errs.CodeInvalid,
			errs.WithMessage("build request"), errs.WithCause(err))
	}

	profile := sign.ProfileMandatoryBody
	if method == http.MethodGet {
		profile = sign.ProfileOptionalBody
	}
	headers := c.signer.Sign(method, path, query, body, c.now().UTC(), profile)
	req.Header.Set("OK-ACCESS-KEY", headers.Key)
	req.Header.Set("OK-ACCESS-SIGN", headers.Signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", headers.Timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", headers.Passphrase)
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.New(privateSourcePrefix, errs.CodeTransport,
			errs.WithMessage(method+" "+path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errs.New(privateSourcePrefix, errs.CodeTransport,
			errs.WithMessage("read response body"), errs.WithCause(err))
	}
	if resp.StatusCode/100 != 2 {
		return nil, c.rejection(resp.StatusCode, payload)
	}
	return payload, nil
}

// rejection builds a vendor-rejection error from a non-2xx answer, keeping
// the venue's code and message verbatim.
func (c *restClient) rejection(status int, body []byte) *errs.E {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	var ve vendorError
	opts := []errs.Option{errs.WithHTTP(status)}
	if err := json.Unmarshal(body, &ve); err == nil && (ve.rawCode() != "" || ve.rawMessage() != "") {
		msg := ve.rawMessage()
		if msg == "" {
			msg = textForCode(ve.rawCode())
		}
		opts = append(opts, errs.WithRawCode(ve.rawCode()), errs.WithRawMessage(msg))
	} else {
		opts = append(opts, errs.WithRawMessage(strings.TrimSpace(string(body))))
	}
	code := errs.CodeVendorRejection
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		code = errs.CodeAuth
	}
	opts = append(opts, errs.WithMessage("http "+strconv.Itoa(status)))
	return errs.New(privateSourcePrefix, code, opts...)
}

func (c *restClient) decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(privateSourcePrefix, errs.CodeTransport,
			errs.WithMessage("decode response"), errs.WithCause(err))
	}
	return nil
}
