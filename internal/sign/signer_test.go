package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"
	"time"
)

func expectedDigest(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignMandatoryBody(t *testing.T) {
	s := Signer{Key: "key", Secret: "secret", Passphrase: "phrase"}
	now := time.Date(2019, 1, 22, 3, 40, 25, 530_000_000, time.UTC)

	body := []byte(`{"client_oid":"1001"}`)
	h := s.Sign("POST", "/api/futures/v3/order", nil, body, now, ProfileMandatoryBody)

	if h.Timestamp != "2019-01-22T03:40:25.530Z" {
		t.Fatalf("timestamp = %q", h.Timestamp)
	}
	want := expectedDigest("secret", "2019-01-22T03:40:25.530ZPOST/api/futures/v3/order"+string(body))
	if h.Signature != want {
		t.Errorf("signature mismatch: got %q want %q", h.Signature, want)
	}
	if h.Key != "key" || h.Passphrase != "phrase" {
		t.Errorf("header identity fields wrong: %+v", h)
	}
}

func TestSignQueryIsPartOfPath(t *testing.T) {
	s := Signer{Secret: "secret"}
	now := time.Date(2019, 1, 22, 3, 40, 25, 0, time.UTC)

	query := url.Values{}
	query.Set("instrument_id", "EOS-USD-190329")
	query.Set("status", "6")
	h := s.Sign("GET", "/api/futures/v3/orders/EOS-USD-190329", query, nil, now, ProfileOptionalBody)

	want := expectedDigest("secret",
		"2019-01-22T03:40:25.000ZGET/api/futures/v3/orders/EOS-USD-190329?"+query.Encode())
	if h.Signature != want {
		t.Errorf("signature mismatch with query")
	}
}

func TestOptionalBodyOmittedWhenAbsent(t *testing.T) {
	s := Signer{Secret: "secret"}
	now := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

	withEmpty := s.Sign("GET", "/api/swap/v3/position", nil, nil, now, ProfileOptionalBody)
	mandatoryEmpty := s.Sign("GET", "/api/swap/v3/position", nil, nil, now, ProfileMandatoryBody)

	// Both omit a zero-length body from the message, so they agree here.
	if withEmpty.Signature != mandatoryEmpty.Signature {
		t.Errorf("zero-length body should not change the message")
	}

	body := []byte("{}")
	optional := s.Sign("GET", "/api/swap/v3/position", nil, body, now, ProfileOptionalBody)
	mandatory := s.Sign("GET", "/api/swap/v3/position", nil, body, now, ProfileMandatoryBody)
	if optional.Signature != mandatory.Signature {
		t.Errorf("present body must be signed under both profiles")
	}
	if optional.Signature == withEmpty.Signature {
		t.Errorf("body bytes must affect the signature")
	}
}

func TestWSLoginArgs(t *testing.T) {
	s := Signer{Key: "key", Secret: "secret", Passphrase: "phrase"}
	now := time.UnixMilli(1548128425530).UTC()

	args := s.WSLogin(now)
	if args[0] != "key" || args[1] != "phrase" {
		t.Fatalf("identity args wrong: %v", args)
	}
	if args[2] != "1548128425.530" {
		t.Fatalf("ws timestamp = %q, want epoch seconds", args[2])
	}
	want := expectedDigest("secret", args[2]+"GET/users/self/verify")
	if args[3] != want {
		t.Errorf("ws signature mismatch")
	}
}
