// Package sign implements the OKEX v3 request authentication scheme.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"time"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	wsVerifyPath    = "/users/self/verify"
)

// Headers is the authentication header set attached to every signed request.
type Headers struct {
	Key        string
	Signature  string
	Timestamp  string
	Passphrase string
}

// Profile selects how the request body participates in the signed message.
// Endpoints differ: most sign the serialized body unconditionally, the
// bulk cancel/close query paths omit an absent body entirely. The profile
// must match the endpoint, it cannot be inferred.
type Profile int

const (
	// ProfileMandatoryBody always appends the body to the signed message.
	ProfileMandatoryBody Profile = iota
	// ProfileOptionalBody appends the body only when one is present.
	ProfileOptionalBody
)

// Signer computes authentication headers for one credential set. Pure; safe
// for concurrent use.
type Signer struct {
	Key        string
	Secret     string
	Passphrase string
}

// Sign produces the header set for a REST request. The signed message is
// timestamp + METHOD + path[?query] + body, with body handling governed by
// the profile. The timestamp is UTC ISO-8601 with millisecond precision.
func (s Signer) Sign(method, path string, query url.Values, body []byte, now time.Time, profile Profile) Headers {
	timestamp := now.UTC().Format(timestampLayout)

	requestPath := path
	if len(query) > 0 {
		requestPath = path + "?" + query.Encode()
	}

	msg := timestamp + method + requestPath
	switch profile {
	case ProfileMandatoryBody:
		msg += string(body)
	case ProfileOptionalBody:
		if len(body) > 0 {
			msg += string(body)
		}
	}

	return Headers{
		Key:        s.Key,
		Signature:  s.digest(msg),
		Timestamp:  timestamp,
		Passphrase: s.Passphrase,
	}
}

// WSLogin returns the args for the websocket login frame:
// [key, passphrase, timestamp, signature] with the signature computed over
// timestamp + "GET" + "/users/self/verify". The websocket timestamp is epoch
// seconds, unlike the ISO REST timestamp.
func (s Signer) WSLogin(now time.Time) [4]string {
	timestamp := strconv.FormatFloat(float64(now.UnixMilli())/1000, 'f', 3, 64)
	signature := s.digest(timestamp + "GET" + wsVerifyPath)
	return [4]string{s.Key, s.Passphrase, timestamp, signature}
}

func (s Signer) digest(msg string) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
