// sign.go implements Bybit v5 request authentication.
//
// Bybit signs private requests with HMAC-SHA256 over the concatenation
// timestamp + apiKey + recvWindow + payload, where payload is the JSON body
// for POST and the raw query string for GET. The hex digest goes into the
// X-BAPI-SIGN header alongside key, timestamp and recv window.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signer produces the X-BAPI-* auth headers for private Bybit endpoints.
type Signer struct {
	apiKey     string
	apiSecret  string
	recvWindow int // milliseconds
}

// NewSigner creates a signer for the given credentials. recvWindow is in
// milliseconds; Bybit's default is 5000.
func NewSigner(apiKey, apiSecret string, recvWindow int) *Signer {
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	return &Signer{apiKey: apiKey, apiSecret: apiSecret, recvWindow: recvWindow}
}

// Headers returns the auth headers for a request whose signed payload is the
// JSON body (POST) or the query string (GET).
func (s *Signer) Headers(payload string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return s.headersAt(timestamp, payload)
}

func (s *Signer) headersAt(timestamp, payload string) map[string]string {
	recvWindow := strconv.Itoa(s.recvWindow)
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(timestamp + s.apiKey + recvWindow + payload))
	return map[string]string{
		"X-BAPI-API-KEY":     s.apiKey,
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-SIGN":        hex.EncodeToString(mac.Sum(nil)),
		"X-BAPI-RECV-WINDOW": recvWindow,
		"X-BAPI-SIGN-TYPE":   "2",
	}
}
