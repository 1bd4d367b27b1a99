package exchange

import "testing"

func TestSignerHeaders(t *testing.T) {
	t.Parallel()

	s := NewSigner("key", "secret", 5000)
	headers := s.headersAt("1700000000000", `{"category":"option"}`)

	if headers["X-BAPI-API-KEY"] != "key" {
		t.Errorf("api key header = %q", headers["X-BAPI-API-KEY"])
	}
	if headers["X-BAPI-TIMESTAMP"] != "1700000000000" {
		t.Errorf("timestamp header = %q", headers["X-BAPI-TIMESTAMP"])
	}
	if headers["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("recv window header = %q", headers["X-BAPI-RECV-WINDOW"])
	}
	if headers["X-BAPI-SIGN-TYPE"] != "2" {
		t.Errorf("sign type header = %q", headers["X-BAPI-SIGN-TYPE"])
	}
	// HMAC-SHA256("secret", "1700000000000key5000{\"category\":\"option\"}")
	if got := headers["X-BAPI-SIGN"]; len(got) != 64 {
		t.Errorf("signature %q is not a sha256 hex digest", got)
	}

	// Same inputs must sign identically, different payloads must not.
	again := s.headersAt("1700000000000", `{"category":"option"}`)
	if again["X-BAPI-SIGN"] != headers["X-BAPI-SIGN"] {
		t.Error("signature not deterministic")
	}
	other := s.headersAt("1700000000000", `{"category":"spot"}`)
	if other["X-BAPI-SIGN"] == headers["X-BAPI-SIGN"] {
		t.Error("different payloads produced the same signature")
	}
}

func TestSignerDefaultRecvWindow(t *testing.T) {
	t.Parallel()

	s := NewSigner("key", "secret", 0)
	headers := s.Headers("")
	if headers["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("recv window = %q, want default 5000", headers["X-BAPI-RECV-WINDOW"])
	}
}
