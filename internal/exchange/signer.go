package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
)

// HeaderNames are the authentication header names. Semantics are fixed,
// names vary by venue.
type HeaderNames struct {
	Key        string `mapstructure:"key"`
	Sign       string `mapstructure:"sign"`
	Timestamp  string `mapstructure:"timestamp"`
	Passphrase string `mapstructure:"passphrase"`
}

// DefaultHeaderNames returns the Bitget v2 header names.
func DefaultHeaderNames() HeaderNames {
	return HeaderNames{
		Key:        "ACCESS-KEY",
		Sign:       "ACCESS-SIGN",
		Timestamp:  "ACCESS-TIMESTAMP",
		Passphrase: "ACCESS-PASSPHRASE",
	}
}

// Signer produces request signatures. Keys are held as byte slices so they
// can be wiped on shutdown.
type Signer struct {
	accessKey  []byte
	secretKey  []byte
	passphrase []byte
	names      HeaderNames
}

// NewSigner creates a signer for one set of credentials.
func NewSigner(accessKey, secretKey, passphrase string, names HeaderNames) *Signer {
	return &Signer{
		accessKey:  []byte(accessKey),
		secretKey:  []byte(secretKey),
		passphrase: []byte(passphrase),
		names:      names,
	}
}

// Prehash builds the signed payload:
// timestamp + METHOD + path + ("?" + query if any) + body.
func Prehash(timestamp, method, path, query, body string) string {
	payload := timestamp + method + path
	if query != "" {
		payload += "?" + query
	}
	return payload + body
}

// Sign returns the base64 HMAC-SHA256 signature for the request.
func (s *Signer) Sign(timestamp, method, path, query, body string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(Prehash(timestamp, method, path, query, body)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Apply attaches the authentication headers to h.
func (s *Signer) Apply(h http.Header, timestamp, method, path, query, body string) {
	h.Set(s.names.Key, string(s.accessKey))
	h.Set(s.names.Sign, s.Sign(timestamp, method, path, query, body))
	h.Set(s.names.Timestamp, timestamp)
	h.Set(s.names.Passphrase, string(s.passphrase))
}

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	clear(s.accessKey)
	clear(s.secretKey)
	clear(s.passphrase)
}
