package edgegrid

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	authScheme      = "EG1-HMAC-SHA256"
	timestampFormat = "20060102T15:04:05+0000"
)

// Signer computes the Authorization header for a request.
type Signer struct {
	Creds Credentials

	// Now and Nonce are replaceable for deterministic tests.
	Now   func() time.Time
	Nonce func() string
}

// NewSigner creates a signer with wall-clock time and random nonces.
func NewSigner(creds Credentials) *Signer {
	return &Signer{
		Creds: creds,
		Now:   time.Now,
		Nonce: func() string { return uuid.New().String() },
	}
}

// Sign sets the Authorization header on req. body is the exact request payload
// (nil for bodiless requests).
func (s *Signer) Sign(req *http.Request, body []byte) {
	timestamp := s.Now().UTC().Format(timestampFormat)
	authHeader := fmt.Sprintf("%s client_token=%s;access_token=%s;timestamp=%s;nonce=%s;",
		authScheme, s.Creds.ClientToken, s.Creds.AccessToken, timestamp, s.Nonce())

	signingKey := hmacBase64([]byte(s.Creds.ClientSecret), timestamp)
	signature := hmacBase64([]byte(signingKey), s.dataToSign(req, body, authHeader))

	req.Header.Set("Authorization", authHeader+"signature="+signature)
}

func (s *Signer) dataToSign(req *http.Request, body []byte, authHeader string) string {
	relURL := req.URL.EscapedPath()
	if relURL == "" {
		relURL = "/"
	}
	if req.URL.RawQuery != "" {
		relURL += "?" + req.URL.RawQuery
	}
	return strings.Join([]string{
		req.Method,
		req.URL.Scheme,
		req.URL.Host,
		relURL,
		"", // no headers are part of the signature
		s.contentHash(req.Method, body),
		authHeader,
	}, "\t")
}

// contentHash covers POST bodies only, truncated to MaxBody.
func (s *Signer) contentHash(method string, body []byte) string {
	if method != http.MethodPost || len(body) == 0 {
		return ""
	}
	maxBody := s.Creds.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	h := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(h[:])
}

func hmacBase64(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Transport is an http.RoundTripper that signs every request.
type Transport struct {
	Signer *Signer
	Base   http.RoundTripper
}

// NewTransport wraps base (http.DefaultTransport when nil) with request signing.
func NewTransport(creds Credentials, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Signer: NewSigner(creds), Base: base}
}

// RoundTrip signs a clone of req and forwards it.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	signed := req.Clone(req.Context())
	if body != nil {
		signed.Body = io.NopCloser(bytes.NewReader(body))
		signed.ContentLength = int64(len(body))
	}
	t.Signer.Creds.attachCookies(signed)
	t.Signer.Sign(signed, body)

	return t.Base.RoundTrip(signed)
}
