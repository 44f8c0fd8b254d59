// Package signature signs and verifies HTTP requests with HMAC-SHA256. A signature
// covers the method, request URI, timestamp, nonce and body digest; verified nonces are
// consumed in a shared ledger so a captured request cannot be replayed.
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authd/nonce"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Signature-Timestamp"
	HeaderNonce     = "X-Signature-Nonce"

	// DefaultWindow is the accepted clock skew in either direction.
	DefaultWindow = 5 * time.Minute
)

var (
	ErrMissing  = errors.New("signature headers missing")
	ErrExpired  = errors.New("signature timestamp outside window")
	ErrInvalid  = errors.New("signature mismatch")
	ErrReplay   = errors.New("signature nonce already used")
	ErrNoSecret = errors.New("signature secret is empty")
)

// NonceConsumer is satisfied by *nonce.Ledger.
type NonceConsumer interface {
	Consume(ctx context.Context, value string, ttl time.Duration) error
}

func canonical(method, uri, timestamp, nonceValue string, body []byte) string {
	digest := sha256.Sum256(body)
	return strings.Join([]string{
		strings.ToUpper(method),
		uri,
		timestamp,
		nonceValue,
		hex.EncodeToString(digest[:]),
	}, "\n")
}

func mac(secret []byte, msg string) []byte {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(msg))
	return h.Sum(nil)
}

// Signer adds signature headers to outgoing requests.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	return &Signer{secret: secret, now: time.Now}, nil
}

// Sign returns the hex signature for the given request parts.
func (s *Signer) Sign(method, uri string, ts time.Time, nonceValue string, body []byte) string {
	return hex.EncodeToString(mac(s.secret, canonical(method, uri, strconv.FormatInt(ts.Unix(), 10), nonceValue, body)))
}

// SignRequest sets the three signature headers on req. body must be the exact bytes
// sent as the request body.
func (s *Signer) SignRequest(req *http.Request, body []byte) {
	ts := s.now()
	n := nonce.Generate()
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set(HeaderNonce, n)
	req.Header.Set(HeaderSignature, s.Sign(req.Method, req.URL.RequestURI(), ts, n, body))
}

// Verifier checks signed requests.
type Verifier struct {
	secret []byte
	nonces NonceConsumer
	window time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithWindow(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func NewVerifier(secret []byte, nonces NonceConsumer, opts ...Option) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if nonces == nil {
		return nil, errors.New("signature: nonce ledger required")
	}
	v := &Verifier{secret: secret, nonces: nonces, window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the headers against method, uri and body, then consumes the nonce. The
// nonce is only consumed for otherwise valid signatures.
func (v *Verifier) Verify(ctx context.Context, method, uri string, header http.Header, body []byte) error {
	sig := header.Get(HeaderSignature)
	tsRaw := header.Get(HeaderTimestamp)
	n := header.Get(HeaderNonce)
	if sig == "" || tsRaw == "" || n == "" {
		return ErrMissing
	}

	sec, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return ErrInvalid
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window {
		return ErrExpired
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalid
	}
	if !hmac.Equal(got, mac(v.secret, canonical(method, uri, tsRaw, n, body))) {
		return ErrInvalid
	}

	if err := v.nonces.Consume(ctx, n, 2*v.window); err != nil {
		if errors.Is(err, nonce.ErrReplay) {
			return ErrReplay
		}
		return fmt.Errorf("signature nonce: %w", err)
	}
	return nil
}
