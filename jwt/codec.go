package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used for both token types.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 private key (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// TokenType distinguishes access tokens from refresh tokens through the "typ" claim.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrMalformed is returned for tokens that cannot be decoded or lack required claims.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired is returned for correctly signed tokens whose exp is in the past.
	ErrExpired = errors.New("token expired")
	// ErrSignatureInvalid is returned when the signature does not verify against the configured keys.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrWrongType is returned when an access token is presented as a refresh token or vice versa.
	ErrWrongType = errors.New("token type mismatch")
)

// Config holds signing keys and token lifetimes for a Codec.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	// Now replaces time.Now for issuing and expiry checks when set.
	Now func() time.Time
}

// Claims is the claim set carried by both access and refresh tokens.
type Claims struct {
	Username    string    `json:"usr"`
	UserType    string    `json:"utp"`
	Permissions string    `json:"prm,omitempty"`
	DeviceID    string    `json:"did,omitempty"`
	ClientIP    string    `json:"cip,omitempty"`
	SessionID   string    `json:"sid"`
	Type        TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// TokenID returns the jti claim.
func (c *Claims) TokenID() string { return c.ID }

// RemainingLifetime reports how long the token stays valid after now. It is zero for
// expired tokens and for tokens without an exp claim.
func (c *Claims) RemainingLifetime(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Subject carries the identity fields copied into freshly issued tokens.
type Subject struct {
	UserID      string
	Username    string
	UserType    string
	Permissions string
	DeviceID    string
	ClientIP    string
	SessionID   string
}

// Codec signs and parses tokens. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	config Config
	now    func() time.Time
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			cfg.PublicKey = priv.Public().(ed25519.PublicKey)
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{config: cfg, now: now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// Issue signs claims as-is, filling only what is missing: iat (now), exp (iat+ttl),
// jti (random uuid) and iss. Given fully populated claims the output is deterministic.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, error) {
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return "", fmt.Errorf("%w: unknown token type %q", ErrMalformed, claims.Type)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(c.now())
	}
	if claims.ExpiresAt == nil {
		if ttl <= 0 {
			return "", errors.New("token ttl must be positive")
		}
		claims.ExpiresAt = jwt.NewNumericDate(claims.IssuedAt.Time.Add(ttl))
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if claims.Issuer == "" {
		claims.Issuer = c.config.Issuer
	}

	token := jwt.NewWithClaims(c.method(), claims)
	if c.config.KeyID != "" {
		token.Header["kid"] = c.config.KeyID
	}

	key, err := c.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

// IssueAccess issues an access token for s with the configured access TTL.
func (c *Codec) IssueAccess(s Subject) (string, *Claims, error) {
	return c.issueFor(s, TypeAccess, c.config.AccessTTL)
}

// IssueRefresh issues a refresh token for s with the configured refresh TTL.
func (c *Codec) IssueRefresh(s Subject) (string, *Claims, error) {
	return c.issueFor(s, TypeRefresh, c.config.RefreshTTL)
}

func (c *Codec) issueFor(s Subject, typ TokenType, ttl time.Duration) (string, *Claims, error) {
	now := c.now()
	claims := Claims{
		Username:    s.Username,
		UserType:    s.UserType,
		Permissions: s.Permissions,
		DeviceID:    s.DeviceID,
		ClientIP:    s.ClientIP,
		SessionID:   s.SessionID,
		Type:        typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			ID:        uuid.NewString(),
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := c.Issue(claims, ttl)
	if err != nil {
		return "", nil, err
	}
	return token, &claims, nil
}

// Parse verifies signature, expiry and type of tokenStr. Every failure wraps exactly one
// of ErrMalformed, ErrExpired, ErrSignatureInvalid or ErrWrongType.
func (c *Codec) Parse(tokenStr string, want TokenType) (*Claims, error) {
	return c.parse(tokenStr, want, false)
}

// ParseAllowExpired is Parse without the time checks. Signature, issuer and type are
// still verified. It only serves to read metadata from a token that may have lapsed.
func (c *Codec) ParseAllowExpired(tokenStr string, want TokenType) (*Claims, error) {
	return c.parse(tokenStr, want, true)
}

func (c *Codec) parse(tokenStr string, want TokenType, allowExpired bool) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
	}
	if allowExpired {
		options = append(options, jwt.WithoutClaimsValidation())
	} else {
		options = append(options,
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(c.now),
		)
		if c.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(c.config.Leeway))
		}
		if c.config.Issuer != "" {
			options = append(options, jwt.WithIssuer(c.config.Issuer))
		}
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, c.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrMalformed)
	}
	if allowExpired && c.config.Issuer != "" && claims.Issuer != c.config.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrMalformed)
	}
	if !allowExpired && claims.IssuedAt != nil && c.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(c.now().Add(c.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
		}
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != c.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(c.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return c.verifyKeyFromBytes(key)
	}

	if c.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != c.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return c.verifyKeyFromBytes(c.verifyMaterial())
}

func (c *Codec) method() jwt.SigningMethod {
	if c.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (c *Codec) signKey() (interface{}, error) {
	if c.config.SigningMethod == MethodHS256 {
		return c.config.PrivateKey, nil
	}
	return parseEdPrivateKey(c.config.PrivateKey)
}

func (c *Codec) verifyMaterial() []byte {
	if c.config.SigningMethod == MethodHS256 {
		return c.config.PrivateKey
	}
	return c.config.PublicKey
}

func (c *Codec) verifyKeyFromBytes(key []byte) (interface{}, error) {
	if c.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
