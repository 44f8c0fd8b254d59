package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newHSCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		AccessTTL:     2 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "authd",
	})
	require.NoError(t, err)
	return c
}

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func testSubject() Subject {
	return Subject{
		UserID:      "u-1",
		Username:    "alice",
		UserType:    "admin",
		Permissions: "user.read,user.write",
		DeviceID:    "dev-1",
		ClientIP:    "10.0.0.1",
		SessionID:   "act-1",
	}
}

func TestIssueAndParseRoundTripsClaims(t *testing.T) {
	c := newHSCodec(t)

	access, issued, err := c.IssueAccess(testSubject())
	require.NoError(t, err)

	claims, err := c.Parse(access, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID())
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "admin", claims.UserType)
	assert.Equal(t, "user.read,user.write", claims.Permissions)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.Equal(t, "10.0.0.1", claims.ClientIP)
	assert.Equal(t, "act-1", claims.SessionID)
	assert.Equal(t, issued.TokenID(), claims.TokenID())
	assert.Equal(t, "authd", claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), claims.ExpiresAt.Time, 2*time.Second)
}

func TestIssueIsDeterministicForFixedClaims(t *testing.T) {
	c := newHSCodec(t)
	now := time.Unix(1_700_000_000, 0)
	claims := Claims{
		Username:  "alice",
		SessionID: "act-1",
		Type:      TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:  "u-1",
			ID:       "jti-1",
			IssuedAt: gjwt.NewNumericDate(now),
		},
	}

	a, err := c.Issue(claims, time.Hour)
	require.NoError(t, err)
	b, err := c.Issue(claims, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEachIssueGetsUniqueTokenID(t *testing.T) {
	c := newHSCodec(t)
	_, first, err := c.IssueAccess(testSubject())
	require.NoError(t, err)
	_, second, err := c.IssueAccess(testSubject())
	require.NoError(t, err)
	assert.NotEqual(t, first.TokenID(), second.TokenID())
}

func TestParseRejectsWrongTokenType(t *testing.T) {
	c := newHSCodec(t)

	refresh, _, err := c.IssueRefresh(testSubject())
	require.NoError(t, err)
	_, err = c.Parse(refresh, TypeAccess)
	assert.ErrorIs(t, err, ErrWrongType)

	access, _, err := c.IssueAccess(testSubject())
	require.NoError(t, err)
	_, err = c.Parse(access, TypeRefresh)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestParseClassifiesExpired(t *testing.T) {
	c := newHSCodec(t)
	past := time.Now().Add(-3 * time.Hour)
	token, err := c.Issue(Claims{
		Type: TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u-1",
			IssuedAt:  gjwt.NewNumericDate(past),
			ExpiresAt: gjwt.NewNumericDate(past.Add(time.Hour)),
		},
	}, 0)
	require.NoError(t, err)

	_, err = c.Parse(token, TypeAccess)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestParseClassifiesSignatureFailures(t *testing.T) {
	c := newHSCodec(t)
	other, err := NewCodec(Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "authd",
	})
	require.NoError(t, err)

	forged, _, err := other.IssueAccess(testSubject())
	require.NoError(t, err)
	_, err = c.Parse(forged, TypeAccess)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	_, priv := newEdKeys(t)
	c, err := NewCodec(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv})
	require.NoError(t, err)

	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u-1",
		ID:        "jti",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = c.Parse(token, TypeAccess)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestParseClassifiesGarbageAsMalformed(t *testing.T) {
	c := newHSCodec(t)
	for _, in := range []string{"", "   ", "not.a.jwt", "abc"} {
		_, err := c.Parse(in, TypeAccess)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}

func TestParseRequiresTokenID(t *testing.T) {
	c := newHSCodec(t)
	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u-1",
		Issuer:    "authd",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = c.Parse(token, TypeAccess)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEd25519WithKeyRotation(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	c, err := NewCodec(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	require.NoError(t, err)

	token, _, err := c.IssueAccess(testSubject())
	require.NoError(t, err)
	_, err = c.Parse(token, TypeAccess)
	require.NoError(t, err)

	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u-1",
		ID:        "jti",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k3"
	unknown, err := tok.SignedString(priv1)
	require.NoError(t, err)
	_, err = c.Parse(unknown, TypeAccess)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestNewCodecValidatesConfig(t *testing.T) {
	cases := map[string]Config{
		"zero ttl":          {SigningMethod: MethodHS256, PrivateKey: testSecret},
		"short secret":      {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		"refresh too short": {AccessTTL: time.Hour, RefreshTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: testSecret},
		"unknown method":    {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs256", PrivateKey: testSecret},
		"ed without key":    {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCodec(cfg)
			assert.Error(t, err)
		})
	}
}

func TestRemainingLifetime(t *testing.T) {
	now := time.Now()
	c := &Claims{RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute))}}
	assert.InDelta(t, float64(time.Minute), float64(c.RemainingLifetime(now)), float64(time.Second))

	expired := &Claims{RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(now.Add(-time.Minute))}}
	assert.Zero(t, expired.RemainingLifetime(now))
	assert.Zero(t, (&Claims{}).RemainingLifetime(now))
}

func TestParseAllowExpiredReadsLapsedToken(t *testing.T) {
	c := newHSCodec(t)
	past := time.Now().Add(-3 * time.Hour)
	token, err := c.Issue(Claims{
		DeviceID: "dev-9",
		Type:     TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u-1",
			IssuedAt:  gjwt.NewNumericDate(past),
			ExpiresAt: gjwt.NewNumericDate(past.Add(time.Hour)),
		},
	}, 0)
	require.NoError(t, err)

	_, err = c.Parse(token, TypeAccess)
	require.ErrorIs(t, err, ErrExpired)

	claims, err := c.ParseAllowExpired(token, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "dev-9", claims.DeviceID)

	_, err = c.ParseAllowExpired(token, TypeRefresh)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestConfiguredClockDrivesExpiry(t *testing.T) {
	now := time.Now()
	c, err := NewCodec(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)

	access, _, err := c.IssueAccess(testSubject())
	require.NoError(t, err)
	_, err = c.Parse(access, TypeAccess)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Parse(access, TypeAccess)
	assert.ErrorIs(t, err, ErrExpired)
}
