package signature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authd/nonce"
)

var secret = []byte("admin-secret")

func newVerifier(t *testing.T, opts ...Option) (*Verifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	v, err := NewVerifier(secret, nonce.NewLedger(rdb, ""), opts...)
	require.NoError(t, err)
	return v, mr
}

func signed(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	s, err := NewSigner(secret)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	s.SignRequest(req, []byte(body))
	return req
}

func TestSignedRequestVerifiesOnce(t *testing.T) {
	v, mr := newVerifier(t)
	req := signed(t, http.MethodPost, "/admin/users/u1/lock?x=1", `{"minutes":5}`)
	ctx := context.Background()

	require.NoError(t, v.Verify(ctx, req.Method, req.URL.RequestURI(), req.Header, []byte(`{"minutes":5}`)))
	assert.True(t, mr.Exists("nonce:"+req.Header.Get(HeaderNonce)))

	err := v.Verify(ctx, req.Method, req.URL.RequestURI(), req.Header, []byte(`{"minutes":5}`))
	assert.ErrorIs(t, err, ErrReplay)
}

func TestTamperedRequestIsRejectedWithoutBurningNonce(t *testing.T) {
	v, mr := newVerifier(t)
	req := signed(t, http.MethodPost, "/admin/users/u1/lock", `{"minutes":5}`)
	ctx := context.Background()

	cases := []struct {
		method, uri, body string
	}{
		{http.MethodPost, "/admin/users/u1/lock", `{"minutes":500}`},
		{http.MethodPost, "/admin/users/u2/lock", `{"minutes":5}`},
		{http.MethodGet, "/admin/users/u1/lock", `{"minutes":5}`},
	}
	for _, tc := range cases {
		err := v.Verify(ctx, tc.method, tc.uri, req.Header, []byte(tc.body))
		assert.ErrorIs(t, err, ErrInvalid)
	}
	assert.False(t, mr.Exists("nonce:"+req.Header.Get(HeaderNonce)))

	other, err := NewSigner([]byte("other-secret"))
	require.NoError(t, err)
	forged := httptest.NewRequest(http.MethodPost, "/admin/users/u1/lock", nil)
	other.SignRequest(forged, nil)
	assert.ErrorIs(t, v.Verify(ctx, forged.Method, forged.URL.RequestURI(), forged.Header, nil), ErrInvalid)
}

func TestTimestampWindow(t *testing.T) {
	now := time.Now()
	v, _ := newVerifier(t, WithWindow(time.Minute), WithClock(func() time.Time { return now }))
	s, err := NewSigner(secret)
	require.NoError(t, err)

	for _, ts := range []time.Time{now.Add(-2 * time.Minute), now.Add(2 * time.Minute)} {
		h := http.Header{}
		h.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
		h.Set(HeaderNonce, "n-"+ts.String())
		h.Set(HeaderSignature, s.Sign(http.MethodGet, "/x", ts, "n-"+ts.String(), nil))
		assert.ErrorIs(t, v.Verify(context.Background(), http.MethodGet, "/x", h, nil), ErrExpired)
	}
}

func TestMissingHeadersAndConstructorErrors(t *testing.T) {
	v, _ := newVerifier(t)
	assert.ErrorIs(t, v.Verify(context.Background(), http.MethodGet, "/x", http.Header{}, nil), ErrMissing)

	h := http.Header{}
	h.Set(HeaderTimestamp, "not-a-number")
	h.Set(HeaderNonce, "n")
	h.Set(HeaderSignature, "zz")
	assert.ErrorIs(t, v.Verify(context.Background(), http.MethodGet, "/x", h, nil), ErrInvalid)

	_, err := NewSigner(nil)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = NewVerifier(secret, nil)
	assert.Error(t, err)
}

func TestStoreOutageIsNotReplay(t *testing.T) {
	v, mr := newVerifier(t)
	req := signed(t, http.MethodGet, "/admin/retry-stats", "")
	mr.Close()

	err := v.Verify(context.Background(), req.Method, req.URL.RequestURI(), req.Header, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, nonce.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrReplay)
}
