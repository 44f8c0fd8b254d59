package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArgon(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	a, err := NewArgon2(cfg)
	require.NoError(t, err)
	return a
}

func TestArgon2RoundTrip(t *testing.T) {
	a := newTestArgon(t, DefaultConfig())

	hash, err := a.Hash("P@ssw0rd-Ascii")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"), hash)

	ok, err := a.Verify("P@ssw0rd-Ascii", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Verify("p@ssw0rd-ascii", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2SaltsDiffer(t *testing.T) {
	a := newTestArgon(t, TestConfig())
	h1, err := a.Hash("same")
	require.NoError(t, err)
	h2, err := a.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := newTestArgon(t, TestConfig())
	strong := newTestArgon(t, DefaultConfig())

	weakHash, err := weak.Hash("upgrade-me")
	require.NoError(t, err)
	up, err := strong.NeedsUpgrade(weakHash)
	require.NoError(t, err)
	assert.True(t, up)

	strongHash, err := strong.Hash("already-current")
	require.NoError(t, err)
	up, err = strong.NeedsUpgrade(strongHash)
	require.NoError(t, err)
	assert.False(t, up)
}

func TestArgon2RejectsBadInput(t *testing.T) {
	a := newTestArgon(t, TestConfig())
	good, err := a.Hash("version-test")
	require.NoError(t, err)

	cases := map[string]string{
		"not phc":       "not-a-phc-hash",
		"wrong version": strings.Replace(good, "$v=19$", "$v=18$", 1),
		"wrong algo":    strings.Replace(good, "$argon2id$", "$argon2i$", 1),
		"truncated":     good[:len(good)-10] + "$",
	}
	for name, hash := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify("version-test", hash)
			assert.Error(t, err)
		})
	}

	_, err = a.Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestArgon2RejectsWeakConfig(t *testing.T) {
	cfg := TestConfig()
	cfg.Memory = minMemoryKB - 1
	_, err := NewArgon2(cfg)
	assert.Error(t, err)

	cfg = TestConfig()
	cfg.SaltLength = 8
	_, err = NewArgon2(cfg)
	assert.Error(t, err)
}

func TestParseErrorsAreClassified(t *testing.T) {
	a := newTestArgon(t, TestConfig())
	_, err := a.Verify("x", "$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$ZGlnZXN0")
	assert.ErrorIs(t, err, ErrMalformedHash)

	_, err = a.Verify("x", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$ZGlnZXN0")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}
