package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasherVerifiesArgonAndBcrypt(t *testing.T) {
	h, err := NewHasher(TestConfig())
	require.NoError(t, err)

	argonHash, err := h.Hash("correct")
	require.NoError(t, err)
	ok, err := h.Verify("correct", argonHash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, h.NeedsUpgrade(argonHash))

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	ok, err = h.Verify("legacy-pass", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.Verify("wrong", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, h.NeedsUpgrade(string(legacy)))
}

func TestHasherRejectsUnknownFormat(t *testing.T) {
	h, err := NewHasher(TestConfig())
	require.NoError(t, err)
	_, err = h.Verify("x", "plaintext")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}

func TestHasherRejectsEmptyPassword(t *testing.T) {
	h, err := NewHasher(TestConfig())
	require.NoError(t, err)
	_, err = h.Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}
