package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleActivity() *Activity {
	base := time.UnixMilli(1_700_000_000_123)
	return &Activity{
		UserID:          "u-1",
		Username:        "alice",
		UserType:        "admin",
		TokenID:         "jti-a",
		RefreshTokenID:  "jti-r",
		DeviceID:        "dev-1",
		ClientIP:        "10.0.0.1",
		UserAgent:       "curl/8.0",
		CreatedAt:       base,
		LastSeenAt:      base.Add(time.Minute),
		AccessExpiresAt: base.Add(2 * time.Hour),
		ExpiresAt:       base.Add(7 * 24 * time.Hour),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleActivity()
	blob, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, byte(CurrentSchemaVersion), blob[0])

	out, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, in.UserID, out.UserID)
	assert.Equal(t, in.UserAgent, out.UserAgent)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
	assert.Empty(t, out.ID)
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	blob, err := Encode(sampleActivity())
	require.NoError(t, err)

	wrongVersion := append([]byte{9}, blob[1:]...)
	cases := map[string][]byte{
		"empty":         nil,
		"wrong version": wrongVersion,
		"truncated":     blob[:len(blob)-3],
		"trailing":      append(append([]byte{}, blob...), 0x00),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestDecodeRequiresUserID(t *testing.T) {
	a := sampleActivity()
	a.UserID = ""
	blob, err := Encode(a)
	require.NoError(t, err)
	_, err = Decode(blob)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestEncodeRejectsOversizedField(t *testing.T) {
	a := sampleActivity()
	a.UserAgent = strings.Repeat("x", 1<<16)
	_, err := Encode(a)
	assert.Error(t, err)
}

func FuzzDecode(f *testing.F) {
	blob, err := Encode(sampleActivity())
	if err != nil {
		f.Fatal(err)
	}
	f.Add(blob)
	f.Add([]byte{CurrentSchemaVersion})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		a, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(a)
		if err != nil {
			t.Fatalf("re-encode decoded activity: %v", err)
		}
		if _, err := Decode(again); err != nil {
			t.Fatalf("decode re-encoded activity: %v", err)
		}
	})
}
