package authd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authd/jwt"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestDefaultConfigNeedsOnlyAKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7200*time.Second, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Login)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Zero(t, cfg.Session.MaxSessionsPerUser)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessTTL = 0
	cfg.Retry.MaxRetries = 0
	cfg.Timeouts.Login = 0
	cfg.Session.MaxSessionsPerUser = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"AccessTTL", "MaxRetries", "Timeouts Login", "MaxSessionsPerUser"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateSigningMethods(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.PrivateKey = []byte("short")
	assert.ErrorContains(t, cfg.Validate(), "32 bytes")

	cfg.JWT.SigningMethod = jwt.MethodEd25519
	cfg.JWT.PrivateKey = nil
	assert.ErrorContains(t, cfg.Validate(), "ed25519")

	cfg.JWT.SigningMethod = "none"
	assert.ErrorContains(t, cfg.Validate(), "unsupported")
}

func TestCloneConfigIsDeep(t *testing.T) {
	cfg := validConfig()
	cfg.Permissions = map[string][]string{"admin": {"a", "b"}}
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("key")}

	out := cloneConfig(cfg)
	cfg.JWT.PrivateKey[0] = 'X'
	cfg.Permissions["admin"][0] = "changed"
	cfg.JWT.VerifyKeys["k1"][0] = 'Z'

	assert.Equal(t, byte('0'), out.JWT.PrivateKey[0])
	assert.Equal(t, "a", out.Permissions["admin"][0])
	assert.Equal(t, byte('k'), out.JWT.VerifyKeys["k1"][0])
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	_, err := New().WithConfig(validConfig()).Build()
	assert.ErrorContains(t, err, "redis")
}
