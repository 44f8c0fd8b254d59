package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnsupportedHash is returned for stored hashes in an unknown format, or Argon2id
// hashes whose version or cost this package does not accept.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Hasher produces Argon2id hashes and verifies both Argon2id and legacy bcrypt hashes.
// It is the single comparator used for login and password-history checks.
type Hasher struct {
	argon *Argon2
}

// NewHasher returns a Hasher producing Argon2id hashes with cfg.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash returns an Argon2id PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify compares password against encodedHash in constant time. A mismatch is
// (false, nil); an unreadable hash is an error.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, argonPrefix):
		return h.argon.Verify(password, encodedHash)
	case isBcrypt(encodedHash):
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade is true for bcrypt hashes and for Argon2id hashes with weaker parameters.
func (h *Hasher) NeedsUpgrade(encodedHash string) bool {
	if isBcrypt(encodedHash) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}

func isBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
