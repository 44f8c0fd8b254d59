package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
	argonPrefix           = "$" + algorithmID + "$"
)

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrMalformedHash means a stored hash is not a well-formed PHC string.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns production cost parameters (64 MiB, t=3, p=2).
func DefaultConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// TestConfig returns the cheapest accepted parameters, for tests and load generation.
func TestConfig() Config {
	return Config{Memory: minMemoryKB, Time: minTimeCost, Parallelism: minParallelism, SaltLength: minSaltLength, KeyLength: minKeyLength}
}

// Argon2 hashes and verifies PHC-encoded Argon2id hashes.
type Argon2 struct {
	config Config
}

type parsedPHC struct {
	memory, time uint32
	parallelism  uint8
	salt, hash   []byte
	keyLength    uint32
}

// NewArgon2 validates cfg against the minimum cost parameters.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return &Argon2{config: cfg}, nil
}

// Hash returns a PHC string for password using a fresh random salt.
// The password bytes are used exactly as given, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// Verify recomputes the hash with the parameters stored in encodedHash and compares in
// constant time.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker parameters than the
// current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	return a.config.Memory > parsed.memory ||
		a.config.Time > parsed.time ||
		a.config.Parallelism > parsed.parallelism ||
		a.config.KeyLength != parsed.keyLength, nil
}

func parsePHC(encoded string) (*parsedPHC, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return nil, fmt.Errorf("%w: want 5 fields", ErrMalformedHash)
	}
	if fields[1] != algorithmID {
		return nil, fmt.Errorf("%w: algorithm %q", ErrUnsupportedHash, fields[1])
	}
	v, ok := strings.CutPrefix(fields[2], "v=")
	if !ok {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if version, err := strconv.Atoi(v); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: version %q", ErrUnsupportedHash, v)
	}

	out := &parsedPHC{}
	if err := parseParams(fields[3], out); err != nil {
		return nil, err
	}

	var err error
	if out.salt, err = base64.StdEncoding.DecodeString(fields[4]); err != nil || len(out.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if out.hash, err = base64.StdEncoding.DecodeString(fields[5]); err != nil || len(out.hash) == 0 {
		return nil, fmt.Errorf("%w: digest", ErrMalformedHash)
	}
	out.keyLength = uint32(len(out.hash))
	return out, nil
}

// parseParams fills memory, time and parallelism from "m=..,t=..,p=..". Each must appear
// exactly once and respect the minimum cost.
func parseParams(field string, out *parsedPHC) error {
	seen := map[string]bool{}
	for _, kv := range strings.Split(field, ",") {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || seen[key] {
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
		seen[key] = true

		bits := 32
		if key == "p" {
			bits = 8
		}
		n, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
		switch key {
		case "m":
			out.memory = uint32(n)
		case "t":
			out.time = uint32(n)
		case "p":
			out.parallelism = uint8(n)
		default:
			return fmt.Errorf("%w: parameter %q", ErrUnsupportedHash, key)
		}
	}
	if len(seen) != 3 {
		return fmt.Errorf("%w: want m, t and p", ErrMalformedHash)
	}
	if out.memory < minMemoryKB || out.time < minTimeCost || out.parallelism < minParallelism {
		return fmt.Errorf("%w: cost below minimum", ErrUnsupportedHash)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
