package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PHC strings use unpadded standard base64.
var b64 = base64.RawStdEncoding

const algorithmID = "argon2id"

// Hard floors; configs below these are bumped, never honored.
const (
	minMemoryKiB   uint32 = 8 * 1024
	minIterations  uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 8
	minKeyLength   uint32 = 16
)

// Anti-DoS ceilings applied when verifying foreign hashes. A hash demanding
// more work than this is rejected instead of executed.
const (
	maxVerifyMemoryKiB  uint32 = 1024 * 1024
	maxVerifyIterations uint32 = 16
)

var (
	// ErrInvalidHash is returned when a stored hash is not valid PHC Argon2id.
	ErrInvalidHash = errors.New("invalid argon2id hash")
	// ErrEmptySecret is returned when the plaintext secret is empty.
	ErrEmptySecret = errors.New("empty secret")
)

// Params defines Argon2id cost parameters.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns production-safe Argon2id parameters.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies secrets with a fixed parameter set.
// A Hasher is immutable after construction and safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher constructs a Hasher, clamping parameters to safe minima.
func NewHasher(p Params) *Hasher {
	if p.MemoryKiB < minMemoryKiB {
		p.MemoryKiB = minMemoryKiB
	}
	if p.Iterations < minIterations {
		p.Iterations = minIterations
	}
	if p.Parallelism < minParallelism {
		p.Parallelism = minParallelism
	}
	if p.SaltLength < minSaltLength {
		p.SaltLength = 16
	}
	if p.KeyLength < minKeyLength {
		p.KeyLength = 32
	}
	return &Hasher{params: p}
}

// FromEnv constructs a Hasher from STASH_ARGON2_* environment variables,
// falling back to DefaultParams for unset or invalid values.
func FromEnv() *Hasher {
	p := DefaultParams()
	if v := envUint32("STASH_ARGON2_MEMORY_KIB"); v > 0 {
		p.MemoryKiB = v
	}
	if v := envUint32("STASH_ARGON2_ITERATIONS"); v > 0 {
		p.Iterations = v
	}
	if v := envUint32("STASH_ARGON2_PARALLELISM"); v > 0 && v <= 255 {
		p.Parallelism = uint8(v)
	}
	return NewHasher(p)
}

// Hash returns a PHC-style Argon2id hash of secret with a fresh random salt.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(secret),
		salt,
		h.params.Iterations,
		h.params.MemoryKiB,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify checks secret against a PHC-encoded hash in constant time.
// It refuses hashes whose parameters exceed the verification ceilings.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	if secret == "" {
		return false, ErrEmptySecret
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if parsed.memoryKiB > maxVerifyMemoryKiB || parsed.iterations > maxVerifyIterations {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey(
		[]byte(secret),
		parsed.salt,
		parsed.iterations,
		parsed.memoryKiB,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

type parsedPHC struct {
	memoryKiB   uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return parsedPHC{}, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return parsedPHC{}, ErrInvalidHash
	}

	var p parsedPHC
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return parsedPHC{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return parsedPHC{}, ErrInvalidHash
		}
		switch k {
		case "m":
			p.memoryKiB = uint32(n)
		case "t":
			p.iterations = uint32(n)
		case "p":
			if n == 0 || n > 255 {
				return parsedPHC{}, ErrInvalidHash
			}
			p.parallelism = uint8(n)
		default:
			return parsedPHC{}, ErrInvalidHash
		}
	}
	if p.memoryKiB == 0 || p.iterations == 0 || p.parallelism == 0 {
		return parsedPHC{}, ErrInvalidHash
	}

	var err error
	if p.salt, err = b64.DecodeString(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return parsedPHC{}, ErrInvalidHash
	}
	if p.key, err = b64.DecodeString(parts[5]); err != nil || len(p.key) < int(minKeyLength) {
		return parsedPHC{}, ErrInvalidHash
	}

	return p, nil
}

func envUint32(key string) uint32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
