// Package auth holds the credential primitives of the identity service:
// secret hashing, the password policy, bearer tokens, single-use secrets and
// caller resolution.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmptySecret is returned when asked to hash an empty value.
var ErrEmptySecret = errors.New("secret cannot be empty")

// SecretHasher turns a raw secret into a one-way digest and checks a raw
// value against a stored digest.
type SecretHasher interface {
	Hash(raw string) (string, error)
	Verify(raw, digest string) bool
}

// DigestHasher is an unsalted SHA-256 hasher. Equal inputs give equal
// digests, which ephemeral secret lookup relies on. It is also the legacy
// password format.
type DigestHasher struct{}

// Hash returns the lowercase hex SHA-256 of raw.
func (DigestHasher) Hash(raw string) (string, error) {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the digest of raw and compares it in constant time.
func (h DigestHasher) Verify(raw, digest string) bool {
	computed, _ := h.Hash(raw)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(digest))) == 1
}

func isLegacyDigest(digest string) bool {
	if len(digest) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher. Out-of-range costs fall back to
// bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptySecret
	}
	b, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(raw, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(raw)) == nil
}

func (h *BcryptHasher) owns(digest string) bool {
	return strings.HasPrefix(digest, "$2")
}

// needsRehash reports a bcrypt digest made at a different cost.
func (h *BcryptHasher) needsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	return err != nil || cost != h.cost
}

// OWASP argon2id parameters.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// Argon2idHasher hashes with argon2id and encodes the result as a PHC string:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct{}

func (Argon2idHasher) Hash(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptySecret
	}
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(raw), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (Argon2idHasher) Verify(raw, digest string) bool {
	p, err := parseArgon2id(digest)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(raw), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1
}

func (Argon2idHasher) owns(digest string) bool {
	return strings.HasPrefix(digest, "$argon2id$")
}

func (Argon2idHasher) needsRehash(digest string) bool {
	p, err := parseArgon2id(digest)
	if err != nil {
		return true
	}
	return p.memory != argon2Memory || p.time != argon2Time || p.threads != argon2Threads
}

type argon2Params struct {
	memory, time uint32
	threads      uint8
	salt, key    []byte
}

func parseArgon2id(digest string) (*argon2Params, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, errors.New("invalid argon2id digest")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}
	var memory, t, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &t, &threads); err != nil {
		return nil, fmt.Errorf("parse argon2 params: %w", err)
	}
	if threads == 0 || threads > 255 {
		return nil, fmt.Errorf("argon2 threads %d out of range", threads)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("decode argon2 salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > 1024 {
		return nil, errors.New("invalid argon2 key")
	}
	return &argon2Params{memory: memory, time: t, threads: uint8(threads), salt: salt, key: key}, nil
}

// PasswordHasher is a SecretHasher that can tell when a stored digest should
// be replaced with a fresh one.
type PasswordHasher interface {
	SecretHasher
	NeedsRehash(digest string) bool
}

// UpgradingHasher hashes with a primary algorithm but verifies any digest
// format the service has ever written: bcrypt, argon2id and the legacy
// SHA-256 hex digest.
type UpgradingHasher struct {
	primary string
	bcrypt  *BcryptHasher
	argon   Argon2idHasher
	legacy  DigestHasher
}

// NewPasswordHasher builds an UpgradingHasher whose primary algorithm is one
// of "bcrypt", "argon2id" or "sha256".
func NewPasswordHasher(primary string, bcryptCost int) (*UpgradingHasher, error) {
	switch primary {
	case "bcrypt", "argon2id", "sha256":
	default:
		return nil, fmt.Errorf("unknown password hasher %q", primary)
	}
	return &UpgradingHasher{primary: primary, bcrypt: NewBcryptHasher(bcryptCost)}, nil
}

func (h *UpgradingHasher) Hash(raw string) (string, error) {
	switch h.primary {
	case "argon2id":
		return h.argon.Hash(raw)
	case "sha256":
		return h.legacy.Hash(raw)
	default:
		return h.bcrypt.Hash(raw)
	}
}

func (h *UpgradingHasher) Verify(raw, digest string) bool {
	switch {
	case h.bcrypt.owns(digest):
		return h.bcrypt.Verify(raw, digest)
	case h.argon.owns(digest):
		return h.argon.Verify(raw, digest)
	case isLegacyDigest(digest):
		return h.legacy.Verify(raw, digest)
	default:
		return false
	}
}

// NeedsRehash reports whether digest was not produced by the primary
// algorithm with its current parameters.
func (h *UpgradingHasher) NeedsRehash(digest string) bool {
	switch h.primary {
	case "argon2id":
		return !h.argon.owns(digest) || h.argon.needsRehash(digest)
	case "sha256":
		return !isLegacyDigest(digest)
	default:
		return !h.bcrypt.owns(digest) || h.bcrypt.needsRehash(digest)
	}
}
