package account

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns plaintext passwords into one-way salted digests.
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

const (
	AlgoArgon2id = "argon2id"
	AlgoBcrypt   = "bcrypt"
)

// Argon2idHasher produces PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// Zero fields fall back to the defaults below. Digests in bcrypt format are
// still verified so accounts created before the switch keep working; they
// report NeedsRehash.
type Argon2idHasher struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

const (
	defaultArgonTime    = 3
	defaultArgonMemory  = 64 * 1024
	defaultArgonThreads = 2
	defaultArgonKeyLen  = 32
	defaultArgonSaltLen = 16
)

var errMalformedHash = errors.New("malformed argon2id hash")

func (h Argon2idHasher) withDefaults() Argon2idHasher {
	if h.Time == 0 {
		h.Time = defaultArgonTime
	}
	if h.Memory == 0 {
		h.Memory = defaultArgonMemory
	}
	if h.Threads == 0 {
		h.Threads = defaultArgonThreads
	}
	if h.KeyLen == 0 {
		h.KeyLen = defaultArgonKeyLen
	}
	if h.SaltLen == 0 {
		h.SaltLen = defaultArgonSaltLen
	}
	return h
}

func (h Argon2idHasher) Hash(pw string) (string, string, error) {
	p := h.withDefaults()
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(pw), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	enc := base64.RawStdEncoding
	out := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads, enc.EncodeToString(salt), enc.EncodeToString(key))
	return out, AlgoArgon2id, nil
}

func (h Argon2idHasher) Verify(hash, pw string) bool {
	if isBcrypt(hash) {
		return BcryptHasher{}.Verify(hash, pw)
	}
	ph, err := parseArgon2id(hash)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(pw), ph.salt, ph.time, ph.memory, ph.threads, uint32(len(ph.key)))
	return subtle.ConstantTimeCompare(key, ph.key) == 1
}

// NeedsRehash is true for foreign formats and for argon2id digests produced
// with parameters other than the current ones.
func (h Argon2idHasher) NeedsRehash(hash string) bool {
	ph, err := parseArgon2id(hash)
	if err != nil {
		return true
	}
	p := h.withDefaults()
	return ph.version != argon2.Version || ph.time != p.Time || ph.memory != p.Memory ||
		ph.threads != p.Threads || uint32(len(ph.key)) != p.KeyLen || uint32(len(ph.salt)) != p.SaltLen
}

type argon2idHash struct {
	version int
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func parseArgon2id(s string) (*argon2idHash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != AlgoArgon2id {
		return nil, errMalformedHash
	}
	var ph argon2idHash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &ph.version); err != nil {
		return nil, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &ph.memory, &ph.time, &ph.threads); err != nil {
		return nil, errMalformedHash
	}
	// argon2.IDKey panics on zero time or threads
	if ph.time == 0 || ph.threads == 0 {
		return nil, errMalformedHash
	}
	var err error
	enc := base64.RawStdEncoding
	if ph.salt, err = enc.DecodeString(parts[4]); err != nil {
		return nil, errMalformedHash
	}
	if ph.key, err = enc.DecodeString(parts[5]); err != nil || len(ph.key) == 0 {
		return nil, errMalformedHash
	}
	return &ph, nil
}

// BcryptHasher is the legacy algorithm.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("%s:%d", AlgoBcrypt, b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return c != b.cost()
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}
