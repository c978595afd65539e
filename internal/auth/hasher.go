package auth

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

// Algorithm tags stored alongside credential records. Verification
// dispatches on the stored tag, so work factors and primitives can be
// upgraded without invalidating existing records.
const (
	TagArgon2id = "argon2id"
	TagBcrypt   = "bcrypt"
)

// Hasher is a one-way credential transform. Hash generates a fresh random
// salt on every call and returns an encoded string embedding it; Verify
// must run in time independent of where a mismatch occurs.
type Hasher interface {
	Tag() string
	Hash(password string) (string, error)
	Verify(encoded, password string) error
}

// Argon2Hasher hashes with argon2id and encodes in PHC string format.
type Argon2Hasher struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// NewArgon2Hasher returns an argon2id hasher with the default work factors.
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (h *Argon2Hasher) Tag() string { return TagArgon2id }

func (h *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, h.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), salt, h.Iterations, h.Memory, h.Parallelism, h.KeyLength)
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		h.Memory,
		h.Iterations,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

func (h *Argon2Hasher) Verify(encoded, password string) error {
	memory, iterations, parallelism, salt, want, err := decodeArgon2(encoded)
	if err != nil {
		return err
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidCredential
	}
	return nil
}

func decodeArgon2(encoded string) (memory, iterations uint32, parallelism uint8, salt, hash []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errors.New("malformed argon2id hash")
	}
	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errors.New("unsupported argon2 version")
	}
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return 0, 0, 0, nil, nil, errors.New("malformed argon2id parameters")
	}
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return 0, 0, 0, nil, nil, errors.New("malformed argon2id salt")
	}
	if hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return 0, 0, 0, nil, nil, errors.New("malformed argon2id hash")
	}
	return memory, iterations, parallelism, salt, hash, nil
}

// BcryptHasher is kept for records written before the argon2id migration.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher() *BcryptHasher { return &BcryptHasher{Cost: bcrypt.DefaultCost} }

func (h *BcryptHasher) Tag() string { return TagBcrypt }

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	sum, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(sum), nil
}

func (h *BcryptHasher) Verify(encoded, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}

// HasherRegistry resolves hashers by algorithm tag. The default hasher is
// used for new records; records carrying another tag still verify through
// their original primitive and are flagged for rehashing.
type HasherRegistry struct {
	def   Hasher
	byTag map[string]Hasher
}

func NewHasherRegistry(def Hasher, legacy ...Hasher) *HasherRegistry {
	r := &HasherRegistry{
		def:   def,
		byTag: map[string]Hasher{def.Tag(): def},
	}
	for _, h := range legacy {
		r.byTag[h.Tag()] = h
	}
	return r
}

// Default returns the hasher used for newly written records.
func (r *HasherRegistry) Default() Hasher { return r.def }

// Verify dispatches on the stored algorithm tag.
func (r *HasherRegistry) Verify(tag, encoded, password string) error {
	h, ok := r.byTag[tag]
	if !ok {
		return fmt.Errorf("auth: unknown hash algorithm %q", tag)
	}
	return h.Verify(encoded, password)
}

// NeedsRehash reports whether a record under the given tag should be
// rewritten with the default hasher on its next successful verification.
func (r *HasherRegistry) NeedsRehash(tag string) bool {
	return tag != r.def.Tag()
}
