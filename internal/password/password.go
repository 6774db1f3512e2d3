// Package password hashes and compares account credentials.
package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/birdnest/apiserver/config"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMismatch is returned by Compare when the plaintext does not match.
	ErrMismatch = errors.New("password does not match")
	ErrEmpty    = errors.New("password must not be empty")
)

// Hasher turns a plaintext password into a storable digest and checks a
// candidate against one.
type Hasher interface {
	Hash(plain string) (string, error)
	Compare(digest, plain string) error
}

// New returns the hasher selected by cfg.Algorithm.
func New(cfg config.PasswordConfig) (Hasher, error) {
	switch strings.ToLower(cfg.Algorithm) {
	case "", "bcrypt":
		return NewBcrypt(cfg.BcryptCost), nil
	case "sha256":
		return NewSaltedSHA256(cfg.Salt)
	default:
		return nil, fmt.Errorf("unknown password hash algorithm %q", cfg.Algorithm)
	}
}

// Bcrypt stores a per-record random salt and an adaptive cost in the digest.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. A cost outside bcrypt's range falls back
// to bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

func (b *Bcrypt) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmpty
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

func (b *Bcrypt) Compare(digest, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return err
	}
	return nil
}

// SaltedSHA256 is the legacy construction: hex(sha256(plain + salt)) with a
// single process-wide salt. It is deterministic and has no work factor, so it
// is only meant for reading accounts created before the switch to bcrypt.
type SaltedSHA256 struct {
	salt string
}

func NewSaltedSHA256(salt string) (*SaltedSHA256, error) {
	if salt == "" {
		return nil, errors.New("sha256 hasher requires a salt")
	}
	return &SaltedSHA256{salt: salt}, nil
}

func (s *SaltedSHA256) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmpty
	}
	sum := sha256.Sum256([]byte(plain + s.salt))
	return hex.EncodeToString(sum[:]), nil
}

func (s *SaltedSHA256) Compare(digest, plain string) error {
	candidate, err := s.Hash(plain)
	if err != nil {
		return ErrMismatch
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(digest)) != 1 {
		return ErrMismatch
	}
	return nil
}
