package authority

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/atomic"
	"golang.org/x/crypto/bcrypt"

	dErrors "objectmap/pkg/domain-errors"
)

// PipelineKeys verifies the population pipeline credential against a bcrypt hash.
// The pipeline sends the key on every add, so the digest of the last key that
// passed bcrypt is remembered and compared in constant time.
type PipelineKeys struct {
	hash     []byte
	verified atomic.Pointer[[sha256.Size]byte]
}

func NewPipelineKeys(hash string) *PipelineKeys {
	return &PipelineKeys{hash: []byte(hash)}
}

// Verify checks key against the configured hash.
func (p *PipelineKeys) Verify(key string) error {
	if key == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "pipeline key required")
	}
	digest := sha256.Sum256([]byte(key))
	if known := p.verified.Load(); known != nil && subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(p.hash, []byte(key)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid pipeline key")
		}
		return fmt.Errorf("could not verify pipeline key: %w", err)
	}
	p.verified.Store(&digest)
	return nil
}

// GenerateKey creates a cryptographically secure random pipeline key.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey creates the bcrypt hash stored in PIPELINE_KEY_HASH.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "key cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "key is too long")
		}
		return "", fmt.Errorf("could not hash key: %w", err)
	}
	return string(hashed), nil
}
