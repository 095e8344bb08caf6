package correlation

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Generator produces new request IDs
type Generator interface {
	Generate() string
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func() string

// Generate calls f
func (f GeneratorFunc) Generate() string {
	return f()
}

// UUIDGenerator returns random (version 4) UUIDs as 32 hex characters
type UUIDGenerator struct{}

// Generate returns a new ID
func (UUIDGenerator) Generate() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// RandomHexGenerator returns 16 random bytes hex encoded
type RandomHexGenerator struct{}

// Generate returns a new ID
func (RandomHexGenerator) Generate() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return UUIDGenerator{}.Generate()
	}
	return hex.EncodeToString(b)
}

// DefaultGenerator is used when no generator is configured
var DefaultGenerator Generator = UUIDGenerator{}
