// Package codegen produces short human-readable QR codes that are unique
// within a caller-supplied set.
package codegen

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Alphabet omits 0/O and 1/I, which are easy to misread on printed cards.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultLength = 6
	maxAttempts   = 1000
	// fallbackPrefix cannot occur in a random code since '-' is not in Alphabet.
	fallbackPrefix = "X-"
)

// Generator draws random codes of a fixed length.
type Generator struct {
	prefix string
	length int
}

// New returns a generator. prefix is prepended verbatim, e.g. "RW-" for rewards.
func New(prefix string, length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{prefix: prefix, length: length}
}

// Generate returns a code not present in existing. After maxAttempts
// collisions it falls back to a UUID-derived code, which is still checked.
func (g *Generator) Generate(existing map[string]struct{}) string {
	for i := 0; i < maxAttempts; i++ {
		code := g.prefix + randomString(g.length)
		if _, taken := existing[code]; !taken {
			return code
		}
	}
	for {
		code := g.prefix + fallbackPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
		if _, taken := existing[code]; !taken {
			return code
		}
	}
}

// GenerateBatch returns n distinct codes. Each new code is added to existing
// before the next draw, so the set the caller passes in is extended.
func (g *Generator) GenerateBatch(existing map[string]struct{}, n int) []string {
	if existing == nil {
		existing = make(map[string]struct{}, n)
	}
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code := g.Generate(existing)
		existing[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

// Set builds an exclusion set from codes, skipping empty values.
func Set(codes ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c != "" {
			s[c] = struct{}{}
		}
	}
	return s
}

var alphabetLen = big.NewInt(int64(len(Alphabet)))

func randomString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			// crypto/rand only fails when the OS source is unavailable.
			panic("codegen: read random: " + err.Error())
		}
		b.WriteByte(Alphabet[idx.Int64()])
	}
	return b.String()
}
