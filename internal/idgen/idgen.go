// Package idgen mints endpoint identifiers.
//
// Identifiers are fixed-length lower-case hex strings drawn from crypto/rand
// (via nanoid), so they are URL-safe and unguessable.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the character set used for endpoint identifiers.
const Alphabet = "0123456789abcdef"

// Length is the number of characters per identifier (48 bits of entropy).
const Length = 12

// Generator produces a new identifier.
type Generator func() (string, error)

// Generate returns a new random endpoint identifier.
func Generate() (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id, nil
}
