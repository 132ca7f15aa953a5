package idgen

import (
	"regexp"
	"testing"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

func TestGenerate_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error on iteration %d: %v", i, err)
		}
		if !hexPattern.MatchString(id) {
			t.Fatalf("Generate() = %q, want %d lower-case hex characters", id, Length)
		}
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerator_FuncType(t *testing.T) {
	var g Generator = Generate
	id, err := g()
	if err != nil {
		t.Fatalf("Generator() error: %v", err)
	}
	if len(id) != Length {
		t.Errorf("Generator() length = %d, want %d", len(id), Length)
	}
}
