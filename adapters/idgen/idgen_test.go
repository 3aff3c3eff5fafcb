package idgen_test

import (
	"regexp"
	"testing"

	"github.com/artpar/mcplaunch/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	id := idgen.UUID{}.New()

	// UUID v7 format: 8-4-4-4-12 hex chars, version nibble 7
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v7 format", id)
	}
}

func TestUUID_New_Unique(t *testing.T) {
	g := idgen.UUID{}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("launch_")

	for _, want := range []string{"launch_1", "launch_2", "launch_3"} {
		if got := g.New(); got != want {
			t.Errorf("New() = %s, want %s", got, want)
		}
	}
}
