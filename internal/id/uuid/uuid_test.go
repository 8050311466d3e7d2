// Package uuid includes tests for the ID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique, valid, and sortable.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1 := gen.NewID()
	id2 := gen.NewID()
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s twice", id1)
	}
	if id1.Version() != goUUID.Version(7) {
		t.Fatalf("expected UUIDv7, got version %d", id1.Version())
	}
}
