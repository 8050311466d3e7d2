// Package uuid provides ID generation helpers.
package uuid

import "github.com/google/uuid"

// Generator creates UUIDv7 record IDs. V7 keeps primary keys roughly
// time-ordered, which matters for the run_at index on the job queue.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7.
func (Generator) NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
