// Package uuid generates BatchJob identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

var _ harvest.IDGenerator = Generator{}

// Generator creates UUIDv7 strings, which sort by creation time.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// CreatedAt extracts the embedded timestamp of a UUIDv7 job ID.
func CreatedAt(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse job id: %w", err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("job id %s is not a uuid7", id)
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
