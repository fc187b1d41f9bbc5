// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

var _ harvest.Clock = Clock{}

// Clock implements harvest.Clock using time.Now, normalized to UTC.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
