// Package system provides the wall clock used to stamp runs and fetches.
package system

import "time"

// Clock implements tender.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
