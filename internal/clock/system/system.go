// Package system provides a real clock implementation.
package system

import "time"

// Clock implements bulletin.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Record timestamps are taken from it in epoch milliseconds.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
