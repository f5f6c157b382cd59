package util

import "github.com/google/uuid"

// NewID generates a new unique identifier for runs and events.
func NewID() string { return uuid.NewString() }
