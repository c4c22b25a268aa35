package core

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall-clock timestamps. Injected so tests can run with
// deterministic time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// IDGenerator produces unique identifiers for sessions, arguments,
// evidence and appeals. Injected so tests can supply deterministic ids.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.New().String() }

// NewUUIDGenerator returns the default UUID-backed id generator.
func NewUUIDGenerator() IDGenerator { return uuidGenerator{} }
