package idgen

import "github.com/google/uuid"

// Generator creates opaque identifiers for sessions, changes, versions and events.
type Generator interface {
	New() string
}

// UUID generates random (v4) identifiers with a fixed prefix.
type UUID struct {
	Prefix string
}

func (g UUID) New() string {
	return g.Prefix + uuid.NewString()
}

// Default is the generator used when none is injected.
var Default Generator = UUID{Prefix: "collab_"}
