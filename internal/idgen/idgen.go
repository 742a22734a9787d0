// Package idgen generates identifiers for deployment records: a random
// UUID, with a human-friendly pet name as a fallback and as a display
// label alongside it.
package idgen

import (
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/hashicorp/go-uuid"
)

// NewDeploymentID returns a random UUID identifying one orchestrator run.
func NewDeploymentID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// GenerateUUID only fails if crypto/rand is broken; fall back to a
		// pet name rather than propagate an error from an id generator.
		return NewPetName()
	}
	return id
}

// NewPetName returns a random two-word pet name (e.g. "perfect-bee"), useful
// as a friendly label alongside a deployment's UUID.
func NewPetName() string {
	petname.NonDeterministicMode()
	return petname.Generate(2, "-")
}
