// Package ids generates opaque unique identifiers for executions and
// lifecycle events.
package ids

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random hex identifier with no ordering guarantees.
func New() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
