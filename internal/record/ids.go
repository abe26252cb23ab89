package record

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PhantomPrefix starts every temporary id handed to a phantom record.
const PhantomPrefix = "phantom:"

// IDGenerator produces temporary ids for phantom records.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable temporary ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns "phantom:" followed by a hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return PhantomPrefix + uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns phantom:1, phantom:2, ... for tests and
// golden traces.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu sync.Mutex
	n  int
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", PhantomPrefix, g.n)
}

// IsTemporaryID reports whether id was handed out by an IDGenerator.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, PhantomPrefix)
}

// SameEntryID compares two server identities. Entry ids are opaque;
// they match only when byte-for-byte equal and non-empty.
func SameEntryID(a, b string) bool {
	return a != "" && a == b
}
