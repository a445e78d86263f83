// Package id provides ULID-based request identifiers.
//
// ULIDs are lexicographically sortable and carry their timestamp, which
// makes request IDs in logs orderable without extra fields. The req_
// prefix keeps them recognizable in mixed log streams.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID identifies one inbound request across logs and trace spans.
type RequestID string

func (id RequestID) String() string { return string(id) }

const requestPrefix = "req_"

// Generator generates ULIDs from a guarded entropy source.
type Generator struct {
	entropy io.Reader
	mu      sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = &Generator{entropy: rand.Reader}
	})
	return defaultGenerator
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// NewRequestID generates a prefixed request identifier.
func NewRequestID() RequestID {
	return RequestID(requestPrefix + Default().Generate().String())
}

// Timestamp extracts the creation time from a request ID.
func Timestamp(id RequestID) (time.Time, error) {
	parsed, err := ulid.Parse(strings.TrimPrefix(string(id), requestPrefix))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
