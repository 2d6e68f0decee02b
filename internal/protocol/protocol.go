// Package protocol produces the public-facing case identifier assigned at
// intake: the creation date followed by a five-digit disambiguator, e.g.
// 2024102412345. The value is human-decodable and unique within a day under
// normal load; true uniqueness is enforced by the store's unique index, and
// a collision surfaces there as a duplicate-protocol error.
package protocol

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Generator combines the clock with a monotonically increasing counter so
// repeated calls within the same instant still yield distinct protocols.
type Generator struct {
	seq atomic.Int64
}

// NewGenerator seeds the disambiguator from the millisecond clock so
// restarts do not replay a suffix sequence.
func NewGenerator() *Generator {
	g := &Generator{}
	g.seq.Store(time.Now().UnixMilli())
	return g
}

// NewGeneratorAt is NewGenerator with an explicit seed, for tests.
func NewGeneratorAt(seed int64) *Generator {
	g := &Generator{}
	g.seq.Store(seed)
	return g
}

// Generate returns a protocol for the given instant. It cannot fail; retry
// policy on collision belongs to the engine, not here.
func (g *Generator) Generate(now time.Time) string {
	return fmt.Sprintf("%s%05d", now.UTC().Format("20060102"), g.seq.Add(1)%100000)
}
