// Package idgenerator allocates monotonically increasing uint32 identifiers,
// used by the transport layer to number secure channels. The zero value is
// never allocated, so callers may reserve 0 to mean "no channel".
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing uint32 IDs in a
// concurrency-safe manner. The starting value is set at construction and the
// first Next() returns startValue+1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator that will generate IDs starting from
// startValue+1. The generator is safe for concurrent use.
//
// Parameters:
//   - startValue: The value to initialize the counter to; the first Next()
//     returns startValue+1
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Next returns the next unique ID by atomically incrementing the internal
// counter. It is safe for concurrent use by multiple goroutines.
//
// Returns:
//   - The next uint32 ID
func (g *IdGenerator) Next() uint32 {
	return g.id.Add(1)
}
