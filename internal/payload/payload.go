// Package payload produces the pseudo-random bytes written by the write phase.
package payload

import (
	"encoding/binary"
	mathrand "math/rand"
)

// Generator fills buffers from a process local, non-cryptographic rng.
// it is seeded once per session and is not safe for concurrent use.
type Generator struct {
	rng  *mathrand.Rand
	seed int64
}

// New creates a Generator seeded with seed
func New(seed int64) *Generator {
	return &Generator{
		rng:  mathrand.New(mathrand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the seed the generator was created with
func (g *Generator) Seed() int64 {
	return g.seed
}

// Fill overwrites buf with pseudo-random bytes
func (g *Generator) Fill(buf []byte) {
	// eight bytes per rng call
	i := 0
	for ; i+8 <= len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], g.rng.Uint64())
	}

	// tail shorter than a word
	if i < len(buf) {
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], g.rng.Uint64())
		copy(buf[i:], word[:])
	}
}
