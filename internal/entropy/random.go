// Package entropy owns random number generation for the simulation.
// Every draw comes from an explicitly seeded source so that runs replay exactly.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	mrand "math/rand"
)

// Rand is the draw interface consumed by pricing and event selection.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// NewSource returns a deterministic generator for seed.
func NewSource(seed int64) *mrand.Rand {
	return mrand.New(mrand.NewSource(seed))
}

// Keyed returns a generator whose seed is derived from seed and the given parts.
// The same inputs always yield the same draw sequence.
func Keyed(seed int64, parts ...string) *mrand.Rand {
	return NewSource(Mix(seed, parts...))
}

// Mix folds string parts into a seed with FNV-1a.
func Mix(seed int64, parts ...string) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return int64(h.Sum64())
}

// SeedFromString derives a seed from an identifier such as a station id.
func SeedFromString(s string) int64 {
	return Mix(0, s)
}

// CryptoSeed returns a fresh non-deterministic seed for runs that do not pin one.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed.
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}

// Fixed is a Rand that always returns the same value. Useful to pin variance.
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }
