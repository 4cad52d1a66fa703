// Package rng provides deterministic random streams for replicated
// simulations.
package rng

import (
	"math/rand/v2"

	"github.com/PennBBL/GAMM-Tutorial/ports"
)

// PCG derives an independent PCG stream per (name, seed, index). Streams
// do not depend on the order in which they are requested.
type PCG struct{}

var _ ports.RNGPort = PCG{}

// Stream returns the source for one replicate.
func (PCG) Stream(name string, seed uint64, index uint64) rand.Source {
	return rand.NewPCG(seed^uint64(hashString(name)), mix(index))
}

// New returns a generator for a single seeded stream.
func New(seed uint64) *rand.Rand {
	return rand.New(PCG{}.Stream("", seed, 0))
}

// mix spreads consecutive indices over the stream space (splitmix64).
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// hashString is djb2
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c)
	}
	return hash
}
