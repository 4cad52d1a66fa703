package ports

import "math/rand/v2"

// RNGPort provides deterministic random streams. The same name, seed and
// index always yield the same sequence, so replicates can run on any
// number of workers.
type RNGPort interface {
	Stream(name string, seed uint64, index uint64) rand.Source
}
