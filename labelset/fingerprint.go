package labelset

import (
	"hash/crc32"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// SeriesID is a 64-bit hash of a series' canonical label string. It is
// stable across processes and platforms for a given canonical string, but
// is explicitly NOT assumed unique: every posting-list hit is re-verified
// against the candidate's full Labels before being trusted (see
// index.Index.Query and coldfile's secondary-index lookup).
type SeriesID uint64

// seriesIDHasher is the pluggable hash function behind SeriesIDFromLabels.
// It defaults to xxhash but can be swapped out by SetHasherForTests to
// force deterministic collisions so the engine's collision-defense paths
// can be exercised without waiting on a real hash collision.
var seriesIDHasher atomic.Value // func(string) SeriesID

func init() {
	seriesIDHasher.Store(hasherFunc(defaultHasher))
}

type hasherFunc func(string) SeriesID

func defaultHasher(canonical string) SeriesID {
	return SeriesID(xxhash.Sum64String(canonical))
}

// SeriesIDFromLabels derives the SeriesID for a label set. Equivalent to
// SeriesIDFromCanonical(labels.Canonical()).
func SeriesIDFromLabels(ls Labels) SeriesID {
	return SeriesIDFromCanonical(ls.Canonical())
}

// SeriesIDFromCanonical hashes an already-canonicalized label string.
func SeriesIDFromCanonical(canonical string) SeriesID {
	fn := seriesIDHasher.Load().(hasherFunc)
	return fn(canonical)
}

// LabelsCRC32 returns the IEEE CRC32 of the canonical label string. It is
// stored alongside samples in cold files (the labels_crc32 column) as a
// cheap secondary check distinct from the SeriesID hash.
func LabelsCRC32(canonical string) uint32 {
	return crc32.ChecksumIEEE([]byte(canonical))
}

// SetHasherForTests replaces the SeriesID hash function. It exists solely
// so tests can force SeriesID collisions between distinct label sets and
// assert the engine's collision-defense behavior (spec §8 property 6).
// Not for production use.
func SetHasherForTests(fn func(canonical string) SeriesID) {
	seriesIDHasher.Store(hasherFunc(fn))
}

// ResetHasherForTests restores the default xxhash-based hasher.
func ResetHasherForTests() {
	seriesIDHasher.Store(hasherFunc(defaultHasher))
}
