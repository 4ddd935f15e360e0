package coldfile

import (
	"bufio"
	"fmt"
	"os"

	"github.com/willf/bloom"

	"github.com/grafana/tsdb-engine/labelset"
)

// DefaultNDV and DefaultFPP match spec §6's bloom.ndv/bloom.fpp defaults.
const (
	DefaultNDV uint32  = 100000
	DefaultFPP float64 = 0.01
)

// BloomFilter wraps willf/bloom.BloomFilter with the SeriesID-specific
// Add/MightContain surface the rest of the package uses, and sidecar
// persistence.
type BloomFilter struct {
	filter *bloom.BloomFilter
}

func newBloomFilter(ndv uint32, fpp float64) *BloomFilter {
	if ndv == 0 {
		ndv = DefaultNDV
	}
	if fpp <= 0 {
		fpp = DefaultFPP
	}
	return &BloomFilter{filter: bloom.NewWithEstimates(uint(ndv), fpp)}
}

func (b *BloomFilter) Add(sid labelset.SeriesID) {
	var key [8]byte
	putUint64(key[:], uint64(sid))
	b.filter.Add(key[:])
}

// MightContain is the Phase 0 check: false means sid is definitely absent;
// true means it might be present and Phase 1 must confirm.
func (b *BloomFilter) MightContain(sid labelset.SeriesID) bool {
	var key [8]byte
	putUint64(key[:], uint64(sid))
	return b.filter.Test(key[:])
}

func (b *BloomFilter) save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := b.filter.WriteTo(w); err != nil {
		return err
	}
	return w.Flush()
}

// loadBloomFilter reads the sidecar written by BloomFilter.save.
func loadBloomFilter(path string) (*BloomFilter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("coldfile: open bloom sidecar: %w", err)
	}
	defer f.Close()

	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("coldfile: decode bloom sidecar: %w", err)
	}
	return &BloomFilter{filter: bf}, nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(8*(7-i)))
	}
}
