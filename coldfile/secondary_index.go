package coldfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

const (
	idxMagic   uint32 = 0x54534458 // "TSDX"
	idxVersion uint16 = 1
)

// SecondaryIndex maps SeriesID to the RowLocations where its samples live
// within one cold file (spec §4.K). A series may span multiple row
// groups, so lookups return a slice.
type SecondaryIndex struct {
	mu   sync.RWMutex
	locs map[uint64][]RowLocation
}

// NewSecondaryIndex returns an empty index, built incrementally by the
// writer or populated wholesale by loadSecondaryIndex.
func NewSecondaryIndex() *SecondaryIndex {
	return &SecondaryIndex{locs: make(map[uint64][]RowLocation)}
}

func (si *SecondaryIndex) add(sidRaw uint64, loc RowLocation) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.locs[sidRaw] = append(si.locs[sidRaw], loc)
}

// Lookup returns every RowLocation recorded for sid.
func (si *SecondaryIndex) Lookup(sidRaw uint64) []RowLocation {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return append([]RowLocation(nil), si.locs[sidRaw]...)
}

// LookupInTimeRange restricts Lookup to locations whose [MinTS,MaxTS]
// overlaps [t0,t1] — the series' bounds within that one row group, never
// the series' file-wide bounds (spec §4.K's pinned regression).
func (si *SecondaryIndex) LookupInTimeRange(sidRaw uint64, t0, t1 int64) []RowLocation {
	all := si.Lookup(sidRaw)
	out := make([]RowLocation, 0, len(all))
	for _, loc := range all {
		if loc.MaxTS < t0 || loc.MinTS > t1 {
			continue
		}
		out = append(out, loc)
	}
	return out
}

func (si *SecondaryIndex) save(path string) error {
	si.mu.RLock()
	defer si.mu.RUnlock()

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, idxMagic)
	binary.Write(&buf, binary.BigEndian, idxVersion)
	binary.Write(&buf, binary.BigEndian, uint32(len(si.locs)))

	for sidRaw, locList := range si.locs {
		binary.Write(&buf, binary.BigEndian, sidRaw)
		binary.Write(&buf, binary.BigEndian, uint32(len(locList)))
		for _, loc := range locList {
			binary.Write(&buf, binary.BigEndian, loc.RowGroupID)
			binary.Write(&buf, binary.BigEndian, loc.RowOffset)
			binary.Write(&buf, binary.BigEndian, loc.MinTS)
			binary.Write(&buf, binary.BigEndian, loc.MaxTS)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// loadSecondaryIndex reads the sidecar written by SecondaryIndex.save,
// validating the TSDX magic and version.
func loadSecondaryIndex(path string) (*SecondaryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coldfile: read index sidecar: %w", err)
	}
	r := bytes.NewReader(data)

	var magic uint32
	var version uint16
	binary.Read(r, binary.BigEndian, &magic)
	binary.Read(r, binary.BigEndian, &version)
	if magic != idxMagic {
		return nil, fmt.Errorf("coldfile: bad idx magic %x", magic)
	}
	if version != idxVersion {
		return nil, fmt.Errorf("coldfile: unsupported idx version %d", version)
	}

	var count uint32
	binary.Read(r, binary.BigEndian, &count)

	si := NewSecondaryIndex()
	for i := uint32(0); i < count; i++ {
		var sidRaw uint64
		binary.Read(r, binary.BigEndian, &sidRaw)
		var numLocs uint32
		binary.Read(r, binary.BigEndian, &numLocs)
		locs := make([]RowLocation, numLocs)
		for j := range locs {
			binary.Read(r, binary.BigEndian, &locs[j].RowGroupID)
			binary.Read(r, binary.BigEndian, &locs[j].RowOffset)
			binary.Read(r, binary.BigEndian, &locs[j].MinTS)
			binary.Read(r, binary.BigEndian, &locs[j].MaxTS)
		}
		si.locs[sidRaw] = locs
	}
	return si, nil
}
