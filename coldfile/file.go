package coldfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/grafana/tsdb-engine/codec"
)

const (
	fileMagic   uint32 = 0x54534346 // "TSCF"
	fileVersion uint16 = 1

	// DefaultRowGroupBytes bounds a row group's estimated pre-compression
	// size (24 bytes per row) before the writer starts a new one (spec
	// §4.I default: 64 MiB).
	DefaultRowGroupBytes = 64 << 20
)

// Footer is the file trailer: one entry per row group plus where its
// columns start in the file.
type Footer struct {
	FileID     uuid.UUID
	RowGroups  []footerEntry
}

type footerEntry struct {
	Offset int64
	Stats  RowGroupStats
}

// Writer accumulates rows into bounded row groups and produces a single
// immutable cold file plus the .bloom/.idx sidecars described by spec
// §6's persisted-state layout.
type Writer struct {
	path         string
	codecCfg     codec.Config
	rowGroupMax  int64
	pending      []Row
	pendingBytes int64

	fileID  uuid.UUID
	entries []footerEntry
	buf     bytes.Buffer

	bloom     *BloomFilter
	secondary *SecondaryIndex
}

// NewWriter creates a Writer for a new cold file at path.
func NewWriter(path string, codecCfg codec.Config, ndv uint32, fpp float64) *Writer {
	return &Writer{
		path:        path,
		codecCfg:    codecCfg,
		rowGroupMax: DefaultRowGroupBytes,
		fileID:      uuid.New(),
		bloom:       newBloomFilter(ndv, fpp),
		secondary:   NewSecondaryIndex(),
	}
}

// Add buffers one RecordBatch's rows, flushing completed row groups as
// the byte-size bound is crossed.
func (w *Writer) Add(batch RecordBatch) {
	for _, r := range batch.Rows {
		w.pending = append(w.pending, r)
		w.pendingBytes += 24 // rough per-row estimate (ts+value+sid) before compression
		w.bloom.Add(r.SeriesID)
	}
	for w.pendingBytes >= w.rowGroupMax {
		w.flushRowGroup()
	}
}

func (w *Writer) flushRowGroup() {
	if len(w.pending) == 0 {
		return
	}
	eg := buildRowGroup(w.pending, w.codecCfg)
	offset := int64(w.buf.Len())
	writeEncodedRowGroup(&w.buf, eg)

	rgID := int32(len(w.entries))
	w.entries = append(w.entries, footerEntry{Offset: offset, Stats: eg.stats})

	bySeries := make(map[uint64][2]int64) // sid -> (min,max) within this row group
	for _, r := range w.pending {
		key := uint64(r.SeriesID)
		mm, ok := bySeries[key]
		if !ok {
			bySeries[key] = [2]int64{r.Timestamp, r.Timestamp}
			continue
		}
		if r.Timestamp < mm[0] {
			mm[0] = r.Timestamp
		}
		if r.Timestamp > mm[1] {
			mm[1] = r.Timestamp
		}
		bySeries[key] = mm
	}
	for sidRaw, mm := range bySeries {
		w.secondary.add(sidRaw, RowLocation{RowGroupID: rgID, MinTS: mm[0], MaxTS: mm[1]})
	}

	w.pending = w.pending[:0]
	w.pendingBytes = 0
}

// Close flushes any remaining buffered rows, writes the footer, and
// persists the .bloom and .idx sidecars alongside the main file.
func (w *Writer) Close() error {
	w.flushRowGroup()

	footer := Footer{FileID: w.fileID, RowGroups: w.entries}
	footerBytes := encodeFooter(footer)

	var out bytes.Buffer
	out.Write(w.buf.Bytes())
	out.Write(footerBytes)
	binary.Write(&out, binary.BigEndian, uint32(len(footerBytes)))
	binary.Write(&out, binary.BigEndian, fileVersion)
	binary.Write(&out, binary.BigEndian, fileMagic)

	if err := os.WriteFile(w.path, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("coldfile: write %s: %w", w.path, err)
	}
	if err := w.bloom.save(w.path + ".bloom"); err != nil {
		return fmt.Errorf("coldfile: write bloom sidecar: %w", err)
	}
	if err := w.secondary.save(w.path + ".idx"); err != nil {
		return fmt.Errorf("coldfile: write index sidecar: %w", err)
	}
	return nil
}

func writeEncodedRowGroup(buf *bytes.Buffer, eg encodedRowGroup) {
	writeBlob(buf, eg.timestampCol)
	writeBlob(buf, eg.valueCol)
	writeBlob(buf, eg.seriesIDCol)
	writeBlob(buf, eg.crc32Col)
	writeBlob(buf, eg.tagsCol)
}

func readEncodedRowGroup(r *bytes.Reader, stats RowGroupStats) (encodedRowGroup, error) {
	eg := encodedRowGroup{stats: stats}
	var err error
	if eg.timestampCol, err = readBlob(r); err != nil {
		return eg, err
	}
	if eg.valueCol, err = readBlob(r); err != nil {
		return eg, err
	}
	if eg.seriesIDCol, err = readBlob(r); err != nil {
		return eg, err
	}
	if eg.crc32Col, err = readBlob(r); err != nil {
		return eg, err
	}
	if eg.tagsCol, err = readBlob(r); err != nil {
		return eg, err
	}
	return eg, nil
}

func writeBlob(buf *bytes.Buffer, data []byte) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(data)))
	buf.Write(lenBytes[:])
	buf.Write(data)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var lenBytes [4]byte
	if _, err := r.Read(lenBytes[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBytes[:])
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeFooter(f Footer) []byte {
	var buf bytes.Buffer
	buf.Write(f.FileID[:])

	var countBytes [4]byte
	binary.BigEndian.PutUint32(countBytes[:], uint32(len(f.RowGroups)))
	buf.Write(countBytes[:])

	for _, e := range f.RowGroups {
		binary.Write(&buf, binary.BigEndian, e.Offset)
		binary.Write(&buf, binary.BigEndian, e.Stats.MinTS)
		binary.Write(&buf, binary.BigEndian, e.Stats.MaxTS)
		binary.Write(&buf, binary.BigEndian, int64(e.Stats.NumRows))
		binary.Write(&buf, binary.BigEndian, e.Stats.TotalByteSize)
	}
	return buf.Bytes()
}

func decodeFooter(b []byte) (Footer, error) {
	r := bytes.NewReader(b)
	var f Footer
	if _, err := r.Read(f.FileID[:]); err != nil {
		return f, err
	}

	var countBytes [4]byte
	if _, err := r.Read(countBytes[:]); err != nil {
		return f, err
	}
	count := binary.BigEndian.Uint32(countBytes[:])

	f.RowGroups = make([]footerEntry, count)
	for i := range f.RowGroups {
		var e footerEntry
		binary.Read(r, binary.BigEndian, &e.Offset)
		binary.Read(r, binary.BigEndian, &e.Stats.MinTS)
		binary.Read(r, binary.BigEndian, &e.Stats.MaxTS)
		var numRows int64
		binary.Read(r, binary.BigEndian, &numRows)
		e.Stats.NumRows = int(numRows)
		binary.Read(r, binary.BigEndian, &e.Stats.TotalByteSize)
		f.RowGroups[i] = e
	}
	return f, nil
}
