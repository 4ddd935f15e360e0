package coldfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/grafana/tsdb-engine/labelset"
)

// Reader opens an immutable cold file for querying. It does not eagerly
// decode row groups; ReadRowGroup and ReadRowGroupTags decode on demand.
type Reader struct {
	path   string
	footer Footer
	body   []byte // everything before the footer
}

// Open reads path's footer and validates its magic/version. It does not
// load the bloom filter or secondary index sidecars; callers that need
// them call OpenBloom/OpenSecondaryIndex (typically once, into a
// process-wide cache keyed by path, per spec §4.J).
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coldfile: open %s: %w", path, err)
	}
	if len(data) < 10 {
		return nil, fmt.Errorf("coldfile: %s too short", path)
	}

	tail := data[len(data)-10:]
	var version uint16
	var magic uint32
	r := bytes.NewReader(tail)
	var footerLen uint32
	binary.Read(r, binary.BigEndian, &footerLen)
	binary.Read(r, binary.BigEndian, &version)
	binary.Read(r, binary.BigEndian, &magic)
	if magic != fileMagic {
		return nil, fmt.Errorf("coldfile: %s bad magic %x", path, magic)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("coldfile: %s unsupported version %d", path, version)
	}

	footerStart := len(data) - 10 - int(footerLen)
	if footerStart < 0 {
		return nil, fmt.Errorf("coldfile: %s truncated footer", path)
	}
	footer, err := decodeFooter(data[footerStart : footerStart+int(footerLen)])
	if err != nil {
		return nil, fmt.Errorf("coldfile: %s decode footer: %w", path, err)
	}

	return &Reader{path: path, footer: footer, body: data[:footerStart]}, nil
}

// NumRowGroups returns the file's row group count.
func (r *Reader) NumRowGroups() int { return len(r.footer.RowGroups) }

// RowGroupStats returns row group i's persisted statistics without
// decoding any column data.
func (r *Reader) RowGroupStats(i int) RowGroupStats { return r.footer.RowGroups[i].Stats }

func (r *Reader) readEncoded(i int) (encodedRowGroup, error) {
	entry := r.footer.RowGroups[i]
	br := bytes.NewReader(r.body[entry.Offset:])
	return readEncodedRowGroup(br, entry.Stats)
}

// ReadRowGroup decodes row group i in full: timestamp, value, series_id,
// labels_crc32, and tags columns.
func (r *Reader) ReadRowGroup(i int) ([]Row, error) {
	eg, err := r.readEncoded(i)
	if err != nil {
		return nil, err
	}
	return decodeRowGroup(eg)
}

// ReadRowGroupTags decodes only row group i's tags column, letting
// predicate pushdown test tags without decompressing or decoding the
// timestamp and value columns. It saves no I/O: Open has already read the
// whole file into memory.
func (r *Reader) ReadRowGroupTags(i int) ([]labelset.Labels, error) {
	eg, err := r.readEncoded(i)
	if err != nil {
		return nil, err
	}
	return tagsOnly(eg)
}

// OpenBloom loads this file's .bloom sidecar.
func (r *Reader) OpenBloom() (*BloomFilter, error) {
	return loadBloomFilter(r.path + ".bloom")
}

// OpenSecondaryIndex loads this file's .idx sidecar.
func (r *Reader) OpenSecondaryIndex() (*SecondaryIndex, error) {
	return loadSecondaryIndex(r.path + ".idx")
}
