package coldfile

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/grafana/tsdb-engine/codec"
	"github.com/grafana/tsdb-engine/labelset"
)

// rowGroupColumns is the decoded, in-memory shape of one row group before
// (or after) column compression.
type rowGroupColumns struct {
	timestamps []int64
	values     []float64
	seriesIDs  []uint64
	crc32s     []uint32
	canonical  []string // one canonical label string per row, for dictionary encoding
}

// encodedRowGroup is a row group's on-disk representation: one
// zstd-compressed blob per column.
type encodedRowGroup struct {
	stats        RowGroupStats
	timestampCol []byte
	valueCol     []byte
	seriesIDCol  []byte
	crc32Col     []byte
	tagsCol      []byte // dictionary-encoded + zstd-compressed canonical strings
}

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

func zstdCompress(b []byte) []byte {
	return zstdEncoder.EncodeAll(b, make([]byte, 0, len(b)))
}

func zstdDecompress(b []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(b, nil)
}

// buildRowGroup sorts rows by timestamp, encodes every column, and
// compresses them, returning the encoded row group and its statistics.
func buildRowGroup(rows []Row, codecCfg codec.Config) encodedRowGroup {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	cols := rowGroupColumns{
		timestamps: make([]int64, len(rows)),
		values:     make([]float64, len(rows)),
		seriesIDs:  make([]uint64, len(rows)),
		crc32s:     make([]uint32, len(rows)),
		canonical:  make([]string, len(rows)),
	}
	for i, r := range rows {
		cols.timestamps[i] = r.Timestamp
		cols.values[i] = r.Value
		cols.seriesIDs[i] = uint64(r.SeriesID)
		cols.crc32s[i] = r.LabelsCRC32
		cols.canonical[i] = r.Labels.Canonical()
	}

	tsRaw := codec.EncodeTimestampsDeltaOfDelta(cols.timestamps)
	valEnc := codec.EncodeValues(cols.values, codecCfg)

	var sidBuf, crcBuf bytes.Buffer
	for _, sid := range cols.seriesIDs {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], sid)
		sidBuf.Write(b[:])
	}
	for _, c := range cols.crc32s {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], c)
		crcBuf.Write(b[:])
	}

	dict := codec.BuildDictionary(cols.canonical)
	tagsRaw := dict.Encode()

	valHeader := append([]byte{byte(valEnc.Algorithm)}, encodeUint32(uint32(valEnc.Count))...)
	valBlob := append(valHeader, valEnc.Data...)

	eg := encodedRowGroup{
		timestampCol: zstdCompress(tsRaw),
		valueCol:     zstdCompress(valBlob),
		seriesIDCol:  zstdCompress(sidBuf.Bytes()),
		crc32Col:     zstdCompress(crcBuf.Bytes()),
		tagsCol:      zstdCompress(tagsRaw),
	}

	minTS, maxTS := cols.timestamps[0], cols.timestamps[0]
	for _, ts := range cols.timestamps {
		if ts < minTS {
			minTS = ts
		}
		if ts > maxTS {
			maxTS = ts
		}
	}
	eg.stats = RowGroupStats{
		MinTS:   minTS,
		MaxTS:   maxTS,
		NumRows: len(rows),
		TotalByteSize: int64(len(eg.timestampCol) + len(eg.valueCol) + len(eg.seriesIDCol) +
			len(eg.crc32Col) + len(eg.tagsCol)),
	}
	return eg
}

// decodeRowGroup reverses buildRowGroup, given the stats' row count.
func decodeRowGroup(eg encodedRowGroup) ([]Row, error) {
	tsRaw, err := zstdDecompress(eg.timestampCol)
	if err != nil {
		return nil, err
	}
	valBlob, err := zstdDecompress(eg.valueCol)
	if err != nil {
		return nil, err
	}
	sidRaw, err := zstdDecompress(eg.seriesIDCol)
	if err != nil {
		return nil, err
	}
	crcRaw, err := zstdDecompress(eg.crc32Col)
	if err != nil {
		return nil, err
	}
	tagsRaw, err := zstdDecompress(eg.tagsCol)
	if err != nil {
		return nil, err
	}

	count := eg.stats.NumRows
	timestamps := codec.DecodeTimestampsDeltaOfDelta(tsRaw, count)

	algo := codec.ValueAlgorithm(valBlob[0])
	valCount := decodeUint32(valBlob[1:5])
	values := codec.DecodeValues(codec.EncodedValues{Algorithm: algo, Data: valBlob[5:], Count: int(valCount)})

	dict := codec.DecodeDictionaryColumn(tagsRaw)
	canonicals := dict.Values()

	rows := make([]Row, count)
	for i := 0; i < count; i++ {
		sid := binary.BigEndian.Uint64(sidRaw[i*8 : i*8+8])
		crc := binary.BigEndian.Uint32(crcRaw[i*4 : i*4+4])
		rows[i] = Row{
			Timestamp:   timestamps[i],
			Value:       values[i],
			SeriesID:    labelset.SeriesID(sid),
			LabelsCRC32: crc,
			Labels:      parseCanonicalTags(canonicals[i]),
		}
	}
	return rows, nil
}

// tagsOnly decodes just the dictionary-encoded labels column, used by the
// tag-pruning phase so it never pays for timestamp/value decoding.
func tagsOnly(eg encodedRowGroup) ([]labelset.Labels, error) {
	tagsRaw, err := zstdDecompress(eg.tagsCol)
	if err != nil {
		return nil, err
	}
	dict := codec.DecodeDictionaryColumn(tagsRaw)
	canonicals := dict.Values()
	out := make([]labelset.Labels, len(canonicals))
	for i, c := range canonicals {
		out[i] = parseCanonicalTags(c)
	}
	return out, nil
}

func parseCanonicalTags(s string) labelset.Labels {
	if s == "" {
		return nil
	}
	parts := bytes.Split([]byte(s), []byte(","))
	out := make(labelset.Labels, 0, len(parts))
	for _, p := range parts {
		kv := bytes.SplitN(p, []byte("="), 2)
		if len(kv) != 2 {
			continue
		}
		out = append(out, labelset.Label{Name: string(kv[0]), Value: string(kv[1])})
	}
	return out
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
