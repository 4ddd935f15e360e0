package codec

import "encoding/binary"

// DictionaryColumn is the dictionary-encoded representation of a repeated
// string column (label names/values in the cold-tier file): a small table
// of distinct strings plus one index per row. Label cardinality within a
// single row group is typically tiny relative to row count, so this is
// usually an order of magnitude smaller than storing the string per row.
type DictionaryColumn struct {
	Dict    []string
	Indices []uint32
}

// BuildDictionary scans values once, assigning each distinct string the
// index of its first occurrence.
func BuildDictionary(values []string) DictionaryColumn {
	idx := make(map[string]uint32, len(values))
	col := DictionaryColumn{Indices: make([]uint32, len(values))}
	for i, v := range values {
		id, ok := idx[v]
		if !ok {
			id = uint32(len(col.Dict))
			idx[v] = id
			col.Dict = append(col.Dict, v)
		}
		col.Indices[i] = id
	}
	return col
}

// Values reconstructs the original string column from the dictionary.
func (c DictionaryColumn) Values() []string {
	out := make([]string, len(c.Indices))
	for i, id := range c.Indices {
		out[i] = c.Dict[id]
	}
	return out
}

// Encode serializes the dictionary as: varint dict size, then each entry
// as (varint length, bytes); varint row count, then one varint index per
// row.
func (c DictionaryColumn) Encode() []byte {
	buf := make([]byte, 0, 64)
	scratch := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(scratch, uint64(len(c.Dict)))
	buf = append(buf, scratch[:n]...)
	for _, s := range c.Dict {
		n = binary.PutUvarint(scratch, uint64(len(s)))
		buf = append(buf, scratch[:n]...)
		buf = append(buf, s...)
	}

	n = binary.PutUvarint(scratch, uint64(len(c.Indices)))
	buf = append(buf, scratch[:n]...)
	for _, id := range c.Indices {
		n = binary.PutUvarint(scratch, uint64(id))
		buf = append(buf, scratch[:n]...)
	}
	return buf
}

// DecodeDictionaryColumn reverses Encode.
func DecodeDictionaryColumn(buf []byte) DictionaryColumn {
	pos := 0
	dictLen, n := binary.Uvarint(buf[pos:])
	pos += n

	dict := make([]string, dictLen)
	for i := range dict {
		strLen, n := binary.Uvarint(buf[pos:])
		pos += n
		dict[i] = string(buf[pos : pos+int(strLen)])
		pos += int(strLen)
	}

	rowCount, n := binary.Uvarint(buf[pos:])
	pos += n
	indices := make([]uint32, rowCount)
	for i := range indices {
		id, n := binary.Uvarint(buf[pos:])
		pos += n
		indices[i] = uint32(id)
	}

	return DictionaryColumn{Dict: dict, Indices: indices}
}
