package codec

import "encoding/binary"

// TimestampAlgorithm selects how a timestamp column is encoded.
type TimestampAlgorithm int

const (
	DeltaOfDelta TimestampAlgorithm = iota
	Gorilla                         // timestamps share the XOR-style bit-packed delta-of-delta scheme
)

// EncodeTimestampsDeltaOfDelta compresses a monotone (or near-monotone)
// i64 timestamp stream: the first value, the first delta, and every
// subsequent delta-of-delta are each stored as a zigzag varint.
// Runs of constant-interval timestamps (the overwhelmingly common case in
// a scrape-interval series) collapse to a single zero byte per sample.
func EncodeTimestampsDeltaOfDelta(ts []int64) []byte {
	buf := make([]byte, 0, len(ts)*2+16)
	scratch := make([]byte, binary.MaxVarintLen64)

	if len(ts) == 0 {
		return buf
	}

	n := binary.PutVarint(scratch, ts[0])
	buf = append(buf, scratch[:n]...)
	if len(ts) == 1 {
		return buf
	}

	prevDelta := ts[1] - ts[0]
	n = binary.PutVarint(scratch, prevDelta)
	buf = append(buf, scratch[:n]...)

	prev := ts[1]
	for i := 2; i < len(ts); i++ {
		delta := ts[i] - prev
		dod := delta - prevDelta
		n = binary.PutVarint(scratch, dod)
		buf = append(buf, scratch[:n]...)
		prevDelta = delta
		prev = ts[i]
	}
	return buf
}

// DecodeTimestampsDeltaOfDelta reverses EncodeTimestampsDeltaOfDelta,
// producing exactly count timestamps.
func DecodeTimestampsDeltaOfDelta(buf []byte, count int) []int64 {
	out := make([]int64, 0, count)
	if count == 0 {
		return out
	}

	pos := 0
	first, n := binary.Varint(buf[pos:])
	pos += n
	out = append(out, first)
	if count == 1 {
		return out
	}

	delta, n := binary.Varint(buf[pos:])
	pos += n
	prev := first + delta
	out = append(out, prev)

	prevDelta := delta
	for i := 2; i < count; i++ {
		dod, n := binary.Varint(buf[pos:])
		pos += n
		d := prevDelta + dod
		prev += d
		out = append(out, prev)
		prevDelta = d
	}
	return out
}
