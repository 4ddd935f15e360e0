package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/golang/snappy"

	"github.com/grafana/tsdb-engine/labelset"
)

// encodeRecord serializes one TimeSeries into the WAL's on-disk record
// format: [4-byte big-endian length][4-byte CRC32][snappy-compressed
// payload]. The length prefix covers everything after itself.
func encodeRecord(ts labelset.TimeSeries) []byte {
	var payload bytes.Buffer
	scratch := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(scratch, uint64(len(ts.Labels)))
	payload.Write(scratch[:n])
	for _, l := range ts.Labels {
		writeUvarintBytes(&payload, scratch, []byte(l.Name))
		writeUvarintBytes(&payload, scratch, []byte(l.Value))
	}

	n = binary.PutUvarint(scratch, uint64(len(ts.Samples)))
	payload.Write(scratch[:n])
	for _, s := range ts.Samples {
		var b [16]byte
		binary.BigEndian.PutUint64(b[0:8], uint64(s.Timestamp))
		binary.BigEndian.PutUint64(b[8:16], math.Float64bits(s.Value))
		payload.Write(b[:])
	}

	compressed := snappy.Encode(nil, payload.Bytes())
	crc := crc32.ChecksumIEEE(compressed)

	out := make([]byte, 4+4+len(compressed))
	binary.BigEndian.PutUint32(out[0:4], uint32(4+len(compressed)))
	binary.BigEndian.PutUint32(out[4:8], crc)
	copy(out[8:], compressed)
	return out
}

// decodeRecord reverses encodeRecord's payload; crc is already verified by
// the caller, which owns segment-level framing.
func decodeRecord(compressed []byte) (labelset.TimeSeries, error) {
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return labelset.TimeSeries{}, fmt.Errorf("wal: snappy decode: %w", err)
	}
	r := bytes.NewReader(payload)

	numLabels, err := binary.ReadUvarint(r)
	if err != nil {
		return labelset.TimeSeries{}, err
	}
	labels := make(labelset.Labels, numLabels)
	for i := range labels {
		name, err := readUvarintBytes(r)
		if err != nil {
			return labelset.TimeSeries{}, err
		}
		value, err := readUvarintBytes(r)
		if err != nil {
			return labelset.TimeSeries{}, err
		}
		labels[i] = labelset.Label{Name: string(name), Value: string(value)}
	}

	numSamples, err := binary.ReadUvarint(r)
	if err != nil {
		return labelset.TimeSeries{}, err
	}
	samples := make([]labelset.Sample, numSamples)
	for i := range samples {
		var b [16]byte
		if _, err := r.Read(b[:]); err != nil {
			return labelset.TimeSeries{}, err
		}
		ts := int64(binary.BigEndian.Uint64(b[0:8]))
		val := math.Float64frombits(binary.BigEndian.Uint64(b[8:16]))
		samples[i] = labelset.Sample{Timestamp: ts, Value: val}
	}

	return labelset.TimeSeries{Labels: labels, Samples: samples}, nil
}

func writeUvarintBytes(buf *bytes.Buffer, scratch []byte, data []byte) {
	n := binary.PutUvarint(scratch, uint64(len(data)))
	buf.Write(scratch[:n])
	buf.Write(data)
}

func readUvarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
