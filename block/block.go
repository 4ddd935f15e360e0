// Package block implements the mutable and sealed in-process block: the
// per-block map of SeriesID to (timestamps, values) that absorbs writes
// between the WAL and the cold tier. A block starts Mutable, accepting
// uncompressed appends, and transitions once to Sealed, after which it is
// immutable and every series is stored as compressed byte columns.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/grafana/tsdb-engine/codec"
	"github.com/grafana/tsdb-engine/labelset"
)

const (
	magic   uint32 = 0x544b4253 // "TSBK"
	version uint16 = 1
)

var (
	// ErrAlreadySealed is returned by Append once the block has sealed.
	ErrAlreadySealed = errors.New("block: already sealed")
	// ErrNotSealed is returned by Serialize before the block has sealed.
	ErrNotSealed = errors.New("block: not yet sealed")
	// ErrCorrupt is returned by Deserialize on CRC or magic mismatch.
	ErrCorrupt = errors.New("block: corrupt data")
)

// Header is the fixed-size prologue of a serialized block.
type Header struct {
	Magic    uint32
	Version  uint16
	ID       uuid.UUID
	Flags    uint16
	CRC32    uint32
	StartTS  int64
	EndTS    int64
}

// mutableSeries is the uncompressed per-series buffer a Mutable block
// keeps while accepting writes.
type mutableSeries struct {
	labels     labelset.Labels
	timestamps []int64
	values     []float64
}

// sealedSeries is the compressed per-series representation a block holds
// after Seal.
type sealedSeries struct {
	labels      labelset.Labels
	count       int
	tsAlgorithm codec.TimestampAlgorithm
	tsData      []byte
	valAlgorithm codec.ValueAlgorithm
	valData     []byte
}

// Block holds one rotation epoch's worth of series data. The zero value is
// not usable; construct with New.
type Block struct {
	mu       sync.RWMutex
	id       uuid.UUID
	startTS  int64
	endTS    int64
	created  time.Time
	sealed   atomic.Bool
	rotating atomic.Bool

	mutable map[labelset.SeriesID]*mutableSeries
	sealedData map[labelset.SeriesID]*sealedSeries

	codecCfg codec.Config
	count    int
}

// New constructs an empty Mutable block.
func New(codecCfg codec.Config) *Block {
	return &Block{
		id:      uuid.New(),
		created: time.Now(),
		mutable: make(map[labelset.SeriesID]*mutableSeries),
		codecCfg: codecCfg,
	}
}

// ID returns the block's identifier, stable across seal/serialize.
func (b *Block) ID() uuid.UUID { return b.id }

// IsSealed reports whether Seal has completed.
func (b *Block) IsSealed() bool { return b.sealed.Load() }

// TimeRange returns the block's observed [start,end] timestamp span. Zero
// values indicate an empty block.
func (b *Block) TimeRange() (int64, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.startTS, b.endTS
}

// Count returns the number of samples appended to the block overall.
func (b *Block) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Age reports how long ago this block was created, for the rotation
// policy's wall-clock-age check.
func (b *Block) Age() time.Duration { return time.Since(b.created) }

// Append buffers one sample for sid uncompressed. It fails once the block
// has sealed; callers must rotate to a new block first.
func (b *Block) Append(sid labelset.SeriesID, labels labelset.Labels, sample labelset.Sample) error {
	if b.sealed.Load() {
		return ErrAlreadySealed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed.Load() {
		return ErrAlreadySealed
	}

	s, ok := b.mutable[sid]
	if !ok {
		s = &mutableSeries{labels: labels.Clone()}
		b.mutable[sid] = s
	}
	s.timestamps = append(s.timestamps, sample.Timestamp)
	s.values = append(s.values, sample.Value)

	b.updateTimeRangeLocked(sample.Timestamp)
	b.count++
	return nil
}

func (b *Block) updateTimeRangeLocked(ts int64) {
	if b.startTS == 0 && b.endTS == 0 && b.count == 0 {
		b.startTS, b.endTS = ts, ts
		return
	}
	if ts < b.startTS {
		b.startTS = ts
	}
	if ts > b.endTS {
		b.endTS = ts
	}
}

// TryBeginRotation performs the CAS described in spec §4.E's rotation
// policy: exactly one concurrent caller wins and is responsible for
// sealing this block and installing its replacement.
func (b *Block) TryBeginRotation() bool {
	return b.rotating.CompareAndSwap(false, true)
}

// Seal irreversibly compresses every series' buffers and frees the
// uncompressed copies. It is a no-op (returns nil) if already sealed.
func (b *Block) Seal() error {
	if b.sealed.Load() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed.Load() {
		return nil
	}

	sealedData := make(map[labelset.SeriesID]*sealedSeries, len(b.mutable))
	for sid, s := range b.mutable {
		enc := codec.EncodeValues(s.values, b.codecCfg)
		tsData := codec.EncodeTimestampsDeltaOfDelta(s.timestamps)
		sealedData[sid] = &sealedSeries{
			labels:       s.labels,
			count:        len(s.timestamps),
			tsAlgorithm:  codec.DeltaOfDelta,
			tsData:       tsData,
			valAlgorithm: enc.Algorithm,
			valData:      enc.Data,
		}
	}
	b.sealedData = sealedData
	b.mutable = nil
	b.sealed.Store(true)
	return nil
}

// Read returns the full TimeSeries for one SeriesID, or an empty
// TimeSeries if the block holds nothing for it.
func (b *Block) Read(sid labelset.SeriesID) labelset.TimeSeries {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.sealed.Load() {
		s, ok := b.mutable[sid]
		if !ok {
			return labelset.TimeSeries{}
		}
		return b.mutableToTimeSeries(s)
	}

	s, ok := b.sealedData[sid]
	if !ok {
		return labelset.TimeSeries{}
	}
	return b.sealedToTimeSeries(s)
}

func (b *Block) mutableToTimeSeries(s *mutableSeries) labelset.TimeSeries {
	samples := make([]labelset.Sample, len(s.timestamps))
	for i := range s.timestamps {
		samples[i] = labelset.Sample{Timestamp: s.timestamps[i], Value: s.values[i]}
	}
	return labelset.TimeSeries{Labels: s.labels.Clone(), Samples: samples}
}

func (b *Block) sealedToTimeSeries(s *sealedSeries) labelset.TimeSeries {
	timestamps := codec.DecodeTimestampsDeltaOfDelta(s.tsData, s.count)
	values := codec.DecodeValues(codec.EncodedValues{Algorithm: s.valAlgorithm, Data: s.valData, Count: s.count})
	samples := make([]labelset.Sample, s.count)
	for i := 0; i < s.count; i++ {
		samples[i] = labelset.Sample{Timestamp: timestamps[i], Value: values[i]}
	}
	return labelset.TimeSeries{Labels: s.labels.Clone(), Samples: samples}
}

// Query returns every series in the block matching every matcher, with
// samples clipped to [t0,t1].
func (b *Block) Query(matchers []labelset.LabelMatcher, t0, t1 int64) []labelset.TimeSeries {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []labelset.TimeSeries
	visit := func(sid labelset.SeriesID, full labelset.TimeSeries) {
		if !labelset.MatchesAll(full.Labels, matchers) {
			return
		}
		out = append(out, clip(full, t0, t1))
	}

	if !b.sealed.Load() {
		for sid, s := range b.mutable {
			visit(sid, b.mutableToTimeSeries(s))
		}
	} else {
		for sid, s := range b.sealedData {
			visit(sid, b.sealedToTimeSeries(s))
		}
	}
	return out
}

func clip(ts labelset.TimeSeries, t0, t1 int64) labelset.TimeSeries {
	out := labelset.TimeSeries{Labels: ts.Labels}
	for _, s := range ts.Samples {
		if s.Timestamp >= t0 && s.Timestamp <= t1 {
			out.Samples = append(out.Samples, s)
		}
	}
	return out
}

// Serialize encodes the sealed block's header and every series column
// into a single byte slice, CRC32-covering the compressed payload.
func (b *Block) Serialize() ([]byte, error) {
	if !b.sealed.Load() {
		return nil, ErrNotSealed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var payload bytes.Buffer
	scratch := make([]byte, 8)

	binary.BigEndian.PutUint32(scratch[:4], uint32(len(b.sealedData)))
	payload.Write(scratch[:4])

	for sid, s := range b.sealedData {
		binary.BigEndian.PutUint64(scratch, uint64(sid))
		payload.Write(scratch)

		writeLabels(&payload, s.labels)

		binary.BigEndian.PutUint32(scratch[:4], uint32(s.count))
		payload.Write(scratch[:4])

		payload.WriteByte(byte(s.tsAlgorithm))
		writeUvarintBytes(&payload, s.tsData)

		payload.WriteByte(byte(s.valAlgorithm))
		writeUvarintBytes(&payload, s.valData)
	}

	payloadBytes := payload.Bytes()
	crc := crc32.ChecksumIEEE(payloadBytes)

	hdr := Header{
		Magic:   magic,
		Version: version,
		ID:      b.id,
		CRC32:   crc,
		StartTS: b.startTS,
		EndTS:   b.endTS,
	}

	out := bytes.NewBuffer(make([]byte, 0, 32+len(payloadBytes)))
	binary.Write(out, binary.BigEndian, hdr.Magic)
	binary.Write(out, binary.BigEndian, hdr.Version)
	out.Write(hdr.ID[:])
	binary.Write(out, binary.BigEndian, hdr.Flags)
	binary.Write(out, binary.BigEndian, hdr.CRC32)
	binary.Write(out, binary.BigEndian, hdr.StartTS)
	binary.Write(out, binary.BigEndian, hdr.EndTS)
	out.Write(payloadBytes)

	return out.Bytes(), nil
}

// Deserialize re-materializes a sealed block previously produced by
// Serialize, validating magic and CRC32 before trusting the payload. The
// version field is read but not checked.
func Deserialize(buf []byte, codecCfg codec.Config) (*Block, error) {
	if len(buf) < 4+2+16+2+4+8+8 {
		return nil, ErrCorrupt
	}
	r := bytes.NewReader(buf)

	var hdr Header
	binary.Read(r, binary.BigEndian, &hdr.Magic)
	binary.Read(r, binary.BigEndian, &hdr.Version)
	idBytes := make([]byte, 16)
	r.Read(idBytes)
	copy(hdr.ID[:], idBytes)
	binary.Read(r, binary.BigEndian, &hdr.Flags)
	binary.Read(r, binary.BigEndian, &hdr.CRC32)
	binary.Read(r, binary.BigEndian, &hdr.StartTS)
	binary.Read(r, binary.BigEndian, &hdr.EndTS)

	if hdr.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	payload := buf[len(buf)-r.Len():]
	if crc32.ChecksumIEEE(payload) != hdr.CRC32 {
		return nil, fmt.Errorf("%w: crc mismatch", ErrCorrupt)
	}

	b := &Block{
		id:         hdr.ID,
		startTS:    hdr.StartTS,
		endTS:      hdr.EndTS,
		created:    time.Now(),
		sealedData: make(map[labelset.SeriesID]*sealedSeries),
		codecCfg:   codecCfg,
	}
	b.sealed.Store(true)

	pr := bytes.NewReader(payload)
	var numSeries uint32
	binary.Read(pr, binary.BigEndian, &numSeries)

	for i := uint32(0); i < numSeries; i++ {
		var sidRaw uint64
		binary.Read(pr, binary.BigEndian, &sidRaw)
		sid := labelset.SeriesID(sidRaw)

		labels, err := readLabels(pr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		var count uint32
		binary.Read(pr, binary.BigEndian, &count)

		tsAlgoByte, _ := pr.ReadByte()
		tsData, err := readUvarintBytes(pr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		valAlgoByte, _ := pr.ReadByte()
		valData, err := readUvarintBytes(pr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		b.sealedData[sid] = &sealedSeries{
			labels:       labels,
			count:        int(count),
			tsAlgorithm:  codec.TimestampAlgorithm(tsAlgoByte),
			tsData:       tsData,
			valAlgorithm: codec.ValueAlgorithm(valAlgoByte),
			valData:      valData,
		}
		b.count += int(count)
	}
	return b, nil
}

func writeUvarintBytes(buf *bytes.Buffer, data []byte) {
	scratch := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(scratch, uint64(len(data)))
	buf.Write(scratch[:n])
	buf.Write(data)
}

func writeLabels(buf *bytes.Buffer, ls labelset.Labels) {
	scratch := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(scratch, uint64(len(ls)))
	buf.Write(scratch[:n])
	for _, l := range ls {
		writeUvarintBytes(buf, []byte(l.Name))
		writeUvarintBytes(buf, []byte(l.Value))
	}
}

func readLabels(r *bytes.Reader) (labelset.Labels, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make(labelset.Labels, n)
	for i := range out {
		name, err := readUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		value, err := readUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		out[i] = labelset.Label{Name: string(name), Value: string(value)}
	}
	return out, nil
}

func readUvarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := r.Read(out); err != nil && n > 0 {
		return nil, err
	}
	return out, nil
}

