package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/tsdb-engine/codec"
	"github.com/grafana/tsdb-engine/labelset"
)

func TestAppendReadBeforeSeal(t *testing.T) {
	b := New(codec.DefaultConfig())
	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	sid := labelset.SeriesIDFromLabels(ls)

	require.NoError(t, b.Append(sid, ls, labelset.Sample{Timestamp: 1000, Value: 1.0}))
	require.NoError(t, b.Append(sid, ls, labelset.Sample{Timestamp: 2000, Value: 2.0}))

	out := b.Read(sid)
	require.True(t, ls.Equal(out.Labels))
	require.Len(t, out.Samples, 2)
	require.Equal(t, int64(1000), out.Samples[0].Timestamp)
	require.Equal(t, 2.0, out.Samples[1].Value)
}

func TestSealMakesBlockImmutable(t *testing.T) {
	b := New(codec.DefaultConfig())
	ls := labelset.FromMap(map[string]string{"__name__": "cpu"})
	sid := labelset.SeriesIDFromLabels(ls)
	require.NoError(t, b.Append(sid, ls, labelset.Sample{Timestamp: 1000, Value: 1.0}))

	require.NoError(t, b.Seal())
	require.True(t, b.IsSealed())

	err := b.Append(sid, ls, labelset.Sample{Timestamp: 2000, Value: 2.0})
	require.ErrorIs(t, err, ErrAlreadySealed)

	out := b.Read(sid)
	require.Len(t, out.Samples, 1, "post-seal reads must still return pre-seal data")
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	b := New(codec.DefaultConfig())
	ls := labelset.FromMap(map[string]string{"__name__": "cpu", "host": "h1"})
	sid := labelset.SeriesIDFromLabels(ls)
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Append(sid, ls, labelset.Sample{Timestamp: int64(1000 + i*1000), Value: float64(i)}))
	}
	require.NoError(t, b.Seal())

	buf, err := b.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(buf, codec.DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, b.ID(), restored.ID())

	out := restored.Read(sid)
	require.Len(t, out.Samples, 50)
	require.Equal(t, int64(1000), out.Samples[0].Timestamp)
	require.Equal(t, float64(49), out.Samples[49].Value)
}

func TestSerializeBeforeSealFails(t *testing.T) {
	b := New(codec.DefaultConfig())
	_, err := b.Serialize()
	require.ErrorIs(t, err, ErrNotSealed)
}

func TestDeserializeRejectsCorruptData(t *testing.T) {
	b := New(codec.DefaultConfig())
	ls := labelset.FromMap(map[string]string{"__name__": "cpu"})
	sid := labelset.SeriesIDFromLabels(ls)
	require.NoError(t, b.Append(sid, ls, labelset.Sample{Timestamp: 1000, Value: 1.0}))
	require.NoError(t, b.Seal())

	buf, err := b.Serialize()
	require.NoError(t, err)

	corrupt := append([]byte{}, buf...)
	corrupt[len(corrupt)-1] ^= 0xff
	_, err = Deserialize(corrupt, codec.DefaultConfig())
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestQueryClipsToTimeRange(t *testing.T) {
	b := New(codec.DefaultConfig())
	ls := labelset.FromMap(map[string]string{"__name__": "cpu"})
	sid := labelset.SeriesIDFromLabels(ls)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Append(sid, ls, labelset.Sample{Timestamp: int64(i * 1000), Value: float64(i)}))
	}

	matchers := []labelset.LabelMatcher{{Type: labelset.Equal, Name: "__name__", Value: "cpu"}}
	require.NoError(t, labelset.CompileAll(matchers))

	out := b.Query(matchers, 2000, 5000)
	require.Len(t, out, 1)
	require.Len(t, out[0].Samples, 4) // ts 2000,3000,4000,5000
}

func TestRotationCASOnlyOneWinner(t *testing.T) {
	b := New(codec.DefaultConfig())
	first := b.TryBeginRotation()
	second := b.TryBeginRotation()
	require.True(t, first)
	require.False(t, second, "only one concurrent rotation attempt may win")
}
