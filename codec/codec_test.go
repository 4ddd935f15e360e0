package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeltaOfDeltaRoundTrip(t *testing.T) {
	ts := []int64{1000, 1010, 1020, 1030, 1030, 1045, 2000}
	enc := EncodeTimestampsDeltaOfDelta(ts)
	dec := DecodeTimestampsDeltaOfDelta(enc, len(ts))
	require.Equal(t, ts, dec)
}

func TestDeltaOfDeltaConstantInterval(t *testing.T) {
	ts := make([]int64, 200)
	for i := range ts {
		ts[i] = int64(i) * 15000
	}
	enc := EncodeTimestampsDeltaOfDelta(ts)
	dec := DecodeTimestampsDeltaOfDelta(enc, len(ts))
	require.Equal(t, ts, dec)
	// constant-interval stream should compress to a small fraction of 8 bytes/sample
	require.Less(t, len(enc), len(ts)*2)
}

func TestDeltaOfDeltaEmptyAndSingle(t *testing.T) {
	require.Empty(t, DecodeTimestampsDeltaOfDelta(EncodeTimestampsDeltaOfDelta(nil), 0))
	one := []int64{42}
	require.Equal(t, one, DecodeTimestampsDeltaOfDelta(EncodeTimestampsDeltaOfDelta(one), 1))
}

func TestXORRoundTripBitExact(t *testing.T) {
	values := []float64{1.0, 1.0, 2.5, 2.5, 2.5, -3.25, 0, math.NaN(), math.Inf(1), math.Inf(-1), 100.125}
	enc := EncodeValuesXOR(values)
	dec := DecodeValuesXOR(enc, len(values))
	require.Len(t, dec, len(values))
	for i := range values {
		require.Equal(t, math.Float64bits(values[i]), math.Float64bits(dec[i]), "value %d must round-trip bit-exact", i)
	}
}

func TestXORRoundTripVaryingMagnitude(t *testing.T) {
	values := []float64{0.1, 0.123456, 999999.999, -1e10, 1e-10, 3.14159265358979}
	enc := EncodeValuesXOR(values)
	dec := DecodeValuesXOR(enc, len(values))
	for i := range values {
		require.Equal(t, values[i], dec[i])
	}
}

func TestRLEConstantValueCompressionRatio(t *testing.T) {
	values := make([]float64, 10000)
	for i := range values {
		values[i] = 42.0
	}
	enc := EncodeValuesRLE(values)
	dec := DecodeValuesRLE(enc, len(values))
	require.Equal(t, values, dec)

	ratio := CompressionRatio(len(enc), len(values))
	require.Less(t, ratio, 0.80, "10000 identical samples must compress below 80%% of raw size")
}

func TestIsRLEFriendly(t *testing.T) {
	constant := make([]float64, 100)
	for i := range constant {
		constant[i] = 7
	}
	require.True(t, isRLEFriendly(constant))

	noisy := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.False(t, isRLEFriendly(noisy))
}

func TestAdaptiveSelectionPicksRLEForConstantColumn(t *testing.T) {
	values := make([]float64, 10000)
	for i := range values {
		values[i] = 42.0
	}
	cfg := DefaultConfig()
	enc := EncodeValues(values, cfg)
	require.Equal(t, ValuesRLE, enc.Algorithm)

	dec := DecodeValues(enc)
	require.Equal(t, values, dec)
}

func TestAdaptiveSelectionPicksXORForNoisyColumn(t *testing.T) {
	values := make([]float64, 500)
	for i := range values {
		values[i] = float64(i) * 1.0001
	}
	cfg := DefaultConfig()
	enc := EncodeValues(values, cfg)
	require.Equal(t, ValuesXOR, enc.Algorithm)
}

func TestEnableCompressionFalseBypassesCodecs(t *testing.T) {
	values := []float64{1, 2, math.NaN(), math.Inf(-1)}
	cfg := Config{EnableCompression: false}
	enc := EncodeValues(values, cfg)
	require.Equal(t, ValuesRaw, enc.Algorithm)

	dec := DecodeValues(enc)
	for i := range values {
		require.Equal(t, math.Float64bits(values[i]), math.Float64bits(dec[i]))
	}
}

func TestDictionaryColumnRoundTrip(t *testing.T) {
	values := []string{"GET", "POST", "GET", "GET", "DELETE", "POST"}
	col := BuildDictionary(values)
	require.ElementsMatch(t, []string{"GET", "POST", "DELETE"}, col.Dict)
	require.Equal(t, values, col.Values())

	enc := col.Encode()
	dec := DecodeDictionaryColumn(enc)
	require.Equal(t, values, dec.Values())
}

func TestDictionaryColumnEmpty(t *testing.T) {
	col := BuildDictionary(nil)
	enc := col.Encode()
	dec := DecodeDictionaryColumn(enc)
	require.Empty(t, dec.Values())
}
