package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 42, MinInt, MaxInt, (1 << 46) - 1}
	for _, want := range cases {
		v := FromInt(want)
		require.True(t, v.IsInt())
		got, ok := v.AsInt()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	cases := []float64{0, 1.5, -1.5, math.Inf(1), math.Inf(-1), math.SmallestNonzeroFloat64}
	for _, want := range cases {
		v := FromFloat(want)
		require.True(t, v.IsFloat())
		got, ok := v.AsFloat()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestFromFloatCollapsesNaNToCanonicalPayload(t *testing.T) {
	a := FromFloat(math.NaN())
	b := FromFloat(math.Float64frombits(0xfff8000000000001)) // a different NaN bit pattern
	require.Equal(t, canonicalNaNBits, a.Bits())
	require.Equal(t, a.Bits(), b.Bits(), "two independently-produced NaNs must collapse to the same payload")
	require.True(t, a.IsFloat())
}

func TestBoolRoundTrip(t *testing.T) {
	require.True(t, FromBool(true).IsBool())
	got, ok := FromBool(true).AsBool()
	require.True(t, ok)
	require.True(t, got)

	got, ok = FromBool(false).AsBool()
	require.True(t, ok)
	require.False(t, got)
}

func TestNoneAndPendingAreDistinctSingletons(t *testing.T) {
	require.True(t, None.IsNone())
	require.True(t, Pending.IsPending())
	require.NotEqual(t, None.Bits(), Pending.Bits())
}

func TestTagsAreMutuallyExclusive(t *testing.T) {
	vs := []V{FromInt(1), FromBool(true), None, Pending, FromFloat(1.5)}
	for _, v := range vs {
		count := 0
		for _, is := range []bool{v.IsInt(), v.IsBool(), v.IsNone(), v.IsPending(), v.IsFloat(), v.IsPtr()} {
			if is {
				count++
			}
		}
		require.Equal(t, 1, count, "value %#x must classify as exactly one kind", v.Bits())
	}
}
