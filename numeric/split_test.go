package numeric

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func countMatches64(ranges []SubRange, v int64) int {
	u := SortableInt64(v)
	n := 0
	for _, r := range ranges {
		if r.Contains(u) {
			n++
		}
	}
	return n
}

func TestSplitInt64RangeCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, step := range []int{1, 4, 8, 16, 64} {
		for i := 0; i < 50; i++ {
			a := rng.Int63n(1<<20) - 1<<19
			b := a + rng.Int63n(5000)
			ranges, err := SplitInt64Range("f", step, &a, &b, true, true)
			require.NoError(t, err)

			for v := a - 50; v <= b+50; v++ {
				want := 0
				if v >= a && v <= b {
					want = 1
				}
				require.Equal(t, want, countMatches64(ranges, v), "step=%d range=[%d,%d] v=%d", step, a, b, v)
			}
		}
	}
}

func TestSplitRangeTermsMatchIndexedTerms(t *testing.T) {
	const step = 4
	a, b := int64(-1000), int64(3000)
	ranges, err := SplitInt64Range("f", step, &a, &b, true, true)
	require.NoError(t, err)

	for _, v := range []int64{-1001, -1000, -999, 0, 1234, 2999, 3000, 3001} {
		terms, err := TrieTerms64("f", v, step)
		require.NoError(t, err)
		hits := 0
		for _, r := range ranges {
			for _, term := range terms {
				if term.Field == r.Field && term.Shift == r.Shift &&
					bytes.Compare(term.Bytes, r.LowerTerm) >= 0 && bytes.Compare(term.Bytes, r.UpperTerm) <= 0 {
					hits++
				}
			}
		}
		if v >= a && v <= b {
			assert.Equal(t, 1, hits, "v=%d", v)
		} else {
			assert.Equal(t, 0, hits, "v=%d", v)
		}
	}
}

func TestSplitRangeBounds(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		ranges, err := SplitInt64Range("f", 8, ptr(int64(10)), ptr(int64(5)), true, true)
		require.NoError(t, err)
		assert.Empty(t, ranges)

		ranges, err = SplitInt64Range("f", 8, ptr(int64(5)), ptr(int64(5)), false, true)
		require.NoError(t, err)
		assert.Empty(t, ranges)

		ranges, err = SplitInt64Range("f", 8, ptr(int64(math.MaxInt64)), nil, false, true)
		require.NoError(t, err)
		assert.Empty(t, ranges)
	})

	t.Run("Exclusive", func(t *testing.T) {
		ranges, err := SplitInt64Range("f", 8, ptr(int64(0)), ptr(int64(10)), false, false)
		require.NoError(t, err)
		assert.Equal(t, 0, countMatches64(ranges, 0))
		assert.Equal(t, 1, countMatches64(ranges, 1))
		assert.Equal(t, 1, countMatches64(ranges, 9))
		assert.Equal(t, 0, countMatches64(ranges, 10))
	})

	t.Run("Unbounded", func(t *testing.T) {
		ranges, err := SplitInt64Range("f", 16, nil, nil, true, true)
		require.NoError(t, err)
		for _, v := range []int64{math.MinInt64, -1, 0, math.MaxInt64} {
			assert.Equal(t, 1, countMatches64(ranges, v))
		}
		ranges, err = SplitInt64Range("f", 16, nil, ptr(int64(-1)), true, true)
		require.NoError(t, err)
		assert.Equal(t, 1, countMatches64(ranges, math.MinInt64))
		assert.Equal(t, 0, countMatches64(ranges, 0))
	})

	t.Run("InvalidStep", func(t *testing.T) {
		_, err := SplitInt64Range("f", 0, nil, nil, true, true)
		require.Error(t, err)
		_, err = SplitInt32Range("f", 33, nil, nil, true, true)
		require.Error(t, err)
	})
}

func TestSplitInt32RangeCompleteness(t *testing.T) {
	for _, step := range []int{3, 8, 32} {
		a, b := int32(-700), int32(1300)
		ranges, err := SplitInt32Range("f", step, &a, &b, true, true)
		require.NoError(t, err)
		for v := int32(-800); v <= 1400; v++ {
			u := uint64(SortableInt32(v))
			n := 0
			for _, r := range ranges {
				if r.Contains(u) {
					n++
				}
			}
			if v >= a && v <= b {
				require.Equal(t, 1, n, "step=%d v=%d", step, v)
			} else {
				require.Equal(t, 0, n, "step=%d v=%d", step, v)
			}
		}
	}

	ranges, err := SplitInt32Range("f", 8, ptr(int32(math.MaxInt32-3)), nil, true, true)
	require.NoError(t, err)
	n := 0
	for _, r := range ranges {
		if r.Contains(uint64(SortableInt32(math.MaxInt32))) {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestSplitFloat64Range(t *testing.T) {
	ranges, err := SplitFloat64Range("f", 16, ptr(-2.5), ptr(10.0), true, false)
	require.NoError(t, err)
	in := func(f float64) bool {
		return countMatches64(ranges, Float64ToSortableInt64(f)) == 1
	}
	assert.True(t, in(-2.5))
	assert.True(t, in(-1))
	assert.True(t, in(0))
	assert.True(t, in(9.999))
	assert.False(t, in(10))
	assert.False(t, in(-2.5000001))
	assert.False(t, in(math.Inf(1)))
}

func TestScenarioBDecomposition(t *testing.T) {
	ranges, err := SplitInt64Range("price", 8, ptr(int64(0)), ptr(int64(10000)), true, true)
	require.NoError(t, err)

	u := SortableInt64(5000)
	var coarse *SubRange
	for i := range ranges {
		if ranges[i].Shift > 0 && ranges[i].Contains(u) {
			coarse = &ranges[i]
		}
	}
	require.NotNil(t, coarse, "expected a coarse sub-range covering 5000")
	assert.Equal(t, LowerPrecisionField("price"), coarse.Field)

	lo, shift, err := DecodeInt64(coarse.LowerTerm)
	require.NoError(t, err)
	hi, _, err := DecodeInt64(coarse.UpperTerm)
	require.NoError(t, err)
	hi |= int64(1)<<shift - 1
	assert.LessOrEqual(t, lo, int64(5000))
	assert.GreaterOrEqual(t, hi, int64(5000))
}

// termIndex is a sorted (field, term) -> doc list used to exercise Apply.
type termIndex struct {
	entries []indexEntry
}

type indexEntry struct {
	field string
	term  []byte
	doc   uint32
}

func (ti *termIndex) add(field string, term []byte, doc uint32) {
	ti.entries = append(ti.entries, indexEntry{field: field, term: term, doc: doc})
}

func (ti *termIndex) DocsInTermRange(_ context.Context, field string, lo, hi []byte, dst *roaring.Bitmap) error {
	for _, e := range ti.entries {
		if e.field == field && bytes.Compare(e.term, lo) >= 0 && bytes.Compare(e.term, hi) <= 0 {
			dst.Add(e.doc)
		}
	}
	return nil
}

func TestRangeFilterApply(t *testing.T) {
	values := []int64{-40000, -1, 0, 5000, 9999, 10000, 10001, 1 << 33}
	idx := &termIndex{}
	for doc, v := range values {
		terms, err := TrieTerms64("price", v, 8)
		require.NoError(t, err)
		for _, term := range terms {
			idx.add(term.Field, term.Bytes, uint32(doc))
		}
	}

	f, err := NewInt64RangeFilter("price", 8, ptr(int64(0)), ptr(int64(10000)), true, true)
	require.NoError(t, err)
	assert.False(t, f.Empty())

	bm, err := f.Apply(context.Background(), idx)
	require.NoError(t, err)
	got := bm.ToArray()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []uint32{2, 3, 4, 5}, got)

	empty, err := NewInt64RangeFilter("price", 8, ptr(int64(5)), ptr(int64(1)), true, true)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	bm, err = empty.Apply(context.Background(), idx)
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())
}

func TestRangeFilterHonorsContext(t *testing.T) {
	f, err := NewInt32RangeFilter("n", 4, ptr(int32(1)), ptr(int32(1000)), true, true)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Apply(ctx, &termIndex{})
	require.ErrorIs(t, err, context.Canceled)
}
