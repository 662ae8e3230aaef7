package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *TieredPolicy {
	return &TieredPolicy{
		SegmentsPerTier:       3,
		MaxMergeAtOnce:        4,
		MaxMergedSegmentBytes: 1 << 30,
		FloorSegmentBytes:     100,
	}
}

func segs(sizes ...int64) []SegmentStats {
	out := make([]SegmentStats, len(sizes))
	for i, s := range sizes {
		out[i] = SegmentStats{Name: fmt.Sprintf("s%d", i), SizeBytes: s, DocCount: 100, Order: i}
	}
	return out
}

func TestTier(t *testing.T) {
	p := testPolicy()
	tests := []struct {
		size int64
		del  int
		want int
	}{
		{size: 10, want: 0},
		{size: 399, want: 0},
		{size: 400, want: 1},
		{size: 1599, want: 1},
		{size: 1600, want: 2},
		{size: 800, del: 50, want: 1},
	}
	for _, tt := range tests {
		s := SegmentStats{SizeBytes: tt.size, DocCount: 100, DelCount: tt.del}
		assert.Equal(t, tt.want, p.Tier(s), "size=%d del=%d", tt.size, tt.del)
	}
}

func TestFindMergeNeedsFullTier(t *testing.T) {
	p := testPolicy()
	assert.Nil(t, p.FindMerge(segs(100, 100, 100), nil))

	spec := p.FindMerge(segs(100, 100, 100, 100), nil)
	require.NotNil(t, spec)
	assert.Equal(t, []string{"s0", "s1", "s2", "s3"}, spec.Segments)
	assert.False(t, spec.Reclaim)
	assert.Equal(t, int64(400), spec.Bytes)
}

func TestFindMergePrefersLowestCost(t *testing.T) {
	p := testPolicy()
	// Four segments in tier 1 and four in tier 0; the small ones are cheaper.
	spec := p.FindMerge(segs(500, 500, 500, 500, 100, 100, 100, 100), nil)
	require.NotNil(t, spec)
	assert.Equal(t, []string{"s4", "s5", "s6", "s7"}, spec.Segments)
}

func TestFindMergeTieBreak(t *testing.T) {
	stats := segs(300, 100, 200, 150, 120)

	p := testPolicy()
	spec := p.FindMerge(stats, nil)
	require.NotNil(t, spec)
	assert.Equal(t, []string{"s1", "s2", "s3", "s4"}, spec.Segments)

	p.TieBreak = TieBreakOldestFirst
	spec = p.FindMerge(stats, nil)
	require.NotNil(t, spec)
	assert.Equal(t, []string{"s0", "s1", "s2", "s3"}, spec.Segments)
}

func TestFindMergeSkipsMerging(t *testing.T) {
	p := testPolicy()
	stats := segs(100, 100, 100, 100, 100)

	spec := p.FindMerge(stats, map[string]bool{"s1": true})
	require.NotNil(t, spec)
	assert.Equal(t, []string{"s0", "s2", "s3", "s4"}, spec.Segments)

	assert.Nil(t, p.FindMerge(stats, map[string]bool{"s0": true, "s1": true}))
}

func TestFindMergeSkipsLargeSegments(t *testing.T) {
	p := testPolicy()
	p.MaxMergedSegmentBytes = 1000
	assert.Nil(t, p.FindMerge(segs(600, 600, 600, 600), nil))
}

func TestFindMergeReclaimsDeletes(t *testing.T) {
	stats := segs(1000, 1000)
	stats[0].DelCount = 10
	stats[1].DelCount = 50

	p := testPolicy()
	assert.Nil(t, p.FindMerge(stats, nil), "reclamation disabled")

	p.ReclaimDeletesPct = 20
	spec := p.FindMerge(stats, nil)
	require.NotNil(t, spec)
	assert.True(t, spec.Reclaim)
	assert.Equal(t, []string{"s1"}, spec.Segments)
	assert.Equal(t, int64(500), spec.Bytes)

	p.ReclaimDeletesPct = 60
	assert.Nil(t, p.FindMerge(stats, nil))
}

func TestFindForcedMerges(t *testing.T) {
	p := testPolicy()
	p.MaxMergeAtOnce = 10

	specs := p.FindForcedMerges(segs(1, 2, 3, 4, 5), 1, nil)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"s0", "s1", "s2", "s3", "s4"}, specs[0].Segments)

	specs = p.FindForcedMerges(segs(1, 2, 3, 4, 5), 3, nil)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"s0", "s1", "s2"}, specs[0].Segments)

	assert.Nil(t, p.FindForcedMerges(segs(1, 2), 2, nil))

	t.Run("bounded by MaxMergeAtOnce", func(t *testing.T) {
		p := testPolicy()
		p.MaxMergeAtOnce = 2
		specs := p.FindForcedMerges(segs(1, 2, 3, 4, 5), 1, nil)
		require.Len(t, specs, 2)
		assert.Equal(t, []string{"s0", "s1"}, specs[0].Segments)
		assert.Equal(t, []string{"s2", "s3"}, specs[1].Segments)
	})

	t.Run("single segment with deletions", func(t *testing.T) {
		stats := segs(100)
		stats[0].DelCount = 1
		specs := p.FindForcedMerges(stats, 1, nil)
		require.Len(t, specs, 1)
		assert.True(t, specs[0].Reclaim)
		assert.Equal(t, []string{"s0"}, specs[0].Segments)

		assert.Nil(t, p.FindForcedMerges(segs(100), 1, nil))
	})
}

func TestParseTieBreak(t *testing.T) {
	for _, tb := range []TieBreak{TieBreakSmallestFirst, TieBreakOldestFirst} {
		got, err := ParseTieBreak(tb.String())
		require.NoError(t, err)
		assert.Equal(t, tb, got)
	}
	got, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieBreakSmallestFirst, got)

	_, err = ParseTieBreak("largest")
	assert.Error(t, err)
}
