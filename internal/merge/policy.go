package merge

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// SegmentStats holds what a policy needs to know about a segment.
type SegmentStats struct {
	Name      string
	SizeBytes int64
	DocCount  int
	DelCount  int
	// Order is the position of the segment in the commit; lower is older.
	Order int
}

// DeleteRatio returns the fraction of deleted documents.
func (s SegmentStats) DeleteRatio() float64 {
	if s.DocCount == 0 {
		return 0
	}
	return float64(s.DelCount) / float64(s.DocCount)
}

// LiveBytes estimates the bytes a merge would keep.
func (s SegmentStats) LiveBytes() int64 {
	return int64(float64(s.SizeBytes) * (1 - s.DeleteRatio()))
}

// Spec is one merge: the input segments, in commit order.
type Spec struct {
	Segments []string
	// Bytes is the live-adjusted size of the inputs.
	Bytes int64
	// Reclaim marks a single-segment rewrite that drops deletions.
	Reclaim bool
}

func (s *Spec) String() string {
	return fmt.Sprintf("merge[%s]", strings.Join(s.Segments, ","))
}

// Policy selects merges.
type Policy interface {
	// FindMerge returns the next natural merge, or nil. Segments in merging
	// are already being merged and must not be selected.
	FindMerge(segments []SegmentStats, merging map[string]bool) *Spec
	// FindForcedMerges returns the merges that reduce the index to at most
	// maxSegments segments.
	FindForcedMerges(segments []SegmentStats, maxSegments int, merging map[string]bool) []*Spec
}

// TieBreak orders equally eligible candidates.
type TieBreak int

const (
	// TieBreakSmallestFirst prefers the smallest segments.
	TieBreakSmallestFirst TieBreak = iota
	// TieBreakOldestFirst prefers the segments that were written first.
	TieBreakOldestFirst
)

func (t TieBreak) String() string {
	switch t {
	case TieBreakSmallestFirst:
		return "smallest_first"
	case TieBreakOldestFirst:
		return "oldest_first"
	default:
		return fmt.Sprintf("TieBreak(%d)", int(t))
	}
}

// ParseTieBreak parses the String form of a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(s) {
	case "", "smallest_first", "smallest":
		return TieBreakSmallestFirst, nil
	case "oldest_first", "oldest":
		return TieBreakOldestFirst, nil
	default:
		return 0, fmt.Errorf("unknown tie break %q", s)
	}
}

const (
	MB = 1024 * 1024
	GB = 1024 * MB
)

// TieredPolicy groups segments into size tiers and merges within a tier
// once it holds more than SegmentsPerTier segments.
//
// The tier of a segment is floor(log_MaxMergeAtOnce(size / FloorSegmentBytes))
// where size is its live-adjusted byte size, floored at FloorSegmentBytes.
// Among qualifying tiers the candidate with the lowest cost ratio, input
// bytes per segment removed, wins.
type TieredPolicy struct {
	SegmentsPerTier       int
	MaxMergeAtOnce        int
	MaxMergedSegmentBytes int64
	FloorSegmentBytes     int64
	// ReclaimDeletesPct rewrites a single segment alone once at least this
	// percentage of its documents is deleted and no natural merge exists.
	// Zero disables reclamation.
	ReclaimDeletesPct float64
	TieBreak          TieBreak
}

// DefaultTieredPolicy returns the default policy.
func DefaultTieredPolicy() *TieredPolicy {
	return &TieredPolicy{
		SegmentsPerTier:       10,
		MaxMergeAtOnce:        10,
		MaxMergedSegmentBytes: 5 * GB,
		FloorSegmentBytes:     2 * MB,
		ReclaimDeletesPct:     20,
		TieBreak:              TieBreakSmallestFirst,
	}
}

func (p *TieredPolicy) normalized() TieredPolicy {
	n := *p
	if n.SegmentsPerTier < 2 {
		n.SegmentsPerTier = 2
	}
	if n.MaxMergeAtOnce < 2 {
		n.MaxMergeAtOnce = 2
	}
	if n.FloorSegmentBytes <= 0 {
		n.FloorSegmentBytes = 1
	}
	if n.MaxMergedSegmentBytes <= 0 {
		n.MaxMergedSegmentBytes = 5 * GB
	}
	return n
}

// size returns the live-adjusted size, floored.
func (p *TieredPolicy) size(s SegmentStats) int64 {
	return max(s.LiveBytes(), p.FloorSegmentBytes)
}

// Tier returns the tier index of s.
func (p *TieredPolicy) Tier(s SegmentStats) int {
	n := p.normalized()
	size := n.size(s)
	tier := 0
	for limit := n.FloorSegmentBytes * int64(n.MaxMergeAtOnce); size >= limit; limit *= int64(n.MaxMergeAtOnce) {
		tier++
		if limit > (1<<62)/int64(n.MaxMergeAtOnce) {
			break
		}
	}
	return tier
}

func (p *TieredPolicy) compare(a, b SegmentStats) int {
	if p.TieBreak == TieBreakOldestFirst {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(p.size(a), p.size(b)))
	}
	return cmp.Or(cmp.Compare(p.size(a), p.size(b)), cmp.Compare(a.Order, b.Order))
}

type candidate struct {
	segs  []SegmentStats
	bytes int64
}

func (c candidate) ratio() float64 {
	return float64(c.bytes) / float64(len(c.segs)-1)
}

func (c candidate) spec() *Spec {
	segs := slices.Clone(c.segs)
	slices.SortFunc(segs, func(a, b SegmentStats) int { return cmp.Compare(a.Order, b.Order) })
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.Name
	}
	return &Spec{Segments: names, Bytes: c.bytes}
}

func eligible(segments []SegmentStats, merging map[string]bool) []SegmentStats {
	out := make([]SegmentStats, 0, len(segments))
	for _, s := range segments {
		if !merging[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// FindMerge implements Policy.
func (p *TieredPolicy) FindMerge(segments []SegmentStats, merging map[string]bool) *Spec {
	n := p.normalized()
	segs := eligible(segments, merging)

	tiers := make(map[int][]SegmentStats)
	for _, s := range segs {
		// Segments already close to the maximum only take part in
		// reclamation.
		if s.LiveBytes() > n.MaxMergedSegmentBytes/2 {
			continue
		}
		t := n.Tier(s)
		tiers[t] = append(tiers[t], s)
	}

	var best *candidate
	for _, t := range slices.Sorted(maps.Keys(tiers)) {
		members := tiers[t]
		if len(members) <= n.SegmentsPerTier {
			continue
		}
		slices.SortFunc(members, n.compare)
		c := candidate{}
		for _, s := range members {
			if len(c.segs) == n.MaxMergeAtOnce {
				break
			}
			size := n.size(s)
			if c.bytes+size > n.MaxMergedSegmentBytes {
				continue
			}
			c.segs = append(c.segs, s)
			c.bytes += size
		}
		if len(c.segs) < 2 {
			continue
		}
		if best == nil || c.ratio() < best.ratio() ||
			(c.ratio() == best.ratio() && n.compare(c.segs[0], best.segs[0]) < 0) {
			cc := c
			best = &cc
		}
	}
	if best != nil {
		return best.spec()
	}
	return n.findReclaim(segs)
}

func (p *TieredPolicy) findReclaim(segs []SegmentStats) *Spec {
	if p.ReclaimDeletesPct <= 0 {
		return nil
	}
	var best *SegmentStats
	for i := range segs {
		s := &segs[i]
		if s.DelCount == 0 || s.DeleteRatio()*100 < p.ReclaimDeletesPct {
			continue
		}
		if best == nil || s.DeleteRatio() > best.DeleteRatio() ||
			(s.DeleteRatio() == best.DeleteRatio() && p.compare(*s, *best) < 0) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	return &Spec{Segments: []string{best.Name}, Bytes: best.LiveBytes(), Reclaim: true}
}

// FindForcedMerges implements Policy. Segments are merged in commit order in
// groups of at most MaxMergeAtOnce until at most maxSegments remain. A
// single remaining segment with deletions is rewritten when maxSegments is 1.
func (p *TieredPolicy) FindForcedMerges(segments []SegmentStats, maxSegments int, merging map[string]bool) []*Spec {
	n := p.normalized()
	if maxSegments < 1 {
		maxSegments = 1
	}
	segs := eligible(segments, merging)
	slices.SortFunc(segs, func(a, b SegmentStats) int { return cmp.Compare(a.Order, b.Order) })

	total := len(segments)
	if total <= maxSegments {
		if maxSegments == 1 && len(segs) == 1 && segs[0].DelCount > 0 {
			return []*Spec{{Segments: []string{segs[0].Name}, Bytes: segs[0].LiveBytes(), Reclaim: true}}
		}
		return nil
	}

	var specs []*Spec
	excess := total - maxSegments
	for len(segs) > 1 && excess > 0 {
		// A group of k segments removes k-1.
		k := min(n.MaxMergeAtOnce, len(segs), excess+1)
		c := candidate{segs: segs[:k]}
		for _, s := range c.segs {
			c.bytes += s.LiveBytes()
		}
		specs = append(specs, c.spec())
		segs = segs[k:]
		excess -= k - 1
	}
	return specs
}
