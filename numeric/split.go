package numeric

import (
	"math"
)

// SubRange is one inclusive term range produced by range decomposition.
// Lower and Upper are sortable unsigned values at full precision; every value
// v with Lower <= sortable(v) <= Upper is covered.
type SubRange struct {
	Field     string
	Shift     uint
	Lower     uint64
	Upper     uint64
	LowerTerm []byte
	UpperTerm []byte
}

// Contains reports whether the sortable value u falls inside the sub-range.
func (r SubRange) Contains(u uint64) bool {
	return u >= r.Lower && u <= r.Upper
}

// SplitInt64Range decomposes [min, max] into sub-ranges over the trie terms
// of field. Nil bounds are unbounded. An empty range yields no sub-ranges.
func SplitInt64Range(field string, step int, min, max *int64, minInclusive, maxInclusive bool) ([]SubRange, error) {
	if err := validateStep(step, 64); err != nil {
		return nil, err
	}
	lo, hi, ok := adjustInt64(min, max, minInclusive, maxInclusive)
	if !ok {
		return nil, nil
	}
	return split(field, 64, uint(step), SortableInt64(lo), SortableInt64(hi)), nil
}

// SplitInt32Range is the 32-bit variant of SplitInt64Range.
func SplitInt32Range(field string, step int, min, max *int32, minInclusive, maxInclusive bool) ([]SubRange, error) {
	if err := validateStep(step, 32); err != nil {
		return nil, err
	}
	var lo64, hi64 *int64
	if min != nil {
		v := int64(*min)
		lo64 = &v
	}
	if max != nil {
		v := int64(*max)
		hi64 = &v
	}
	lo, hi, ok := adjustBounds(lo64, hi64, minInclusive, maxInclusive, math.MinInt32, math.MaxInt32)
	if !ok {
		return nil, nil
	}
	return split(field, 32, uint(step),
		uint64(SortableInt32(int32(lo))), uint64(SortableInt32(int32(hi)))), nil
}

// SplitFloat64Range decomposes a float64 range. Bounds are converted to their
// sortable form before exclusive bounds are adjusted.
func SplitFloat64Range(field string, step int, min, max *float64, minInclusive, maxInclusive bool) ([]SubRange, error) {
	var lo, hi *int64
	if min != nil {
		v := Float64ToSortableInt64(*min)
		lo = &v
	}
	if max != nil {
		v := Float64ToSortableInt64(*max)
		hi = &v
	}
	return SplitInt64Range(field, step, lo, hi, minInclusive, maxInclusive)
}

// SplitFloat32Range decomposes a float32 range.
func SplitFloat32Range(field string, step int, min, max *float32, minInclusive, maxInclusive bool) ([]SubRange, error) {
	var lo, hi *int32
	if min != nil {
		v := Float32ToSortableInt32(*min)
		lo = &v
	}
	if max != nil {
		v := Float32ToSortableInt32(*max)
		hi = &v
	}
	return SplitInt32Range(field, step, lo, hi, minInclusive, maxInclusive)
}

func adjustInt64(min, max *int64, minInclusive, maxInclusive bool) (int64, int64, bool) {
	return adjustBounds(min, max, minInclusive, maxInclusive, math.MinInt64, math.MaxInt64)
}

// adjustBounds turns optional, possibly exclusive bounds into an inclusive
// [lo, hi] inside [typeMin, typeMax]. ok is false for an empty range.
func adjustBounds(min, max *int64, minInclusive, maxInclusive bool, typeMin, typeMax int64) (lo, hi int64, ok bool) {
	lo, hi = typeMin, typeMax
	if min != nil {
		lo = *min
		if !minInclusive {
			if lo == typeMax {
				return 0, 0, false
			}
			lo++
		}
	}
	if max != nil {
		hi = *max
		if !maxInclusive {
			if hi == typeMin {
				return 0, 0, false
			}
			hi--
		}
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

// split peels misaligned edges off [minBound, maxBound] at the current shift
// and continues with the aligned middle at the next coarser shift. Arithmetic
// is on sortable unsigned values; wrap-around stops the descent.
func split(field string, valSize, step uint, minBound, maxBound uint64) []SubRange {
	var out []SubRange
	add := func(shift uint, lo, hi uint64) {
		one := uint64(1)
		hi |= (one << shift) - 1
		f := field
		if shift > 0 {
			f = LowerPrecisionField(field)
		}
		r := SubRange{Field: f, Shift: shift, Lower: lo, Upper: hi}
		if valSize == 64 {
			r.LowerTerm = encodeSortable64(lo, shift)
			r.UpperTerm = encodeSortable64(hi, shift)
		} else {
			r.LowerTerm = encodeSortable32(uint32(lo), shift)
			r.UpperTerm = encodeSortable32(uint32(hi), shift)
		}
		out = append(out, r)
	}

	one := uint64(1)
	for shift := uint(0); ; shift += step {
		diff := one << (shift + step)
		mask := ((one << step) - 1) << shift
		hasLower := minBound&mask != 0
		hasUpper := maxBound&mask != mask

		nextMin := minBound
		if hasLower {
			nextMin += diff
		}
		nextMin &^= mask
		nextMax := maxBound
		if hasUpper {
			nextMax -= diff
		}
		nextMax &^= mask

		lowerWrapped := nextMin < minBound
		upperWrapped := nextMax > maxBound

		if shift+step >= valSize || nextMin > nextMax || lowerWrapped || upperWrapped {
			add(shift, minBound, maxBound)
			return out
		}
		if hasLower {
			add(shift, minBound, minBound|mask)
		}
		if hasUpper {
			add(shift, maxBound&^mask, maxBound)
		}
		minBound, maxBound = nextMin, nextMax
	}
}
