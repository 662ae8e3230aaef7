package numeric

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// TermRangeReader is implemented by segment readers. DocsInTermRange adds to
// dst every document holding a term t of field with lo <= t <= hi.
type TermRangeReader interface {
	DocsInTermRange(ctx context.Context, field string, lo, hi []byte, dst *roaring.Bitmap) error
}

// RangeFilter matches documents whose numeric field value lies in a range.
type RangeFilter struct {
	Field  string
	Kind   Kind
	Step   int
	Ranges []SubRange
}

// NewInt64RangeFilter builds a filter over an int64 trie field.
func NewInt64RangeFilter(field string, step int, min, max *int64, minInclusive, maxInclusive bool) (*RangeFilter, error) {
	ranges, err := SplitInt64Range(field, step, min, max, minInclusive, maxInclusive)
	if err != nil {
		return nil, err
	}
	return &RangeFilter{Field: field, Kind: KindInt64, Step: step, Ranges: ranges}, nil
}

// NewInt32RangeFilter builds a filter over an int32 trie field.
func NewInt32RangeFilter(field string, step int, min, max *int32, minInclusive, maxInclusive bool) (*RangeFilter, error) {
	ranges, err := SplitInt32Range(field, step, min, max, minInclusive, maxInclusive)
	if err != nil {
		return nil, err
	}
	return &RangeFilter{Field: field, Kind: KindInt32, Step: step, Ranges: ranges}, nil
}

// NewFloat64RangeFilter builds a filter over a float64 trie field.
func NewFloat64RangeFilter(field string, step int, min, max *float64, minInclusive, maxInclusive bool) (*RangeFilter, error) {
	ranges, err := SplitFloat64Range(field, step, min, max, minInclusive, maxInclusive)
	if err != nil {
		return nil, err
	}
	return &RangeFilter{Field: field, Kind: KindFloat64, Step: step, Ranges: ranges}, nil
}

// NewFloat32RangeFilter builds a filter over a float32 trie field.
func NewFloat32RangeFilter(field string, step int, min, max *float32, minInclusive, maxInclusive bool) (*RangeFilter, error) {
	ranges, err := SplitFloat32Range(field, step, min, max, minInclusive, maxInclusive)
	if err != nil {
		return nil, err
	}
	return &RangeFilter{Field: field, Kind: KindFloat32, Step: step, Ranges: ranges}, nil
}

// Empty reports whether the filter can match nothing.
func (f *RangeFilter) Empty() bool { return len(f.Ranges) == 0 }

// Apply runs one term-range lookup per sub-range and returns the union of the
// matching documents.
func (f *RangeFilter) Apply(ctx context.Context, r TermRangeReader) (*roaring.Bitmap, error) {
	result := roaring.New()
	for _, sr := range f.Ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.DocsInTermRange(ctx, sr.Field, sr.LowerTerm, sr.UpperTerm, result); err != nil {
			return nil, fmt.Errorf("numeric range %s shift %d: %w", sr.Field, sr.Shift, err)
		}
	}
	return result, nil
}
