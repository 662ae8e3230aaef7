package numeric

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultPrecisionStep is used when a field does not configure one.
	DefaultPrecisionStep = 16

	shiftStartInt64 byte = 0x20
	shiftStartInt32 byte = 0x60

	// TermLengthInt64 is the length of a 64-bit trie term.
	TermLengthInt64 = 1 + 8
	// TermLengthInt32 is the length of a 32-bit trie term.
	TermLengthInt32 = 1 + 4

	lowerPrecisionSuffix = "\x00lp"
)

// ErrInvalidTerm is returned when decoding bytes that are not a trie term.
var ErrInvalidTerm = errors.New("numeric: invalid trie term")

// Kind is the numeric type of a trie field.
type Kind uint8

const (
	KindInt64 Kind = iota
	KindInt32
	KindFloat64
	KindFloat32
)

func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindInt32:
		return "int32"
	case KindFloat64:
		return "float64"
	case KindFloat32:
		return "float32"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Bits returns the value width of the kind.
func (k Kind) Bits() int {
	if k == KindInt32 || k == KindFloat32 {
		return 32
	}
	return 64
}

// LowerPrecisionField returns the companion field holding coarse terms.
func LowerPrecisionField(field string) string {
	return field + lowerPrecisionSuffix
}

// SortableInt64 flips the sign bit so unsigned order matches signed order.
func SortableInt64(v int64) uint64 { return uint64(v) ^ (1 << 63) }

// SortableInt32 flips the sign bit so unsigned order matches signed order.
func SortableInt32(v int32) uint32 { return uint32(v) ^ (1 << 31) }

// Float64ToSortableInt64 maps a float64 onto an int64 with the same order.
// NaN sorts above +Inf.
func Float64ToSortableInt64(f float64) int64 {
	bits := int64(math.Float64bits(f))
	return bits ^ ((bits >> 63) & math.MaxInt64)
}

// SortableInt64ToFloat64 inverts Float64ToSortableInt64.
func SortableInt64ToFloat64(v int64) float64 {
	return math.Float64frombits(uint64(v ^ ((v >> 63) & math.MaxInt64)))
}

// Float32ToSortableInt32 maps a float32 onto an int32 with the same order.
func Float32ToSortableInt32(f float32) int32 {
	bits := int32(math.Float32bits(f))
	return bits ^ ((bits >> 31) & math.MaxInt32)
}

// SortableInt32ToFloat32 inverts Float32ToSortableInt32.
func SortableInt32ToFloat32(v int32) float32 {
	return math.Float32frombits(uint32(v ^ ((v >> 31) & math.MaxInt32)))
}

// EncodeInt64 returns the trie term of v at the given shift (0..63).
func EncodeInt64(v int64, shift uint) []byte {
	return encodeSortable64(SortableInt64(v), shift)
}

// EncodeInt32 returns the trie term of v at the given shift (0..31).
func EncodeInt32(v int32, shift uint) []byte {
	return encodeSortable32(SortableInt32(v), shift)
}

func encodeSortable64(u uint64, shift uint) []byte {
	b := make([]byte, TermLengthInt64)
	b[0] = shiftStartInt64 + byte(shift)
	binary.BigEndian.PutUint64(b[1:], u>>shift)
	return b
}

func encodeSortable32(u uint32, shift uint) []byte {
	b := make([]byte, TermLengthInt32)
	b[0] = shiftStartInt32 + byte(shift)
	binary.BigEndian.PutUint32(b[1:], u>>shift)
	return b
}

// ShiftOf returns the shift encoded in a trie term.
func ShiftOf(term []byte) (uint, error) {
	switch {
	case len(term) == TermLengthInt64 && term[0] >= shiftStartInt64 && term[0] < shiftStartInt64+64:
		return uint(term[0] - shiftStartInt64), nil
	case len(term) == TermLengthInt32 && term[0] >= shiftStartInt32 && term[0] < shiftStartInt32+32:
		return uint(term[0] - shiftStartInt32), nil
	default:
		return 0, ErrInvalidTerm
	}
}

// DecodeInt64 returns the smallest value covered by a 64-bit term and its
// shift. For shift 0 this is the exact indexed value.
func DecodeInt64(term []byte) (int64, uint, error) {
	if len(term) != TermLengthInt64 {
		return 0, 0, ErrInvalidTerm
	}
	shift, err := ShiftOf(term)
	if err != nil {
		return 0, 0, err
	}
	u := binary.BigEndian.Uint64(term[1:]) << shift
	return int64(u ^ (1 << 63)), shift, nil
}

// DecodeInt32 returns the smallest value covered by a 32-bit term and its
// shift.
func DecodeInt32(term []byte) (int32, uint, error) {
	if len(term) != TermLengthInt32 {
		return 0, 0, ErrInvalidTerm
	}
	shift, err := ShiftOf(term)
	if err != nil {
		return 0, 0, err
	}
	u := binary.BigEndian.Uint32(term[1:]) << shift
	return int32(u ^ (1 << 31)), shift, nil
}

// Term is one trie term of an indexed value.
type Term struct {
	Field string
	Shift uint
	Bytes []byte
}

func validateStep(step, bits int) error {
	if step < 1 || step > bits {
		return fmt.Errorf("numeric: precision step %d must be in 1..%d", step, bits)
	}
	return nil
}

// TrieTerms64 returns the terms indexed for a 64-bit value.
func TrieTerms64(field string, v int64, step int) ([]Term, error) {
	if err := validateStep(step, 64); err != nil {
		return nil, err
	}
	u := SortableInt64(v)
	terms := make([]Term, 0, (64+step-1)/step)
	for shift := uint(0); shift < 64; shift += uint(step) {
		f := field
		if shift > 0 {
			f = LowerPrecisionField(field)
		}
		terms = append(terms, Term{Field: f, Shift: shift, Bytes: encodeSortable64(u, shift)})
	}
	return terms, nil
}

// TrieTerms32 returns the terms indexed for a 32-bit value.
func TrieTerms32(field string, v int32, step int) ([]Term, error) {
	if err := validateStep(step, 32); err != nil {
		return nil, err
	}
	u := SortableInt32(v)
	terms := make([]Term, 0, (32+step-1)/step)
	for shift := uint(0); shift < 32; shift += uint(step) {
		f := field
		if shift > 0 {
			f = LowerPrecisionField(field)
		}
		terms = append(terms, Term{Field: f, Shift: shift, Bytes: encodeSortable32(u, shift)})
	}
	return terms, nil
}

// TrieTermsFloat64 returns the terms indexed for a float64 value.
func TrieTermsFloat64(field string, f float64, step int) ([]Term, error) {
	return TrieTerms64(field, Float64ToSortableInt64(f), step)
}

// TrieTermsFloat32 returns the terms indexed for a float32 value.
func TrieTermsFloat32(field string, f float32, step int) ([]Term, error) {
	return TrieTerms32(field, Float32ToSortableInt32(f), step)
}
