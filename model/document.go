package model

import (
	"errors"
	"fmt"

	"github.com/hupe1980/lexgo/numeric"
)

// ErrInvalidDocument is wrapped by every validation failure.
var ErrInvalidDocument = errors.New("invalid document")

// NumericValue is a number indexed as trie terms.
type NumericValue struct {
	Kind  numeric.Kind
	Int   int64
	Float float64
	// PrecisionStep defaults to numeric.DefaultPrecisionStep.
	PrecisionStep int
}

// Terms returns the trie terms of v for field.
func (v NumericValue) Terms(field string) ([]numeric.Term, error) {
	step := v.PrecisionStep
	if step == 0 {
		step = numeric.DefaultPrecisionStep
	}
	switch v.Kind {
	case numeric.KindInt64:
		return numeric.TrieTerms64(field, v.Int, step)
	case numeric.KindInt32:
		return numeric.TrieTerms32(field, int32(v.Int), step)
	case numeric.KindFloat64:
		return numeric.TrieTermsFloat64(field, v.Float, step)
	case numeric.KindFloat32:
		return numeric.TrieTermsFloat32(field, float32(v.Float), step)
	default:
		return nil, fmt.Errorf("unknown numeric kind %v", v.Kind)
	}
}

// DocValue is the column value of a field.
type DocValue struct {
	Type    DocValuesType
	Numeric int64
	Bytes   []byte
}

// Field is one field of a document.
type Field struct {
	Name string
	// Index selects what the inverted index records for Tokens.
	Index  IndexOptions
	Tokens TokenStream
	// Numeric indexes trie terms into Name and its lower-precision field.
	Numeric  *NumericValue
	Stored   *StoredValue
	DocValue *DocValue
}

// Validate reports fields that would not contribute anything or are
// inconsistent.
func (f Field) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: field name is empty", ErrInvalidDocument)
	}
	if f.Index.Indexed() && f.Tokens == nil && f.Numeric == nil {
		return fmt.Errorf("%w: field %q is indexed but has no tokens", ErrInvalidDocument, f.Name)
	}
	if f.Numeric != nil && f.Tokens != nil {
		return fmt.Errorf("%w: field %q cannot have both tokens and a numeric value", ErrInvalidDocument, f.Name)
	}
	if f.DocValue != nil && f.DocValue.Type == DocValuesNone {
		return fmt.Errorf("%w: field %q has a doc value without type", ErrInvalidDocument, f.Name)
	}
	if !f.Index.Indexed() && f.Numeric == nil && f.Stored == nil && f.DocValue == nil {
		return fmt.Errorf("%w: field %q is neither indexed, stored nor a doc value", ErrInvalidDocument, f.Name)
	}
	return nil
}

// Document is an ordered list of fields.
type Document struct {
	Fields []Field
}

// NewDocument creates a document from fields.
func NewDocument(fields ...Field) *Document {
	return &Document{Fields: fields}
}

// Add appends a field.
func (d *Document) Add(f Field) *Document {
	d.Fields = append(d.Fields, f)
	return d
}

// Validate checks every field.
func (d *Document) Validate() error {
	for _, f := range d.Fields {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func storedPtr(v StoredValue, stored bool) *StoredValue {
	if !stored {
		return nil
	}
	return &v
}

// KeywordField indexes value as a single term without frequencies.
func KeywordField(name, value string, stored bool) Field {
	return Field{
		Name:   name,
		Index:  IndexDocs,
		Tokens: KeywordTokens(value),
		Stored: storedPtr(StringValue(value), stored),
	}
}

// TextField indexes the white-space tokens of text with positions.
func TextField(name, text string, stored bool) Field {
	return Field{
		Name:   name,
		Index:  IndexDocsFreqsPositions,
		Tokens: WhitespaceTokens(text),
		Stored: storedPtr(StringValue(text), stored),
	}
}

// TokenField indexes an analyzer-provided token stream.
func TokenField(name string, tokens TokenStream, opts IndexOptions) Field {
	return Field{Name: name, Index: opts, Tokens: tokens}
}

// StoredOnlyField stores v without indexing it.
func StoredOnlyField(name string, v StoredValue) Field {
	return Field{Name: name, Stored: &v}
}

// Int64Field trie-indexes v with the default precision step.
func Int64Field(name string, v int64, stored bool) Field {
	return Field{
		Name:    name,
		Index:   IndexDocs,
		Numeric: &NumericValue{Kind: numeric.KindInt64, Int: v},
		Stored:  storedPtr(Int64Value(v), stored),
	}
}

// Int32Field trie-indexes v as a 32-bit value.
func Int32Field(name string, v int32, stored bool) Field {
	return Field{
		Name:    name,
		Index:   IndexDocs,
		Numeric: &NumericValue{Kind: numeric.KindInt32, Int: int64(v)},
		Stored:  storedPtr(Int64Value(int64(v)), stored),
	}
}

// Float64Field trie-indexes v through its sortable representation.
func Float64Field(name string, v float64, stored bool) Field {
	return Field{
		Name:    name,
		Index:   IndexDocs,
		Numeric: &NumericValue{Kind: numeric.KindFloat64, Float: v},
		Stored:  storedPtr(Float64Value(v), stored),
	}
}

// Float32Field trie-indexes v as a 32-bit float.
func Float32Field(name string, v float32, stored bool) Field {
	return Field{
		Name:    name,
		Index:   IndexDocs,
		Numeric: &NumericValue{Kind: numeric.KindFloat32, Float: float64(v)},
		Stored:  storedPtr(Float64Value(float64(v)), stored),
	}
}

// WithPrecisionStep overrides the trie precision step of a numeric field.
func (f Field) WithPrecisionStep(step int) Field {
	if f.Numeric != nil {
		n := *f.Numeric
		n.PrecisionStep = step
		f.Numeric = &n
	}
	return f
}

// NumericDocValuesField adds an int64 column value.
func NumericDocValuesField(name string, v int64) Field {
	return Field{Name: name, DocValue: &DocValue{Type: DocValuesNumeric, Numeric: v}}
}

// BinaryDocValuesField adds a byte-string column value.
func BinaryDocValuesField(name string, b []byte) Field {
	return Field{Name: name, DocValue: &DocValue{Type: DocValuesBinary, Bytes: b}}
}

// SortedDocValuesField adds a deduplicated byte-string column value.
func SortedDocValuesField(name string, b []byte) Field {
	return Field{Name: name, DocValue: &DocValue{Type: DocValuesSorted, Bytes: b}}
}
