package model

import (
	"fmt"
	"math"
)

// NoMoreDocs is returned by postings iterators once exhausted.
const NoMoreDocs = math.MaxInt32

// IndexOptions controls what the inverted index records for a field.
type IndexOptions uint8

const (
	IndexNone IndexOptions = iota
	// IndexDocs records only which documents contain a term.
	IndexDocs
	// IndexDocsFreqs also records term frequencies.
	IndexDocsFreqs
	// IndexDocsFreqsPositions also records positions and payloads.
	IndexDocsFreqsPositions
)

func (o IndexOptions) Indexed() bool      { return o != IndexNone }
func (o IndexOptions) HasFreqs() bool     { return o >= IndexDocsFreqs }
func (o IndexOptions) HasPositions() bool { return o >= IndexDocsFreqsPositions }

func (o IndexOptions) String() string {
	switch o {
	case IndexNone:
		return "none"
	case IndexDocs:
		return "docs"
	case IndexDocsFreqs:
		return "docs_freqs"
	case IndexDocsFreqsPositions:
		return "docs_freqs_positions"
	default:
		return fmt.Sprintf("IndexOptions(%d)", uint8(o))
	}
}

// DocValuesType is the column type of a doc-values field.
type DocValuesType uint8

const (
	DocValuesNone DocValuesType = iota
	// DocValuesNumeric holds one int64 per document.
	DocValuesNumeric
	// DocValuesBinary holds one byte string per document.
	DocValuesBinary
	// DocValuesSorted holds one byte string per document, deduplicated into
	// a sorted per-segment dictionary addressed by ordinal.
	DocValuesSorted
)

func (t DocValuesType) String() string {
	switch t {
	case DocValuesNone:
		return "none"
	case DocValuesNumeric:
		return "numeric"
	case DocValuesBinary:
		return "binary"
	case DocValuesSorted:
		return "sorted"
	default:
		return fmt.Sprintf("DocValuesType(%d)", uint8(t))
	}
}

// TermStats are the statistics of one term in one segment.
type TermStats struct {
	// DocFreq is the number of documents containing the term.
	DocFreq int
	// TotalTermFreq is the number of occurrences, or DocFreq when
	// frequencies are not indexed.
	TotalTermFreq int64
}

// Add accumulates o into s.
func (s *TermStats) Add(o TermStats) {
	s.DocFreq += o.DocFreq
	s.TotalTermFreq += o.TotalTermFreq
}

// StoredKind is the type of a stored value.
type StoredKind uint8

const (
	StoredString StoredKind = iota + 1
	StoredBytes
	StoredInt64
	StoredFloat64
)

// StoredValue is a value kept verbatim for retrieval.
type StoredValue struct {
	Kind  StoredKind
	Str   string
	Bytes []byte
	Int   int64
	Float float64
}

func StringValue(s string) StoredValue   { return StoredValue{Kind: StoredString, Str: s} }
func BytesValue(b []byte) StoredValue    { return StoredValue{Kind: StoredBytes, Bytes: b} }
func Int64Value(v int64) StoredValue     { return StoredValue{Kind: StoredInt64, Int: v} }
func Float64Value(v float64) StoredValue { return StoredValue{Kind: StoredFloat64, Float: v} }

// Any returns the value as string, []byte, int64 or float64.
func (v StoredValue) Any() any {
	switch v.Kind {
	case StoredString:
		return v.Str
	case StoredBytes:
		return v.Bytes
	case StoredInt64:
		return v.Int
	case StoredFloat64:
		return v.Float
	default:
		return nil
	}
}

// StoredField is a named stored value.
type StoredField struct {
	Name  string
	Value StoredValue
}

// StoredDocument is the stored content of one document, in field order.
type StoredDocument []StoredField

// Get returns the first value of name.
func (d StoredDocument) Get(name string) (StoredValue, bool) {
	for _, f := range d {
		if f.Name == name {
			return f.Value, true
		}
	}
	return StoredValue{}, false
}

// GetAll returns every value of name.
func (d StoredDocument) GetAll(name string) []StoredValue {
	var out []StoredValue
	for _, f := range d {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}
