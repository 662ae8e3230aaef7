package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/model"
)

const (
	docValuesCodec          = "LexgoDocValues"
	docValuesVersionStart   = 1
	docValuesVersionCurrent = docValuesVersionStart
)

type dvColumn struct {
	field   FieldInfo
	docs    *roaring.Bitmap
	lastDoc int
	nums    []int64
	bins    [][]byte
}

// docValuesWriter buffers columns until the segment is finished.
//
// Layout per field: type byte, uvarint count, length-prefixed roaring
// bitmap of documents with a value, then the column:
// numeric varints, binary length-prefixed values, or for sorted a
// length-prefixed sorted dictionary followed by one uvarint ordinal per
// document. A directory of (field number, offset) pairs and its uint64
// offset precede the footer.
type docValuesWriter struct {
	out  *codec.Output
	cols map[int]*dvColumn
}

func (w *docValuesWriter) column(f FieldInfo, typ model.DocValuesType, doc int) (*dvColumn, error) {
	if f.DocValues != typ {
		return nil, fmt.Errorf("field %q has doc values type %s, not %s", f.Name, f.DocValues, typ)
	}
	if w.cols == nil {
		w.cols = make(map[int]*dvColumn)
	}
	c, ok := w.cols[f.Number]
	if !ok {
		c = &dvColumn{field: f, docs: roaring.New(), lastDoc: -1}
		w.cols[f.Number] = c
	}
	if doc <= c.lastDoc {
		return nil, fmt.Errorf("field %q: doc %d not after %d", f.Name, doc, c.lastDoc)
	}
	c.lastDoc = doc
	c.docs.Add(uint32(doc))
	return c, nil
}

func (w *docValuesWriter) addNumeric(f FieldInfo, doc int, v int64) error {
	c, err := w.column(f, model.DocValuesNumeric, doc)
	if err != nil {
		return err
	}
	c.nums = append(c.nums, v)
	return nil
}

func (w *docValuesWriter) addBytes(f FieldInfo, typ model.DocValuesType, doc int, v []byte) error {
	c, err := w.column(f, typ, doc)
	if err != nil {
		return err
	}
	c.bins = append(c.bins, bytes.Clone(v))
	return nil
}

func (w *docValuesWriter) finish() error {
	numbers := make([]int, 0, len(w.cols))
	for n := range w.cols {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	offsets := make([]int64, len(numbers))
	for i, n := range numbers {
		offsets[i] = w.out.Offset()
		if err := w.writeColumn(w.cols[n]); err != nil {
			return err
		}
	}
	dirOffset := w.out.Offset()
	if err := w.out.WriteUvarint(uint64(len(numbers))); err != nil {
		return err
	}
	for i, n := range numbers {
		if err := w.out.WriteUvarint(uint64(n)); err != nil {
			return err
		}
		if err := w.out.WriteUvarint(uint64(offsets[i])); err != nil {
			return err
		}
	}
	if err := w.out.WriteUint64(uint64(dirOffset)); err != nil {
		return err
	}
	return codec.WriteFooter(w.out)
}

func (w *docValuesWriter) writeColumn(c *dvColumn) error {
	out := w.out
	if err := out.WriteByte(byte(c.field.DocValues)); err != nil {
		return err
	}
	if err := out.WriteUvarint(c.docs.GetCardinality()); err != nil {
		return err
	}
	c.docs.RunOptimize()
	raw, err := c.docs.ToBytes()
	if err != nil {
		return err
	}
	if err := out.WriteBytes(raw); err != nil {
		return err
	}
	switch c.field.DocValues {
	case model.DocValuesNumeric:
		for _, v := range c.nums {
			if err := out.WriteVarint(v); err != nil {
				return err
			}
		}
	case model.DocValuesBinary:
		for _, v := range c.bins {
			if err := out.WriteBytes(v); err != nil {
				return err
			}
		}
	case model.DocValuesSorted:
		dict := make([][]byte, 0, len(c.bins))
		seen := make(map[string]struct{}, len(c.bins))
		for _, v := range c.bins {
			if _, ok := seen[string(v)]; !ok {
				seen[string(v)] = struct{}{}
				dict = append(dict, v)
			}
		}
		sort.Slice(dict, func(i, j int) bool { return bytes.Compare(dict[i], dict[j]) < 0 })
		ords := make(map[string]int, len(dict))
		if err := out.WriteUvarint(uint64(len(dict))); err != nil {
			return err
		}
		for i, v := range dict {
			ords[string(v)] = i
			if err := out.WriteBytes(v); err != nil {
				return err
			}
		}
		for _, v := range c.bins {
			if err := out.WriteUvarint(uint64(ords[string(v)])); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("field %q: no doc values", c.field.Name)
	}
	return nil
}

// NumericDocValues holds one int64 per document.
type NumericDocValues struct {
	docs   *roaring.Bitmap
	values []int64
}

// Docs returns the documents with a value. Callers must not modify it.
func (n *NumericDocValues) Docs() *roaring.Bitmap { return n.docs }

// Get returns the value of doc.
func (n *NumericDocValues) Get(doc int) (int64, bool) {
	i, ok := rank(n.docs, doc)
	if !ok {
		return 0, false
	}
	return n.values[i], true
}

// BinaryDocValues holds one byte string per document.
type BinaryDocValues struct {
	docs   *roaring.Bitmap
	values [][]byte
}

// Docs returns the documents with a value. Callers must not modify it.
func (b *BinaryDocValues) Docs() *roaring.Bitmap { return b.docs }

// Get returns the value of doc.
func (b *BinaryDocValues) Get(doc int) ([]byte, bool) {
	i, ok := rank(b.docs, doc)
	if !ok {
		return nil, false
	}
	return b.values[i], true
}

// SortedDocValues maps documents to ordinals of a sorted dictionary.
type SortedDocValues struct {
	docs *roaring.Bitmap
	ords []int
	dict [][]byte
}

// Docs returns the documents with a value. Callers must not modify it.
func (s *SortedDocValues) Docs() *roaring.Bitmap { return s.docs }

// Ord returns the ordinal of the value of doc.
func (s *SortedDocValues) Ord(doc int) (int, bool) {
	i, ok := rank(s.docs, doc)
	if !ok {
		return -1, false
	}
	return s.ords[i], true
}

// Get returns the value of doc.
func (s *SortedDocValues) Get(doc int) ([]byte, bool) {
	ord, ok := s.Ord(doc)
	if !ok {
		return nil, false
	}
	return s.dict[ord], true
}

// ValueCount returns the number of distinct values.
func (s *SortedDocValues) ValueCount() int { return len(s.dict) }

// LookupOrd returns the value with ordinal ord.
func (s *SortedDocValues) LookupOrd(ord int) []byte { return s.dict[ord] }

// LookupTerm returns the ordinal of key, or the insertion point and false.
func (s *SortedDocValues) LookupTerm(key []byte) (int, bool) {
	i := sort.Search(len(s.dict), func(i int) bool { return bytes.Compare(s.dict[i], key) >= 0 })
	return i, i < len(s.dict) && bytes.Equal(s.dict[i], key)
}

func rank(docs *roaring.Bitmap, doc int) (int, bool) {
	if doc < 0 || !docs.Contains(uint32(doc)) {
		return 0, false
	}
	return int(docs.Rank(uint32(doc))) - 1, true
}

// docValuesReader decodes columns on first use and keeps them until the
// reader is closed.
type docValuesReader struct {
	name string
	data []byte
	dir  map[int]int64

	mu    sync.Mutex
	cache map[int]any
}

func openDocValues(data []byte, name string) (*docValuesReader, error) {
	end := len(data) - codec.FooterLength - 8
	if end < 0 {
		return nil, codec.Corruptf(name, "file too short")
	}
	dirOffset := int64(binary.BigEndian.Uint64(data[end:]))
	in := codec.NewInput(data[:end], name)
	if err := in.Seek(int(dirOffset)); err != nil {
		return nil, err
	}
	n, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	dir := make(map[int]int64, n)
	for i := 0; i < n; i++ {
		num, err := in.ReadInt()
		if err != nil {
			return nil, err
		}
		off, err := in.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if int64(off) >= dirOffset {
			return nil, codec.Corruptf(name, "field %d offset beyond directory", num)
		}
		dir[num] = int64(off)
	}
	return &docValuesReader{name: name, data: data[:dirOffset], dir: dir, cache: make(map[int]any)}, nil
}

func (r *docValuesReader) load(f FieldInfo, typ model.DocValuesType) (any, error) {
	if f.DocValues != typ {
		return nil, fmt.Errorf("field %q has doc values type %s, not %s", f.Name, f.DocValues, typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		return nil, ErrReaderClosed
	}
	if v, ok := r.cache[f.Number]; ok {
		return v, nil
	}
	off, ok := r.dir[f.Number]
	if !ok {
		return nil, nil
	}
	v, err := r.decode(off, typ)
	if err != nil {
		return nil, err
	}
	r.cache[f.Number] = v
	return v, nil
}

func (r *docValuesReader) decode(off int64, typ model.DocValuesType) (any, error) {
	in := codec.NewInput(r.data, r.name)
	if err := in.Seek(int(off)); err != nil {
		return nil, err
	}
	t, err := in.ReadByte()
	if err != nil {
		return nil, err
	}
	if model.DocValuesType(t) != typ {
		return nil, codec.Corruptf(r.name, "column type %d, field type %s", t, typ)
	}
	count, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	raw, err := in.ReadBytes()
	if err != nil {
		return nil, err
	}
	docs := roaring.New()
	if err := docs.UnmarshalBinary(raw); err != nil {
		return nil, &codec.CorruptError{Resource: r.name, Reason: "bad docs bitmap", Err: err}
	}
	if int(docs.GetCardinality()) != count {
		return nil, codec.Corruptf(r.name, "column count %d does not match bitmap cardinality %d", count, docs.GetCardinality())
	}
	switch typ {
	case model.DocValuesNumeric:
		values := make([]int64, count)
		for i := range values {
			if values[i], err = in.ReadVarint(); err != nil {
				return nil, err
			}
		}
		return &NumericDocValues{docs: docs, values: values}, nil
	case model.DocValuesBinary:
		values := make([][]byte, count)
		for i := range values {
			b, err := in.ReadBytes()
			if err != nil {
				return nil, err
			}
			values[i] = bytes.Clone(b)
		}
		return &BinaryDocValues{docs: docs, values: values}, nil
	default:
		n, err := in.ReadInt()
		if err != nil {
			return nil, err
		}
		dict := make([][]byte, n)
		for i := range dict {
			b, err := in.ReadBytes()
			if err != nil {
				return nil, err
			}
			dict[i] = bytes.Clone(b)
		}
		ords := make([]int, count)
		for i := range ords {
			if ords[i], err = in.ReadInt(); err != nil {
				return nil, err
			}
			if ords[i] >= n {
				return nil, codec.Corruptf(r.name, "ordinal %d beyond dictionary of %d", ords[i], n)
			}
		}
		return &SortedDocValues{docs: docs, ords: ords, dict: dict}, nil
	}
}

func (r *docValuesReader) close() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}
