package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/vellum"

	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/model"
)

const (
	termsCodec          = "LexgoTermsDict"
	termsVersionStart   = 1
	termsVersionCurrent = termsVersionStart

	// docFreq u32, totalTermFreq u64, postings offset u64, postings length u64
	termMetaSize = 4 + 8 + 8 + 8
)

// termsDirEntry locates the dictionary of one field in the .tim file.
type termsDirEntry struct {
	field            int
	numTerms         int
	fstOffset        int64
	fstLength        int64
	metaOffset       int64
	sumDocFreq       int64
	sumTotalTermFreq int64
	docCount         int
}

// termsWriter builds one FST per field and appends it, followed by the
// fixed-width term metadata, to the .tim file.
type termsWriter struct {
	out      *codec.Output
	fst      bytes.Buffer
	builder  *vellum.Builder
	meta     bytes.Buffer
	entry    termsDirEntry
	docs     *roaring.Bitmap
	dir      []termsDirEntry
	lastTerm []byte
	hasTerm  bool
}

func (t *termsWriter) startField(number int) error {
	t.fst.Reset()
	t.meta.Reset()
	var err error
	if t.builder == nil {
		t.builder, err = vellum.New(&t.fst, nil)
	} else {
		err = t.builder.Reset(&t.fst)
	}
	if err != nil {
		return err
	}
	t.entry = termsDirEntry{field: number}
	t.docs = roaring.New()
	t.lastTerm = t.lastTerm[:0]
	t.hasTerm = false
	return nil
}

func (t *termsWriter) checkOrder(term []byte) error {
	if t.hasTerm && bytes.Compare(term, t.lastTerm) <= 0 {
		return fmt.Errorf("term %q not after %q", term, t.lastTerm)
	}
	t.lastTerm = append(t.lastTerm[:0], term...)
	t.hasTerm = true
	return nil
}

func (t *termsWriter) addTerm(term []byte, stats model.TermStats, offset, length int64) error {
	if err := t.builder.Insert(term, uint64(t.entry.numTerms)); err != nil {
		return err
	}
	var rec [termMetaSize]byte
	binary.BigEndian.PutUint32(rec[0:], uint32(stats.DocFreq))
	binary.BigEndian.PutUint64(rec[4:], uint64(stats.TotalTermFreq))
	binary.BigEndian.PutUint64(rec[12:], uint64(offset))
	binary.BigEndian.PutUint64(rec[20:], uint64(length))
	t.meta.Write(rec[:])
	t.entry.numTerms++
	t.entry.sumDocFreq += int64(stats.DocFreq)
	t.entry.sumTotalTermFreq += stats.TotalTermFreq
	return nil
}

func (t *termsWriter) finishField() error {
	if err := t.builder.Close(); err != nil {
		return err
	}
	if t.entry.numTerms == 0 {
		return nil
	}
	t.entry.docCount = int(t.docs.GetCardinality())
	t.entry.fstOffset = t.out.Offset()
	t.entry.fstLength = int64(t.fst.Len())
	if _, err := t.out.Write(t.fst.Bytes()); err != nil {
		return err
	}
	t.entry.metaOffset = t.out.Offset()
	if _, err := t.out.Write(t.meta.Bytes()); err != nil {
		return err
	}
	t.dir = append(t.dir, t.entry)
	return nil
}

func (t *termsWriter) finish() error {
	dirOffset := t.out.Offset()
	if err := t.out.WriteUvarint(uint64(len(t.dir))); err != nil {
		return err
	}
	for _, e := range t.dir {
		for _, v := range []uint64{
			uint64(e.field), uint64(e.numTerms), uint64(e.fstOffset), uint64(e.fstLength),
			uint64(e.metaOffset), uint64(e.sumDocFreq), uint64(e.sumTotalTermFreq), uint64(e.docCount),
		} {
			if err := t.out.WriteUvarint(v); err != nil {
				return err
			}
		}
	}
	if err := t.out.WriteUint64(uint64(dirOffset)); err != nil {
		return err
	}
	return codec.WriteFooter(t.out)
}

func readTermsDirectory(data []byte, name string) ([]termsDirEntry, error) {
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
	dir := make([]termsDirEntry, n)
	for i := range dir {
		var vals [8]uint64
		for j := range vals {
			if vals[j], err = in.ReadUvarint(); err != nil {
				return nil, err
			}
		}
		e := termsDirEntry{
			field: int(vals[0]), numTerms: int(vals[1]), fstOffset: int64(vals[2]), fstLength: int64(vals[3]),
			metaOffset: int64(vals[4]), sumDocFreq: int64(vals[5]), sumTotalTermFreq: int64(vals[6]), docCount: int(vals[7]),
		}
		if e.fstOffset+e.fstLength > dirOffset || e.metaOffset+int64(e.numTerms)*termMetaSize > dirOffset {
			return nil, codec.Corruptf(name, "field %d dictionary beyond directory", e.field)
		}
		dir[i] = e
	}
	return dir, nil
}

// TermInfo is the dictionary entry of a term.
type TermInfo struct {
	Stats model.TermStats
	ord   uint64
	off   int64
	len   int64
}

// Terms is the term dictionary of one field.
type Terms struct {
	r     *Reader
	field FieldInfo
	entry termsDirEntry
	fst   *vellum.FST
	meta  []byte
}

// Field returns the field info.
func (t *Terms) Field() FieldInfo { return t.field }

// Size returns the number of distinct terms.
func (t *Terms) Size() int { return t.entry.numTerms }

// SumDocFreq returns the sum of DocFreq over all terms.
func (t *Terms) SumDocFreq() int64 { return t.entry.sumDocFreq }

// SumTotalTermFreq returns the sum of TotalTermFreq over all terms.
func (t *Terms) SumTotalTermFreq() int64 { return t.entry.sumTotalTermFreq }

// DocCount returns the number of documents with at least one term.
func (t *Terms) DocCount() int { return t.entry.docCount }

func (t *Terms) termInfo(ord uint64) (TermInfo, error) {
	if ord >= uint64(t.entry.numTerms) {
		return TermInfo{}, codec.Corruptf(t.r.termsName, "term ordinal %d out of range", ord)
	}
	rec := t.meta[ord*termMetaSize : (ord+1)*termMetaSize]
	info := TermInfo{
		Stats: model.TermStats{
			DocFreq:       int(binary.BigEndian.Uint32(rec[0:])),
			TotalTermFreq: int64(binary.BigEndian.Uint64(rec[4:])),
		},
		ord: ord,
		off: int64(binary.BigEndian.Uint64(rec[12:])),
		len: int64(binary.BigEndian.Uint64(rec[20:])),
	}
	if info.off < 0 || info.len < 0 || info.off+info.len > int64(len(t.r.postingsData)) {
		return TermInfo{}, codec.Corruptf(t.r.postingsName, "postings of term %d out of bounds", ord)
	}
	return info, nil
}

// Lookup returns the entry of term.
func (t *Terms) Lookup(term []byte) (TermInfo, bool, error) {
	if err := t.r.ensureOpen(); err != nil {
		return TermInfo{}, false, err
	}
	ord, ok, err := t.fst.Get(term)
	if err != nil || !ok {
		return TermInfo{}, false, err
	}
	info, err := t.termInfo(ord)
	return info, err == nil, err
}

// Postings returns the postings of term, or nil when the term is absent.
func (t *Terms) Postings(term []byte) (*PostingsEnum, error) {
	info, ok, err := t.Lookup(term)
	if err != nil || !ok {
		return nil, err
	}
	return t.postings(info)
}

func (t *Terms) postings(info TermInfo) (*PostingsEnum, error) {
	if err := t.r.ensureOpen(); err != nil {
		return nil, err
	}
	data := t.r.postingsData[info.off : info.off+info.len]
	return newPostingsEnum(t.r, data, info.Stats.DocFreq, t.field.IndexOptions.HasPositions())
}

// Iterator enumerates the terms in [lo, hi) in byte order. A nil bound is
// open.
func (t *Terms) Iterator(lo, hi []byte) (*TermsEnum, error) {
	if err := t.r.ensureOpen(); err != nil {
		return nil, err
	}
	e := &TermsEnum{t: t}
	if hi != nil && bytes.Compare(lo, hi) >= 0 {
		e.done = true
		return e, nil
	}
	it, err := t.fst.Iterator(lo, hi)
	if errors.Is(err, vellum.ErrIteratorDone) {
		e.done = true
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	e.it = it
	return e, nil
}

// PrefixIterator enumerates the terms starting with prefix.
func (t *Terms) PrefixIterator(prefix []byte) (*TermsEnum, error) {
	return t.Iterator(prefix, prefixEnd(prefix))
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// TermsEnum walks a range of a term dictionary.
//
//	for e.Next() { ... }
//	if err := e.Err(); err != nil { ... }
type TermsEnum struct {
	t       *Terms
	it      *vellum.FSTIterator
	started bool
	done    bool
	term    []byte
	info    TermInfo
	err     error
}

// Next advances to the next term.
func (e *TermsEnum) Next() bool {
	if e.done || e.err != nil {
		return false
	}
	if err := e.t.r.ensureOpen(); err != nil {
		e.err = err
		return false
	}
	if e.started {
		if err := e.it.Next(); err != nil {
			if !errors.Is(err, vellum.ErrIteratorDone) {
				e.err = err
			}
			e.done = true
			return false
		}
	}
	e.started = true
	key, ord := e.it.Current()
	e.term = append(e.term[:0], key...)
	e.info, e.err = e.t.termInfo(ord)
	return e.err == nil
}

// Term returns the current term. The slice is reused by Next.
func (e *TermsEnum) Term() []byte { return e.term }

// Info returns the dictionary entry of the current term.
func (e *TermsEnum) Info() TermInfo { return e.info }

// Stats returns the statistics of the current term.
func (e *TermsEnum) Stats() model.TermStats { return e.info.Stats }

// Postings returns the postings of the current term.
func (e *TermsEnum) Postings() (*PostingsEnum, error) { return e.t.postings(e.info) }

// Err returns the error that stopped the enumeration, if any.
func (e *TermsEnum) Err() error { return e.err }

// Close releases the iterator.
func (e *TermsEnum) Close() error {
	e.done = true
	if e.it != nil {
		return e.it.Close()
	}
	return nil
}
