package memtable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/livedocs"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/model"
)

// ErrFrozen is returned when a frozen buffer is modified.
var ErrFrozen = errors.New("memtable: buffer is frozen")

// Per-entry overheads used for memory accounting.
const (
	termOverhead    = 64
	postingOverhead = 24
	storedOverhead  = 48
)

type termPostings struct {
	docs      []int
	freqs     []int
	positions [][]segment.Position
}

type fieldBuffer struct {
	info   segment.FieldInfo
	terms  map[string]*termPostings
	values column
}

// Buffer is an in-memory segment under construction. It is not safe for
// concurrent use; the engine serializes access.
type Buffer struct {
	fields  map[string]*fieldBuffer
	stored  map[int][]model.StoredField
	numDocs int
	deleted *roaring.Bitmap
	bytes   int64
	rc      *resource.Controller
	frozen  bool
}

// New returns an empty buffer that reserves its memory in rc.
func New(rc *resource.Controller) *Buffer {
	return &Buffer{
		fields:  make(map[string]*fieldBuffer),
		stored:  make(map[int][]model.StoredField),
		deleted: roaring.New(),
		rc:      rc,
	}
}

// NumDocs returns the number of buffered documents, deleted ones included.
func (b *Buffer) NumDocs() int { return b.numDocs }

// NumDeleted returns the number of buffered documents deleted so far.
func (b *Buffer) NumDeleted() int { return int(b.deleted.GetCardinality()) }

// BytesUsed returns the estimated memory held by the buffer.
func (b *Buffer) BytesUsed() int64 { return b.bytes }

// Freeze makes the buffer read-only ahead of a flush.
func (b *Buffer) Freeze() { b.frozen = true }

func (b *Buffer) field(name string) *fieldBuffer {
	f, ok := b.fields[name]
	if !ok {
		f = &fieldBuffer{
			info:  segment.FieldInfo{Name: name},
			terms: make(map[string]*termPostings),
		}
		b.fields[name] = f
	}
	return f
}

// AddDocument buffers doc and returns its buffer-local id. When the memory
// reservation fails the document is not added and the error wraps
// resource.ErrMemoryLimitExceeded.
func (b *Buffer) AddDocument(doc *model.Document) (int, error) {
	if b.frozen {
		return 0, ErrFrozen
	}
	if err := doc.Validate(); err != nil {
		return 0, err
	}
	inv, err := invert(doc)
	if err != nil {
		return 0, err
	}
	if err := b.checkSchema(doc); err != nil {
		return 0, err
	}
	if err := b.rc.AcquireMemory(inv.size); err != nil {
		return 0, fmt.Errorf("buffer document: %w", err)
	}
	b.bytes += inv.size

	id := b.numDocs
	for _, t := range inv.terms {
		f := b.field(t.field)
		if t.opts > f.info.IndexOptions {
			f.info.IndexOptions = t.opts
		}
		if t.payloads {
			f.info.HasPayloads = true
		}
		tp, ok := f.terms[t.term]
		if !ok {
			tp = &termPostings{}
			f.terms[t.term] = tp
		}
		tp.docs = append(tp.docs, id)
		tp.freqs = append(tp.freqs, len(t.positions))
		tp.positions = append(tp.positions, t.positions)
	}
	var stored []model.StoredField
	for _, fd := range doc.Fields {
		if fd.Stored != nil {
			b.field(fd.Name).info.Stored = true
			stored = append(stored, model.StoredField{Name: fd.Name, Value: cloneStored(*fd.Stored)})
		}
		if fd.DocValue != nil {
			f := b.field(fd.Name)
			if f.values == nil {
				f.info.DocValues = fd.DocValue.Type
				f.values = newColumn(fd.DocValue.Type)
			}
			if err := f.values.set(id, *fd.DocValue); err != nil {
				return 0, fmt.Errorf("field %q: %w", fd.Name, err)
			}
		}
	}
	if stored != nil {
		b.stored[id] = stored
	}
	b.numDocs++
	return id, nil
}

// checkSchema rejects doc values whose type conflicts with earlier
// documents, before anything of doc is buffered.
func (b *Buffer) checkSchema(doc *model.Document) error {
	seen := map[string]bool{}
	for _, fd := range doc.Fields {
		if fd.DocValue == nil {
			continue
		}
		if seen[fd.Name] {
			return fmt.Errorf("field %q: more than one doc value", fd.Name)
		}
		seen[fd.Name] = true
		if f, ok := b.fields[fd.Name]; ok && f.info.DocValues != model.DocValuesNone && f.info.DocValues != fd.DocValue.Type {
			return fmt.Errorf("field %q: doc values type %s conflicts with %s", fd.Name, fd.DocValue.Type, f.info.DocValues)
		}
	}
	return nil
}

func cloneStored(v model.StoredValue) model.StoredValue {
	if v.Bytes != nil {
		v.Bytes = bytes.Clone(v.Bytes)
	}
	return v
}

type invertedTerm struct {
	field     string
	term      string
	opts      model.IndexOptions
	payloads  bool
	positions []segment.Position
}

type inverted struct {
	terms []invertedTerm
	size  int64
}

// invert turns the indexed fields of doc into per-term occurrences.
func invert(doc *model.Document) (*inverted, error) {
	inv := &inverted{}
	index := map[[2]string]int{}
	lastPos := map[string]int{}
	add := func(field string, opts model.IndexOptions, term []byte, pos int, payload []byte) {
		key := [2]string{field, string(term)}
		i, ok := index[key]
		if !ok {
			i = len(inv.terms)
			index[key] = i
			inv.terms = append(inv.terms, invertedTerm{field: field, term: string(term), opts: opts})
			inv.size += termOverhead + int64(len(term))
		}
		t := &inv.terms[i]
		if opts > t.opts {
			t.opts = opts
		}
		p := segment.Position{Pos: pos}
		if len(payload) > 0 {
			p.Payload = bytes.Clone(payload)
			t.payloads = true
			inv.size += int64(len(payload))
		}
		t.positions = append(t.positions, p)
		inv.size += postingOverhead
	}

	for _, f := range doc.Fields {
		switch {
		case f.Numeric != nil:
			terms, err := f.Numeric.Terms(f.Name)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			for _, t := range terms {
				add(t.Field, model.IndexDocs, t.Bytes, 0, nil)
			}
		case f.Index.Indexed() && f.Tokens != nil:
			if err := f.Tokens.Reset(); err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			pos, ok := lastPos[f.Name]
			if !ok {
				pos = -1
			}
			for {
				tok, err := f.Tokens.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", f.Name, err)
				}
				if tok.PositionIncrement < 0 {
					return nil, fmt.Errorf("field %q: negative position increment", f.Name)
				}
				pos += tok.PositionIncrement
				if pos < 0 {
					pos = 0
				}
				add(f.Name, f.Index, tok.Term, pos, tok.Payload)
			}
			lastPos[f.Name] = pos
		}
		if f.Stored != nil {
			inv.size += storedOverhead + int64(len(f.Stored.Str)+len(f.Stored.Bytes))
		}
		if f.DocValue != nil {
			inv.size += 16 + int64(len(f.DocValue.Bytes))
		}
	}
	return inv, nil
}

// DeleteTerm deletes every buffered document containing term in field and
// returns how many were newly deleted.
func (b *Buffer) DeleteTerm(field string, term []byte) (int, error) {
	if b.frozen {
		return 0, ErrFrozen
	}
	f, ok := b.fields[field]
	if !ok {
		return 0, nil
	}
	tp, ok := f.terms[string(term)]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, d := range tp.docs {
		if b.deleted.CheckedAdd(uint32(d)) {
			n++
		}
	}
	return n, nil
}

// Deleted returns the deleted buffered documents. Callers must not modify
// it.
func (b *Buffer) Deleted() *roaring.Bitmap { return b.deleted }

// FieldInfos returns the fields seen so far.
func (b *Buffer) FieldInfos() (*segment.FieldInfos, error) {
	infos := make([]segment.FieldInfo, 0, len(b.fields))
	for _, f := range b.fields {
		infos = append(infos, f.info)
	}
	return segment.NewFieldInfos(infos)
}

// Flush writes the buffer as segment name and returns its info and its
// initial live docs. When every buffered document has been deleted nothing
// is written and the info is nil. The buffer is frozen by Flush.
func (b *Buffer) Flush(ctx context.Context, store blobstore.BlobStore, name string, opts segment.WriterOptions) (*segment.Info, *livedocs.LiveDocs, error) {
	b.frozen = true
	if b.numDocs == 0 || b.NumDeleted() == b.numDocs {
		return nil, nil, nil
	}
	fields, err := b.FieldInfos()
	if err != nil {
		return nil, nil, err
	}
	w, err := segment.NewWriter(ctx, store, name, b.numDocs, fields, opts)
	if err != nil {
		return nil, nil, err
	}
	info, err := b.write(ctx, w, fields)
	if err != nil {
		if aerr := w.Abort(ctx); aerr != nil {
			err = errors.Join(err, aerr)
		}
		return nil, nil, fmt.Errorf("flush %s: %w", name, err)
	}
	var live *livedocs.LiveDocs
	if !b.deleted.IsEmpty() {
		live = livedocs.FromDeleted(b.numDocs, b.deleted.Clone())
	}
	return info, live, nil
}

func (b *Buffer) write(ctx context.Context, w *segment.Writer, fields *segment.FieldInfos) (*segment.Info, error) {
	for _, fi := range fields.All() {
		if !fi.IndexOptions.Indexed() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := b.fields[fi.Name]
		if err := w.StartField(fi.Name); err != nil {
			return nil, err
		}
		terms := make([]string, 0, len(f.terms))
		for t := range f.terms {
			terms = append(terms, t)
		}
		sort.Strings(terms)
		for _, t := range terms {
			tp := f.terms[t]
			if err := w.StartTerm([]byte(t)); err != nil {
				return nil, err
			}
			for i, d := range tp.docs {
				if err := w.AddPosting(d, tp.freqs[i], tp.positions[i]); err != nil {
					return nil, err
				}
			}
			if err := w.FinishTerm(); err != nil {
				return nil, err
			}
		}
		if err := w.FinishField(); err != nil {
			return nil, err
		}
	}

	docs := make([]int, 0, len(b.stored))
	for d := range b.stored {
		docs = append(docs, d)
	}
	sort.Ints(docs)
	for _, d := range docs {
		if err := w.AddDocument(d, b.stored[d]); err != nil {
			return nil, err
		}
	}
	for _, fi := range fields.All() {
		if f := b.fields[fi.Name]; f.values != nil {
			if err := f.values.flush(w, fi.Name); err != nil {
				return nil, err
			}
		}
	}
	return w.Finish(ctx)
}

// Release returns the memory reservation of the buffer.
func (b *Buffer) Release() {
	b.rc.ReleaseMemory(b.bytes)
	b.bytes = 0
}
