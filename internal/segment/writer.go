package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/model"
)

// ErrWriterClosed is returned when a Writer is used after Finish or Abort.
var ErrWriterClosed = errors.New("segment: writer closed")

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Compression of stored-field blocks. Defaults to CompressionLZ4.
	Compression *Compression
	// Diagnostics are recorded in the .si file. DiagTimestamp is added.
	Diagnostics map[string]string
	// Wrap, when set, wraps the writer of every data file. Merges use it
	// for I/O throttling and cancellation.
	Wrap func(io.Writer) io.Writer
}

type writerFile struct {
	name string
	blob blobstore.WritableBlob
	out  *codec.Output
	done bool
}

// Writer streams a new segment into a store. Calls must follow the order
//
//	for each indexed field in name order:
//	    StartField, then per term in byte order:
//	        StartTerm, AddPosting in doc order, FinishTerm
//	    FinishField
//	AddDocument in doc order (gaps are empty documents)
//	AddNumeric / AddBinary / AddSorted in doc order per field
//	Finish
//
// Term and doc-values calls may interleave with AddDocument. Any error
// means the caller should Abort the writer.
type Writer struct {
	store    blobstore.BlobStore
	name     string
	id       uuid.UUID
	docCount int
	fields   *FieldInfos
	opts     WriterOptions
	comp     Compression

	terms, postings, stored, docValues *writerFile

	tw   termsWriter
	sw   storedWriter
	dvw  docValuesWriter
	pb   postingsBuffer
	term []byte

	field     FieldInfo
	inField   bool
	inTerm    bool
	lastField int
	closed    bool
	published []string
}

// NewWriter creates the data files of segment name. docCount is the number
// of documents the segment will hold.
func NewWriter(ctx context.Context, store blobstore.BlobStore, name string, docCount int, fields *FieldInfos, opts WriterOptions) (*Writer, error) {
	if docCount <= 0 {
		return nil, fmt.Errorf("segment %s: doc count must be positive, got %d", name, docCount)
	}
	comp := CompressionLZ4
	if opts.Compression != nil {
		comp = *opts.Compression
	}
	if !comp.valid() {
		return nil, fmt.Errorf("segment %s: unknown compression %d", name, comp)
	}
	w := &Writer{
		store:     store,
		name:      name,
		id:        uuid.New(),
		docCount:  docCount,
		fields:    fields,
		opts:      opts,
		comp:      comp,
		lastField: -1,
	}
	var err error
	if w.terms, err = w.create(ctx, ExtTerms, termsCodec, termsVersionCurrent); err != nil {
		return nil, w.abortWith(ctx, err)
	}
	if w.postings, err = w.create(ctx, ExtPostings, postingsCodec, postingsVersionCurrent); err != nil {
		return nil, w.abortWith(ctx, err)
	}
	if w.stored, err = w.create(ctx, ExtStored, storedCodec, storedVersionCurrent); err != nil {
		return nil, w.abortWith(ctx, err)
	}
	if err := w.stored.out.WriteByte(byte(comp)); err != nil {
		return nil, w.abortWith(ctx, err)
	}
	if w.docValues, err = w.create(ctx, ExtDocValues, docValuesCodec, docValuesVersionCurrent); err != nil {
		return nil, w.abortWith(ctx, err)
	}
	w.tw.out = w.terms.out
	w.sw.out = w.stored.out
	w.sw.comp = comp
	w.dvw.out = w.docValues.out
	return w, nil
}

func (w *Writer) create(ctx context.Context, ext, codecName string, version int32) (*writerFile, error) {
	name := FileName(w.name, ext)
	blob, err := w.store.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	var sink io.Writer = blob
	if w.opts.Wrap != nil {
		sink = w.opts.Wrap(blob)
	}
	f := &writerFile{name: name, blob: blob, out: codec.NewOutput(sink, name)}
	if err := codec.WriteHeader(f.out, codecName, version, w.id[:]); err != nil {
		_ = blob.Abort()
		return nil, err
	}
	return f, nil
}

// Name returns the segment name.
func (w *Writer) Name() string { return w.name }

// ID returns the segment id.
func (w *Writer) ID() uuid.UUID { return w.id }

func (w *Writer) check() error {
	if w.closed {
		return ErrWriterClosed
	}
	return nil
}

// StartField begins the terms of an indexed field.
func (w *Writer) StartField(name string) error {
	if err := w.check(); err != nil {
		return err
	}
	if w.inField {
		return fmt.Errorf("field %q still open", w.field.Name)
	}
	f, ok := w.fields.Field(name)
	if !ok || !f.IndexOptions.Indexed() {
		return fmt.Errorf("field %q is not indexed", name)
	}
	if f.Number <= w.lastField {
		return fmt.Errorf("field %q out of order", name)
	}
	if err := w.tw.startField(f.Number); err != nil {
		return err
	}
	w.field = f
	w.inField = true
	w.lastField = f.Number
	return nil
}

// StartTerm begins a term of the current field. Terms must be strictly
// increasing in byte order.
func (w *Writer) StartTerm(term []byte) error {
	if err := w.check(); err != nil {
		return err
	}
	if !w.inField || w.inTerm {
		return errors.New("StartTerm outside of a field or inside a term")
	}
	if err := w.tw.checkOrder(term); err != nil {
		return fmt.Errorf("field %q: %w", w.field.Name, err)
	}
	w.term = append(w.term[:0], term...)
	w.pb.reset()
	w.inTerm = true
	return nil
}

// AddPosting adds one document of the current term. freq is ignored and
// taken as 1 when the field does not index frequencies. positions are
// required exactly when the field indexes positions.
func (w *Writer) AddPosting(doc, freq int, positions []Position) error {
	if err := w.check(); err != nil {
		return err
	}
	if !w.inTerm {
		return errors.New("AddPosting outside of a term")
	}
	if doc < 0 || doc >= w.docCount {
		return fmt.Errorf("doc %d out of range [0,%d)", doc, w.docCount)
	}
	withPositions := w.field.IndexOptions.HasPositions()
	if !w.field.IndexOptions.HasFreqs() {
		freq = 1
	}
	if !withPositions {
		positions = nil
	}
	if err := w.pb.add(doc, freq, positions, withPositions); err != nil {
		return fmt.Errorf("field %q term %q: %w", w.field.Name, w.term, err)
	}
	w.tw.docs.Add(uint32(doc))
	return nil
}

// FinishTerm writes the current term. A term without postings is dropped.
func (w *Writer) FinishTerm() error {
	if err := w.check(); err != nil {
		return err
	}
	if !w.inTerm {
		return errors.New("FinishTerm outside of a term")
	}
	w.inTerm = false
	if w.pb.docFreq == 0 {
		return nil
	}
	offset := w.postings.out.Offset()
	if err := w.pb.writeTo(w.postings.out); err != nil {
		return err
	}
	stats := model.TermStats{DocFreq: w.pb.docFreq, TotalTermFreq: w.pb.totalFreq}
	return w.tw.addTerm(w.term, stats, offset, w.postings.out.Offset()-offset)
}

// FinishField writes the dictionary of the current field.
func (w *Writer) FinishField() error {
	if err := w.check(); err != nil {
		return err
	}
	if !w.inField || w.inTerm {
		return errors.New("FinishField outside of a field or inside a term")
	}
	w.inField = false
	return w.tw.finishField()
}

// AddDocument adds the stored fields of doc. Documents must be added in
// increasing order; skipped documents have no stored fields.
func (w *Writer) AddDocument(doc int, fields []model.StoredField) error {
	if err := w.check(); err != nil {
		return err
	}
	if doc < w.sw.docs || doc >= w.docCount {
		return fmt.Errorf("stored doc %d out of order or range (next %d, count %d)", doc, w.sw.docs, w.docCount)
	}
	for w.sw.docs < doc {
		if err := w.sw.addDocument(w.fields, nil); err != nil {
			return err
		}
	}
	return w.sw.addDocument(w.fields, fields)
}

func (w *Writer) docValuesField(name string, doc int) (FieldInfo, error) {
	if err := w.check(); err != nil {
		return FieldInfo{}, err
	}
	if doc < 0 || doc >= w.docCount {
		return FieldInfo{}, fmt.Errorf("doc %d out of range [0,%d)", doc, w.docCount)
	}
	f, ok := w.fields.Field(name)
	if !ok {
		return FieldInfo{}, fmt.Errorf("unknown field %q", name)
	}
	return f, nil
}

// AddNumeric sets the numeric doc value of doc.
func (w *Writer) AddNumeric(field string, doc int, v int64) error {
	f, err := w.docValuesField(field, doc)
	if err != nil {
		return err
	}
	return w.dvw.addNumeric(f, doc, v)
}

// AddBinary sets the binary doc value of doc.
func (w *Writer) AddBinary(field string, doc int, v []byte) error {
	f, err := w.docValuesField(field, doc)
	if err != nil {
		return err
	}
	return w.dvw.addBytes(f, model.DocValuesBinary, doc, v)
}

// AddSorted sets the sorted doc value of doc.
func (w *Writer) AddSorted(field string, doc int, v []byte) error {
	f, err := w.docValuesField(field, doc)
	if err != nil {
		return err
	}
	return w.dvw.addBytes(f, model.DocValuesSorted, doc, v)
}

// Finish completes every file, writes the .si file last and returns the
// segment info. On error the segment is aborted.
func (w *Writer) Finish(ctx context.Context) (*Info, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	if w.inField || w.inTerm {
		return nil, w.abortWith(ctx, errors.New("Finish with an open field or term"))
	}
	for w.sw.docs < w.docCount {
		if err := w.sw.addDocument(w.fields, nil); err != nil {
			return nil, w.abortWith(ctx, err)
		}
	}
	steps := []struct {
		f      *writerFile
		finish func() error
	}{
		{w.terms, w.tw.finish},
		{w.postings, func() error { return codec.WriteFooter(w.postings.out) }},
		{w.stored, w.sw.finish},
		{w.docValues, w.dvw.finish},
	}
	var size int64
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, w.abortWith(ctx, err)
		}
		if err := s.finish(); err != nil {
			return nil, w.abortWith(ctx, fmt.Errorf("write %s: %w", s.f.name, err))
		}
		s.f.done = true
		if err := s.f.blob.Close(); err != nil {
			return nil, w.abortWith(ctx, fmt.Errorf("close %s: %w", s.f.name, err))
		}
		w.published = append(w.published, s.f.name)
		size += s.f.out.Offset()
	}

	diag := make(map[string]string, len(w.opts.Diagnostics)+1)
	for k, v := range w.opts.Diagnostics {
		diag[k] = v
	}
	diag[DiagTimestamp] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	info := &Info{
		Name:        w.name,
		ID:          w.id,
		Format:      DefaultFormat,
		DocCount:    w.docCount,
		Fields:      w.fields,
		Diagnostics: diag,
		Attributes:  map[string]string{AttrCompression: w.comp.String()},
		Files:       append(append([]string(nil), w.published...), FileName(w.name, ExtInfo)),
		SizeBytes:   size,
	}
	if _, err := WriteInfo(ctx, w.store, info); err != nil {
		return nil, w.abortWith(ctx, err)
	}
	w.closed = true
	w.published = nil
	return info, nil
}

// Abort discards every file written so far. It is safe to call more than
// once and after a failed Finish.
func (w *Writer) Abort(ctx context.Context) error {
	if w.closed && w.published == nil {
		return nil
	}
	w.closed = true
	var errs []error
	for _, f := range []*writerFile{w.terms, w.postings, w.stored, w.docValues} {
		if f != nil && !f.done {
			f.done = true
			if err := f.blob.Abort(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, name := range w.published {
		if err := w.store.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	w.published = nil
	return errors.Join(errs...)
}

func (w *Writer) abortWith(ctx context.Context, err error) error {
	if aerr := w.Abort(ctx); aerr != nil {
		return errors.Join(err, aerr)
	}
	return err
}
