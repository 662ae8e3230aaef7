package segment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/vellum"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/internal/mmap"
	"github.com/hupe1980/lexgo/model"
)

// ErrReaderClosed is returned when a Reader or one of its enumerators is
// used after Close.
var ErrReaderClosed = errors.New("segment: reader closed")

// ReaderOption configures a Reader.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	verify bool
	cache  cache.BlockCache
}

// WithVerifyChecksums controls whether the full checksum of every file is
// verified on open. Footers are always validated. Enabled by default.
func WithVerifyChecksums(verify bool) ReaderOption {
	return func(c *readerConfig) { c.verify = verify }
}

// WithBlockCache caches decompressed stored-field blocks in c.
func WithBlockCache(c cache.BlockCache) ReaderOption {
	return func(rc *readerConfig) { rc.cache = c }
}

// Reader gives read access to one segment. It is safe for concurrent use;
// enumerators it returns are not.
type Reader struct {
	info  *Info
	store blobstore.BlobStore
	blobs []blobstore.Blob

	termsName, postingsName string
	termsData, postingsData []byte

	terms     map[int]*Terms
	stored    *storedReader
	docValues *docValuesReader
	size      int64

	closed atomic.Bool
}

func openReader(ctx context.Context, store blobstore.BlobStore, info *Info, opts ...ReaderOption) (*Reader, error) {
	cfg := readerConfig{verify: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &Reader{info: info, store: store, terms: make(map[int]*Terms)}
	ok := false
	defer func() {
		if !ok {
			r.closeBlobs()
		}
	}()

	load := func(ext, codecName string, minV, maxV int32) (string, []byte, error) {
		name := FileName(info.Name, ext)
		b, err := store.Open(ctx, name)
		if err != nil {
			return "", nil, fmt.Errorf("open %s: %w", name, err)
		}
		r.blobs = append(r.blobs, b)
		data, err := blobstore.ReadAll(ctx, b)
		if err != nil {
			return "", nil, fmt.Errorf("read %s: %w", name, err)
		}
		if cfg.verify {
			_, err = codec.CheckFooter(data, name)
		} else {
			_, err = codec.ValidateFooter(data, name)
		}
		if err != nil {
			return "", nil, err
		}
		if _, err := codec.CheckHeader(codec.NewInput(data, name), codecName, minV, maxV, info.ID[:]); err != nil {
			return "", nil, err
		}
		r.size += int64(len(data))
		return name, data, nil
	}

	var err error
	if r.termsName, r.termsData, err = load(ExtTerms, termsCodec, termsVersionStart, termsVersionCurrent); err != nil {
		return nil, err
	}
	if r.postingsName, r.postingsData, err = load(ExtPostings, postingsCodec, postingsVersionStart, postingsVersionCurrent); err != nil {
		return nil, err
	}
	storedName, storedData, err := load(ExtStored, storedCodec, storedVersionStart, storedVersionCurrent)
	if err != nil {
		return nil, err
	}
	dvName, dvData, err := load(ExtDocValues, docValuesCodec, docValuesVersionStart, docValuesVersionCurrent)
	if err != nil {
		return nil, err
	}

	dir, err := readTermsDirectory(r.termsData, r.termsName)
	if err != nil {
		return nil, err
	}
	for _, e := range dir {
		f, ok := info.Fields.ByNumber(e.field)
		if !ok || !f.IndexOptions.Indexed() {
			return nil, codec.Corruptf(r.termsName, "terms for unknown field %d", e.field)
		}
		fst, err := vellum.Load(r.termsData[e.fstOffset : e.fstOffset+e.fstLength])
		if err != nil {
			return nil, &codec.CorruptError{Resource: r.termsName, Reason: fmt.Sprintf("field %q", f.Name), Err: err}
		}
		if fst.Len() != e.numTerms {
			return nil, codec.Corruptf(r.termsName, "field %q: fst holds %d terms, directory %d", f.Name, fst.Len(), e.numTerms)
		}
		r.terms[e.field] = &Terms{
			r:     r,
			field: f,
			entry: e,
			fst:   fst,
			meta:  r.termsData[e.metaOffset : e.metaOffset+int64(e.numTerms)*termMetaSize],
		}
	}
	if r.stored, err = openStored(storedData, storedName, info.DocCount); err != nil {
		return nil, err
	}
	r.stored.cache = cfg.cache
	if r.docValues, err = openDocValues(dvData, dvName); err != nil {
		return nil, err
	}
	ok = true
	return r, nil
}

func (r *Reader) ensureOpen() error {
	if r.closed.Load() {
		return ErrReaderClosed
	}
	return nil
}

// Info returns the segment info.
func (r *Reader) Info() *Info { return r.info }

// Name returns the segment name.
func (r *Reader) Name() string { return r.info.Name }

// MaxDoc returns the number of documents, deleted ones included.
func (r *Reader) MaxDoc() int { return r.info.DocCount }

// FieldInfos returns the field table.
func (r *Reader) FieldInfos() *FieldInfos { return r.info.Fields }

// Size returns the total size of the data files in bytes.
func (r *Reader) Size() int64 { return r.size }

// Terms returns the dictionary of field, or nil when the field has no terms.
func (r *Reader) Terms(field string) (*Terms, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	f, ok := r.info.Fields.Field(field)
	if !ok {
		return nil, nil
	}
	return r.terms[f.Number], nil
}

// DocFreq returns the number of documents containing term in field.
func (r *Reader) DocFreq(field string, term []byte) (int, error) {
	t, err := r.Terms(field)
	if err != nil || t == nil {
		return 0, err
	}
	info, ok, err := t.Lookup(term)
	if err != nil || !ok {
		return 0, err
	}
	return info.Stats.DocFreq, nil
}

// Postings returns the postings of term in field, or nil when absent.
func (r *Reader) Postings(field string, term []byte) (*PostingsEnum, error) {
	t, err := r.Terms(field)
	if err != nil || t == nil {
		return nil, err
	}
	return t.Postings(term)
}

// DocsInTermRange adds to dst every document containing a term of field in
// [lo, hi]. A nil bound is open.
func (r *Reader) DocsInTermRange(ctx context.Context, field string, lo, hi []byte, dst *roaring.Bitmap) error {
	t, err := r.Terms(field)
	if err != nil || t == nil {
		return err
	}
	var end []byte
	if hi != nil {
		end = append(append(make([]byte, 0, len(hi)+1), hi...), 0)
	}
	e, err := t.Iterator(lo, end)
	if err != nil {
		return err
	}
	defer e.Close()
	for e.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := e.Postings()
		if err != nil {
			return err
		}
		for {
			doc, err := p.Next()
			if err != nil {
				return err
			}
			if doc == model.NoMoreDocs {
				break
			}
			dst.Add(uint32(doc))
		}
	}
	return e.Err()
}

// Document returns the stored fields of doc.
func (r *Reader) Document(ctx context.Context, doc int) (model.StoredDocument, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.stored.document(ctx, r.info.Fields, doc)
}

func (r *Reader) docValuesField(field string) (FieldInfo, bool, error) {
	if err := r.ensureOpen(); err != nil {
		return FieldInfo{}, false, err
	}
	f, ok := r.info.Fields.Field(field)
	return f, ok, nil
}

// NumericDocValues returns the numeric column of field, or nil when no
// document has a value.
func (r *Reader) NumericDocValues(field string) (*NumericDocValues, error) {
	f, ok, err := r.docValuesField(field)
	if err != nil || !ok {
		return nil, err
	}
	v, err := r.docValues.load(f, model.DocValuesNumeric)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*NumericDocValues), nil
}

// BinaryDocValues returns the binary column of field, or nil when no
// document has a value.
func (r *Reader) BinaryDocValues(field string) (*BinaryDocValues, error) {
	f, ok, err := r.docValuesField(field)
	if err != nil || !ok {
		return nil, err
	}
	v, err := r.docValues.load(f, model.DocValuesBinary)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*BinaryDocValues), nil
}

// SortedDocValues returns the sorted column of field, or nil when no
// document has a value.
func (r *Reader) SortedDocValues(field string) (*SortedDocValues, error) {
	f, ok, err := r.docValuesField(field)
	if err != nil || !ok {
		return nil, err
	}
	v, err := r.docValues.load(f, model.DocValuesSorted)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*SortedDocValues), nil
}

// Advise passes an access-pattern hint to memory-mapped files.
func (r *Reader) Advise(pattern mmap.AccessPattern) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	var errs []error
	for _, b := range r.blobs {
		if a, ok := b.(interface{ Advise(mmap.AccessPattern) error }); ok {
			if err := a.Advise(pattern); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// CheckIntegrity re-reads every file of the segment from the store and
// verifies its checksum.
func (r *Reader) CheckIntegrity(ctx context.Context) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	for _, name := range r.info.Files {
		b, err := r.store.Open(ctx, name)
		if err != nil {
			return err
		}
		err = codec.VerifyChecksum(ctx, b, name)
		if cerr := b.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the files and caches of the reader. It is idempotent.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.docValues.close()
	return r.closeBlobs()
}

func (r *Reader) closeBlobs() error {
	var errs []error
	for _, b := range r.blobs {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.blobs = nil
	return errors.Join(errs...)
}
