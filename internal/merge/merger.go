package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/livedocs"
	"github.com/hupe1980/lexgo/internal/mmap"
	"github.com/hupe1980/lexgo/internal/queue"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/model"
)

// ErrAborted is returned when a merge stops before completion. Its partial
// output has been removed.
var ErrAborted = errors.New("merge aborted")

// Source is one merge input: an open segment and the live docs to honour.
type Source struct {
	Reader   *segment.Reader
	LiveDocs *livedocs.LiveDocs // nil means every document is live
}

// Output names the segment a merge writes.
type Output struct {
	Store   blobstore.BlobStore
	Name    string
	Options segment.WriterOptions
}

// Result describes a finished merge.
type Result struct {
	// Info is nil when no input document was live; nothing was written.
	Info    *segment.Info
	DocMaps []DocMap
	NumDocs int
}

// Merger performs N-way merges of segments.
type Merger struct {
	// Aborted is polled between terms and between documents. A true result
	// stops the merge with ErrAborted.
	Aborted func() bool
	// VerifyInputs re-checks the checksums of every input before merging.
	VerifyInputs bool
	Logger       *slog.Logger
}

func (m *Merger) checkAbort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if m.Aborted != nil && m.Aborted() {
		return ErrAborted
	}
	return nil
}

// Merge writes the live documents of sources, in source order, into a new
// segment. On any error the partial output is deleted.
func (m *Merger) Merge(ctx context.Context, sources []Source, out Output) (*Result, error) {
	if len(sources) == 0 {
		return nil, errors.New("merge: no sources")
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	docMaps, numDocs := BuildDocMaps(sources)
	res := &Result{DocMaps: docMaps, NumDocs: numDocs}

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Reader.Name()
		if m.VerifyInputs {
			if err := s.Reader.CheckIntegrity(ctx); err != nil {
				return nil, fmt.Errorf("merge input %s: %w", names[i], err)
			}
		}
	}
	if numDocs == 0 {
		logger.Debug("merge inputs fully deleted", "inputs", names)
		return res, nil
	}
	if err := m.checkAbort(ctx); err != nil {
		return nil, err
	}

	for _, s := range sources {
		_ = s.Reader.Advise(mmap.AccessSequential)
	}
	defer func() {
		for _, s := range sources {
			_ = s.Reader.Advise(mmap.AccessDefault)
		}
	}()

	fields, err := mergeFieldInfos(sources)
	if err != nil {
		return nil, err
	}

	opts := out.Options
	diag := make(map[string]string, len(opts.Diagnostics)+2)
	for k, v := range opts.Diagnostics {
		diag[k] = v
	}
	diag[segment.DiagSource] = segment.SourceMerge
	diag[segment.DiagMergeInputs] = strings.Join(names, ",")
	opts.Diagnostics = diag
	if wrap := opts.Wrap; wrap != nil {
		opts.Wrap = func(w io.Writer) io.Writer { return &abortWriter{w: wrap(w), ctx: ctx, m: m} }
	} else {
		opts.Wrap = func(w io.Writer) io.Writer { return &abortWriter{w: w, ctx: ctx, m: m} }
	}

	w, err := segment.NewWriter(ctx, out.Store, out.Name, numDocs, fields, opts)
	if err != nil {
		return nil, err
	}
	if err := m.mergeTerms(ctx, w, fields, sources, docMaps); err != nil {
		return nil, abort(ctx, w, err)
	}
	if err := m.mergeStored(ctx, w, sources, docMaps); err != nil {
		return nil, abort(ctx, w, err)
	}
	if err := m.mergeDocValues(ctx, w, fields, sources, docMaps); err != nil {
		return nil, abort(ctx, w, err)
	}
	info, err := w.Finish(ctx)
	if err != nil {
		return nil, err
	}
	res.Info = info
	return res, nil
}

func abort(ctx context.Context, w *segment.Writer, err error) error {
	// The writer's files must go even when ctx is already cancelled.
	if aerr := w.Abort(context.WithoutCancel(ctx)); aerr != nil {
		return errors.Join(err, aerr)
	}
	return err
}

// mergeFieldInfos unions the fields of all inputs by name. Index options
// narrow to what every input that indexes the field recorded, so postings
// never claim data an input lacks.
func mergeFieldInfos(sources []Source) (*segment.FieldInfos, error) {
	var all []segment.FieldInfo
	narrow := make(map[string]model.IndexOptions)
	for _, s := range sources {
		for _, f := range s.Reader.FieldInfos().All() {
			all = append(all, f)
			if !f.IndexOptions.Indexed() {
				continue
			}
			if cur, ok := narrow[f.Name]; !ok || f.IndexOptions < cur {
				narrow[f.Name] = f.IndexOptions
			}
		}
	}
	union, err := segment.NewFieldInfos(all)
	if err != nil {
		return nil, err
	}
	fields := union.All()
	out := make([]segment.FieldInfo, len(fields))
	for i, f := range fields {
		if opt, ok := narrow[f.Name]; ok {
			f.IndexOptions = opt
		}
		if !f.IndexOptions.HasPositions() {
			f.HasPayloads = false
		}
		out[i] = f
	}
	return segment.NewFieldInfos(out)
}

type termSource struct {
	e   *segment.TermsEnum
	src int
}

func (m *Merger) mergeTerms(ctx context.Context, w *segment.Writer, fields *segment.FieldInfos, sources []Source, docMaps []DocMap) error {
	for _, f := range fields.All() {
		if !f.IndexOptions.Indexed() {
			continue
		}
		if err := m.mergeField(ctx, w, f, sources, docMaps); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

func (m *Merger) mergeField(ctx context.Context, w *segment.Writer, f segment.FieldInfo, sources []Source, docMaps []DocMap) error {
	h := queue.NewMin(func(a, b termSource) bool {
		if c := bytes.Compare(a.e.Term(), b.e.Term()); c != 0 {
			return c < 0
		}
		return a.src < b.src
	}, len(sources))

	var enums []*segment.TermsEnum
	defer func() {
		for _, e := range enums {
			_ = e.Close()
		}
	}()
	for i, s := range sources {
		if docMaps[i].NumLive() == 0 {
			continue
		}
		terms, err := s.Reader.Terms(f.Name)
		if err != nil {
			return err
		}
		if terms == nil {
			continue
		}
		e, err := terms.Iterator(nil, nil)
		if err != nil {
			return err
		}
		enums = append(enums, e)
		if e.Next() {
			h.Push(termSource{e: e, src: i})
		} else if err := e.Err(); err != nil {
			return err
		}
	}
	if h.Len() == 0 {
		return nil
	}

	if err := w.StartField(f.Name); err != nil {
		return err
	}
	withPositions := f.IndexOptions.HasPositions()
	var (
		term  []byte
		group []termSource
	)
	for h.Len() > 0 {
		if err := m.checkAbort(ctx); err != nil {
			return err
		}
		top, _ := h.Peek()
		term = append(term[:0], top.e.Term()...)
		group = group[:0]
		for h.Len() > 0 {
			t, _ := h.Peek()
			if !bytes.Equal(t.e.Term(), term) {
				break
			}
			h.Pop()
			group = append(group, t)
		}

		if err := w.StartTerm(term); err != nil {
			return err
		}
		for _, t := range group {
			if err := copyPostings(w, t.e, docMaps[t.src], withPositions); err != nil {
				return fmt.Errorf("term %q of %s: %w", term, sources[t.src].Reader.Name(), err)
			}
		}
		if err := w.FinishTerm(); err != nil {
			return err
		}

		for _, t := range group {
			if t.e.Next() {
				h.Push(t)
			} else if err := t.e.Err(); err != nil {
				return err
			}
		}
	}
	return w.FinishField()
}

func copyPostings(w *segment.Writer, e *segment.TermsEnum, dm DocMap, withPositions bool) error {
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
			return nil
		}
		newDoc := dm.Get(doc)
		if newDoc < 0 {
			continue
		}
		var positions []segment.Position
		if withPositions {
			if positions, err = p.Positions(); err != nil {
				return err
			}
		}
		if err := w.AddPosting(newDoc, p.Freq(), positions); err != nil {
			return err
		}
	}
}

func (m *Merger) mergeStored(ctx context.Context, w *segment.Writer, sources []Source, docMaps []DocMap) error {
	for i, s := range sources {
		dm := docMaps[i]
		for doc := 0; doc < dm.MaxDoc(); doc++ {
			newDoc := dm.Get(doc)
			if newDoc < 0 {
				continue
			}
			if err := m.checkAbort(ctx); err != nil {
				return err
			}
			stored, err := s.Reader.Document(ctx, doc)
			if err != nil {
				return fmt.Errorf("stored fields of %s doc %d: %w", s.Reader.Name(), doc, err)
			}
			if err := w.AddDocument(newDoc, stored); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Merger) mergeDocValues(ctx context.Context, w *segment.Writer, fields *segment.FieldInfos, sources []Source, docMaps []DocMap) error {
	for _, f := range fields.All() {
		if f.DocValues == model.DocValuesNone {
			continue
		}
		if err := m.checkAbort(ctx); err != nil {
			return err
		}
		for i, s := range sources {
			// A source that indexed the field without this column has no
			// values for it.
			local, ok := s.Reader.FieldInfos().Field(f.Name)
			if !ok || local.DocValues != f.DocValues {
				continue
			}
			if err := copyDocValues(w, f, s.Reader, docMaps[i]); err != nil {
				return fmt.Errorf("doc values %q of %s: %w", f.Name, s.Reader.Name(), err)
			}
		}
	}
	return nil
}

func copyDocValues(w *segment.Writer, f segment.FieldInfo, r *segment.Reader, dm DocMap) error {
	switch f.DocValues {
	case model.DocValuesNumeric:
		dv, err := r.NumericDocValues(f.Name)
		if err != nil || dv == nil {
			return err
		}
		it := dv.Docs().Iterator()
		for it.HasNext() {
			doc := int(it.Next())
			newDoc := dm.Get(doc)
			if newDoc < 0 {
				continue
			}
			v, _ := dv.Get(doc)
			if err := w.AddNumeric(f.Name, newDoc, v); err != nil {
				return err
			}
		}
	case model.DocValuesBinary:
		dv, err := r.BinaryDocValues(f.Name)
		if err != nil || dv == nil {
			return err
		}
		it := dv.Docs().Iterator()
		for it.HasNext() {
			doc := int(it.Next())
			newDoc := dm.Get(doc)
			if newDoc < 0 {
				continue
			}
			v, _ := dv.Get(doc)
			if err := w.AddBinary(f.Name, newDoc, v); err != nil {
				return err
			}
		}
	case model.DocValuesSorted:
		dv, err := r.SortedDocValues(f.Name)
		if err != nil || dv == nil {
			return err
		}
		it := dv.Docs().Iterator()
		for it.HasNext() {
			doc := int(it.Next())
			newDoc := dm.Get(doc)
			if newDoc < 0 {
				continue
			}
			v, _ := dv.Get(doc)
			if err := w.AddSorted(f.Name, newDoc, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// abortWriter stops file output once the merge is aborted, so a merge stuck
// in a large write still notices cancellation.
type abortWriter struct {
	w   io.Writer
	ctx context.Context
	m   *Merger
}

func (a *abortWriter) Write(p []byte) (int, error) {
	if err := a.m.checkAbort(a.ctx); err != nil {
		return 0, err
	}
	return a.w.Write(p)
}
