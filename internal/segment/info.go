package segment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/model"
)

// File extensions.
const (
	ExtInfo      = "si"
	ExtTerms     = "tim"
	ExtPostings  = "doc"
	ExtStored    = "fdt"
	ExtDocValues = "dvd"
)

// Diagnostics keys.
const (
	DiagSource      = "source"
	DiagMergeInputs = "merge_inputs"
	DiagTimestamp   = "timestamp"

	SourceFlush = "flush"
	SourceMerge = "merge"
)

// AttrCompression records the stored-field compression of a segment.
const AttrCompression = "stored.compression"

const (
	infoCodec          = "LexgoSegmentInfo"
	infoVersionStart   = 1
	infoVersionCurrent = infoVersionStart
)

// FileName returns the name of the segment file with extension ext.
func FileName(segment, ext string) string {
	return segment + "." + ext
}

// SegmentName returns the segment name of a segment file, or "" when file
// does not belong to a segment.
func SegmentName(file string) string {
	if len(file) < 2 || file[0] != '_' {
		return ""
	}
	if i := strings.IndexAny(file[1:], "._"); i >= 0 {
		return file[:i+1]
	}
	return ""
}

// FieldInfo describes one field of a segment.
type FieldInfo struct {
	Name         string
	Number       int
	IndexOptions model.IndexOptions
	DocValues    model.DocValuesType
	Stored       bool
	HasPayloads  bool
}

// Merge folds o into f. Index options widen, doc values types must agree.
func (f *FieldInfo) Merge(o FieldInfo) error {
	if o.IndexOptions > f.IndexOptions {
		f.IndexOptions = o.IndexOptions
	}
	if o.DocValues != model.DocValuesNone {
		if f.DocValues != model.DocValuesNone && f.DocValues != o.DocValues {
			return fmt.Errorf("field %q: doc values type %s conflicts with %s", f.Name, o.DocValues, f.DocValues)
		}
		f.DocValues = o.DocValues
	}
	f.Stored = f.Stored || o.Stored
	f.HasPayloads = f.HasPayloads || o.HasPayloads
	return nil
}

// FieldInfos is the immutable, name-ordered field table of a segment.
// Field numbers are positions in name order.
type FieldInfos struct {
	fields []FieldInfo
	byName map[string]int
}

// NewFieldInfos sorts fields by name and numbers them. Duplicate names are
// merged.
func NewFieldInfos(fields []FieldInfo) (*FieldInfos, error) {
	byName := make(map[string]int, len(fields))
	var list []FieldInfo
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field name must not be empty")
		}
		if i, ok := byName[f.Name]; ok {
			if err := list[i].Merge(f); err != nil {
				return nil, err
			}
			continue
		}
		byName[f.Name] = len(list)
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	for i := range list {
		list[i].Number = i
		byName[list[i].Name] = i
	}
	return &FieldInfos{fields: list, byName: byName}, nil
}

// Len returns the number of fields.
func (f *FieldInfos) Len() int { return len(f.fields) }

// Field returns the field called name.
func (f *FieldInfos) Field(name string) (FieldInfo, bool) {
	i, ok := f.byName[name]
	if !ok {
		return FieldInfo{}, false
	}
	return f.fields[i], true
}

// ByNumber returns the field with number n.
func (f *FieldInfos) ByNumber(n int) (FieldInfo, bool) {
	if n < 0 || n >= len(f.fields) {
		return FieldInfo{}, false
	}
	return f.fields[n], true
}

// All returns the fields in number order. Callers must not modify the result.
func (f *FieldInfos) All() []FieldInfo { return f.fields }

// Info describes a written segment.
type Info struct {
	Name        string
	ID          uuid.UUID
	Format      string
	DocCount    int
	Fields      *FieldInfos
	Diagnostics map[string]string
	Attributes  map[string]string
	// Files lists every file of the segment, the .si file included.
	Files []string
	// SizeBytes is the total size of the data files.
	SizeBytes int64
}

// Source returns the diagnostics source (flush or merge).
func (i *Info) Source() string { return i.Diagnostics[DiagSource] }

// WriteInfo writes the .si file of info. It must be the last file of a
// segment to be written.
func WriteInfo(ctx context.Context, store blobstore.BlobStore, info *Info) (int64, error) {
	name := FileName(info.Name, ExtInfo)
	w, err := store.Create(ctx, name)
	if err != nil {
		return 0, err
	}
	out := codec.NewOutput(w, name)
	if err := encodeInfo(out, info); err != nil {
		_ = w.Abort()
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	return out.Offset(), nil
}

func encodeInfo(out *codec.Output, info *Info) error {
	if err := codec.WriteHeader(out, infoCodec, infoVersionCurrent, info.ID[:]); err != nil {
		return err
	}
	if err := out.WriteString(info.Format); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(info.DocCount)); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(info.SizeBytes)); err != nil {
		return err
	}
	fields := info.Fields.All()
	if err := out.WriteUvarint(uint64(len(fields))); err != nil {
		return err
	}
	for _, f := range fields {
		if err := out.WriteString(f.Name); err != nil {
			return err
		}
		if err := out.WriteByte(byte(f.IndexOptions)); err != nil {
			return err
		}
		if err := out.WriteByte(byte(f.DocValues)); err != nil {
			return err
		}
		var flags byte
		if f.Stored {
			flags |= 1
		}
		if f.HasPayloads {
			flags |= 2
		}
		if err := out.WriteByte(flags); err != nil {
			return err
		}
	}
	if err := writeStringMap(out, info.Diagnostics); err != nil {
		return err
	}
	if err := writeStringMap(out, info.Attributes); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(len(info.Files))); err != nil {
		return err
	}
	for _, f := range info.Files {
		if err := out.WriteString(f); err != nil {
			return err
		}
	}
	return codec.WriteFooter(out)
}

// ReadInfo reads the .si file of segment.
func ReadInfo(ctx context.Context, store blobstore.BlobStore, segment string) (*Info, error) {
	name := FileName(segment, ExtInfo)
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, err
	}
	if _, err := codec.CheckFooter(data, name); err != nil {
		return nil, err
	}
	in := codec.NewInput(data[:len(data)-codec.FooterLength], name)
	if _, err := codec.CheckHeader(in, infoCodec, infoVersionStart, infoVersionCurrent, nil); err != nil {
		return nil, err
	}
	info := &Info{Name: segment}
	copy(info.ID[:], data[in.Pos()-codec.IDLength:in.Pos()])
	if err := decodeInfo(in, info); err != nil {
		return nil, err
	}
	return info, nil
}

func decodeInfo(in *codec.Input, info *Info) error {
	var err error
	if info.Format, err = in.ReadString(); err != nil {
		return err
	}
	if info.DocCount, err = in.ReadInt(); err != nil {
		return err
	}
	size, err := in.ReadUvarint()
	if err != nil {
		return err
	}
	info.SizeBytes = int64(size)
	numFields, err := in.ReadInt()
	if err != nil {
		return err
	}
	fields := make([]FieldInfo, 0, numFields)
	for i := 0; i < numFields; i++ {
		var f FieldInfo
		if f.Name, err = in.ReadString(); err != nil {
			return err
		}
		opts, err := in.ReadByte()
		if err != nil {
			return err
		}
		dv, err := in.ReadByte()
		if err != nil {
			return err
		}
		flags, err := in.ReadByte()
		if err != nil {
			return err
		}
		if opts > byte(model.IndexDocsFreqsPositions) || dv > byte(model.DocValuesSorted) {
			return codec.Corruptf(in.Name(), "field %q: invalid options %d/%d", f.Name, opts, dv)
		}
		f.IndexOptions = model.IndexOptions(opts)
		f.DocValues = model.DocValuesType(dv)
		f.Stored = flags&1 != 0
		f.HasPayloads = flags&2 != 0
		if len(fields) > 0 && fields[len(fields)-1].Name >= f.Name {
			return codec.Corruptf(in.Name(), "field infos out of order at %q", f.Name)
		}
		fields = append(fields, f)
	}
	if info.Fields, err = NewFieldInfos(fields); err != nil {
		return err
	}
	if info.Diagnostics, err = readStringMap(in); err != nil {
		return err
	}
	if info.Attributes, err = readStringMap(in); err != nil {
		return err
	}
	numFiles, err := in.ReadInt()
	if err != nil {
		return err
	}
	info.Files = make([]string, numFiles)
	for i := range info.Files {
		if info.Files[i], err = in.ReadString(); err != nil {
			return err
		}
	}
	if in.Remaining() != 0 {
		return codec.Corruptf(in.Name(), "%d trailing bytes", in.Remaining())
	}
	return nil
}

func writeStringMap(out *codec.Output, m map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := out.WriteUvarint(uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := out.WriteString(k); err != nil {
			return err
		}
		if err := out.WriteString(m[k]); err != nil {
			return err
		}
	}
	return nil
}

func readStringMap(in *codec.Input) (map[string]string, error) {
	n, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
