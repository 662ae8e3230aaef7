package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/hupe1980/lexgo/internal/cache"
	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/model"
)

const (
	storedCodec          = "LexgoStoredFields"
	storedVersionStart   = 1
	storedVersionCurrent = storedVersionStart

	storedBlockBytes = 16 * 1024
	storedBlockDocs  = 128
)

type storedBlock struct {
	firstDoc int
	offset   int64
}

// storedWriter buffers documents into blocks and compresses each block as a
// whole.
//
// Layout: header, compression byte, blocks, block index
// (uvarint numDocs, uvarint numBlocks, per block uvarint firstDoc and
// uvarint offset), uint64 index offset, footer.
type storedWriter struct {
	out     *codec.Output
	comp    Compression
	buf     bytes.Buffer
	block   []byte
	first   int
	docs    int
	index   []storedBlock
	scratch [binary.MaxVarintLen64]byte
}

func (s *storedWriter) uvarint(v uint64) {
	n := binary.PutUvarint(s.scratch[:], v)
	s.buf.Write(s.scratch[:n])
}

func (s *storedWriter) addDocument(fields *FieldInfos, doc []model.StoredField) error {
	if s.buf.Len() == 0 {
		s.first = s.docs
	}
	s.uvarint(uint64(len(doc)))
	for _, f := range doc {
		info, ok := fields.Field(f.Name)
		if !ok || !info.Stored {
			return fmt.Errorf("field %q is not a stored field", f.Name)
		}
		s.uvarint(uint64(info.Number))
		s.buf.WriteByte(byte(f.Value.Kind))
		switch f.Value.Kind {
		case model.StoredString:
			s.uvarint(uint64(len(f.Value.Str)))
			s.buf.WriteString(f.Value.Str)
		case model.StoredBytes:
			s.uvarint(uint64(len(f.Value.Bytes)))
			s.buf.Write(f.Value.Bytes)
		case model.StoredInt64:
			n := binary.PutVarint(s.scratch[:], f.Value.Int)
			s.buf.Write(s.scratch[:n])
		case model.StoredFloat64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(f.Value.Float))
			s.buf.Write(b[:])
		default:
			return fmt.Errorf("field %q: unknown stored kind %d", f.Name, f.Value.Kind)
		}
	}
	s.docs++
	if s.buf.Len() >= storedBlockBytes || s.docs-s.first >= storedBlockDocs {
		return s.flushBlock()
	}
	return nil
}

func (s *storedWriter) flushBlock() error {
	if s.buf.Len() == 0 {
		return nil
	}
	var err error
	s.block, err = appendBlock(s.block[:0], s.buf.Bytes(), s.comp)
	if err != nil {
		return err
	}
	s.index = append(s.index, storedBlock{firstDoc: s.first, offset: s.out.Offset()})
	if _, err := s.out.Write(s.block); err != nil {
		return err
	}
	s.buf.Reset()
	return nil
}

func (s *storedWriter) finish() error {
	if err := s.flushBlock(); err != nil {
		return err
	}
	indexOffset := s.out.Offset()
	if err := s.out.WriteUvarint(uint64(s.docs)); err != nil {
		return err
	}
	if err := s.out.WriteUvarint(uint64(len(s.index))); err != nil {
		return err
	}
	for _, b := range s.index {
		if err := s.out.WriteUvarint(uint64(b.firstDoc)); err != nil {
			return err
		}
		if err := s.out.WriteUvarint(uint64(b.offset)); err != nil {
			return err
		}
	}
	if err := s.out.WriteUint64(uint64(indexOffset)); err != nil {
		return err
	}
	return codec.WriteFooter(s.out)
}

// storedReader decodes documents from the .fdt file.
type storedReader struct {
	name  string
	data  []byte
	comp  Compression
	docs  int
	index []storedBlock
	cache cache.BlockCache
}

func openStored(data []byte, name string, maxDoc int) (*storedReader, error) {
	hdr := codec.HeaderLength(storedCodec)
	end := len(data) - codec.FooterLength - 8
	if end < hdr+1 {
		return nil, codec.Corruptf(name, "file too short")
	}
	comp := Compression(data[hdr])
	if !comp.valid() {
		return nil, codec.Corruptf(name, "unknown compression %d", comp)
	}
	indexOffset := int64(binary.BigEndian.Uint64(data[end:]))
	in := codec.NewInput(data[:end], name)
	if err := in.Seek(int(indexOffset)); err != nil {
		return nil, err
	}
	docs, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	if docs != maxDoc {
		return nil, codec.Corruptf(name, "stored doc count %d does not match segment doc count %d", docs, maxDoc)
	}
	n, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	index := make([]storedBlock, n)
	for i := range index {
		first, err := in.ReadInt()
		if err != nil {
			return nil, err
		}
		off, err := in.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if int64(off) < int64(hdr+1) || int64(off) >= indexOffset {
			return nil, codec.Corruptf(name, "block %d offset %d out of range", i, off)
		}
		if i > 0 && first <= index[i-1].firstDoc {
			return nil, codec.Corruptf(name, "block %d first doc %d out of order", i, first)
		}
		index[i] = storedBlock{firstDoc: first, offset: int64(off)}
	}
	return &storedReader{name: name, data: data[:indexOffset], comp: comp, docs: docs, index: index}, nil
}

func (s *storedReader) block(ctx context.Context, i int) ([]byte, error) {
	key := cache.CacheKey{Kind: cache.CacheKindStoredFields, Path: s.name, Offset: uint64(s.index[i].offset)}
	if s.cache != nil {
		if b, ok := s.cache.Get(ctx, key); ok {
			return b, nil
		}
	}
	b, _, err := readBlock(s.data[s.index[i].offset:], s.comp)
	if err != nil {
		return nil, &codec.CorruptError{Resource: s.name, Reason: fmt.Sprintf("block %d", i), Err: err}
	}
	if s.cache != nil {
		// Raw blocks alias the mapping, which dies with the reader.
		s.cache.Set(ctx, key, bytes.Clone(b))
	}
	return b, nil
}

func (s *storedReader) document(ctx context.Context, fields *FieldInfos, doc int) (model.StoredDocument, error) {
	if doc < 0 || doc >= s.docs {
		return nil, fmt.Errorf("doc %d out of range [0,%d)", doc, s.docs)
	}
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].firstDoc > doc }) - 1
	if i < 0 {
		return nil, codec.Corruptf(s.name, "no block for doc %d", doc)
	}
	raw, err := s.block(ctx, i)
	if err != nil {
		return nil, err
	}
	in := codec.NewInput(raw, s.name)
	for d := s.index[i].firstDoc; d < doc; d++ {
		if _, err := decodeStored(in, fields, true); err != nil {
			return nil, err
		}
	}
	return decodeStored(in, fields, false)
}

// decodeStored reads one document. With skip set, values are not
// materialized.
func decodeStored(in *codec.Input, fields *FieldInfos, skip bool) (model.StoredDocument, error) {
	n, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	var doc model.StoredDocument
	if !skip {
		doc = make(model.StoredDocument, 0, n)
	}
	for i := 0; i < n; i++ {
		num, err := in.ReadInt()
		if err != nil {
			return nil, err
		}
		kind, err := in.ReadByte()
		if err != nil {
			return nil, err
		}
		var v model.StoredValue
		switch model.StoredKind(kind) {
		case model.StoredString:
			b, err := in.ReadBytes()
			if err != nil {
				return nil, err
			}
			if !skip {
				v = model.StringValue(string(b))
			}
		case model.StoredBytes:
			b, err := in.ReadBytes()
			if err != nil {
				return nil, err
			}
			if !skip {
				v = model.BytesValue(bytes.Clone(b))
			}
		case model.StoredInt64:
			x, err := in.ReadVarint()
			if err != nil {
				return nil, err
			}
			v = model.Int64Value(x)
		case model.StoredFloat64:
			x, err := in.ReadUint64()
			if err != nil {
				return nil, err
			}
			v = model.Float64Value(math.Float64frombits(x))
		default:
			return nil, codec.Corruptf(in.Name(), "unknown stored kind %d", kind)
		}
		if skip {
			continue
		}
		info, ok := fields.ByNumber(num)
		if !ok {
			return nil, codec.Corruptf(in.Name(), "unknown field number %d", num)
		}
		doc = append(doc, model.StoredField{Name: info.Name, Value: v})
	}
	return doc, nil
}
