package livedocs

import (
	"bytes"
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/codec"
)

const (
	codecName      = "LexgoLiveDocs"
	versionStart   = 1
	versionCurrent = versionStart
)

// FileName returns the name of the generation gen deletes file of segment.
func FileName(segment string, gen int64) string {
	return fmt.Sprintf("%s_%d.liv", segment, gen)
}

// Write stores l as generation gen of segment and returns the file name and
// its size. The file carries the segment id in its header.
func Write(ctx context.Context, store blobstore.BlobStore, segment string, id []byte, gen int64, l *LiveDocs) (string, int64, error) {
	name := FileName(segment, gen)
	w, err := store.Create(ctx, name)
	if err != nil {
		return "", 0, err
	}
	out := codec.NewOutput(w, name)
	if err := encode(out, id, l); err != nil {
		_ = w.Abort()
		return "", 0, fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("write %s: %w", name, err)
	}
	return name, out.Offset(), nil
}

func encode(out *codec.Output, id []byte, l *LiveDocs) error {
	if err := codec.WriteHeader(out, codecName, versionCurrent, id); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(l.MaxDoc())); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(l.NumDeleted())); err != nil {
		return err
	}
	bm := l.Deleted().Clone()
	bm.RunOptimize()
	raw, err := bm.ToBytes()
	if err != nil {
		return err
	}
	if err := out.WriteBytes(raw); err != nil {
		return err
	}
	return codec.WriteFooter(out)
}

// Read loads generation gen of segment and checks it against the segment id
// and document count.
func Read(ctx context.Context, store blobstore.BlobStore, segment string, id []byte, gen int64, maxDoc int) (*LiveDocs, error) {
	name := FileName(segment, gen)
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
	if _, err := codec.CheckHeader(in, codecName, versionStart, versionCurrent, id); err != nil {
		return nil, err
	}
	storedMax, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	if storedMax != maxDoc {
		return nil, codec.Corruptf(name, "maxDoc %d does not match segment maxDoc %d", storedMax, maxDoc)
	}
	numDeleted, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	raw, err := in.ReadBytes()
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, &codec.CorruptError{Resource: name, Reason: "bad deleted bitmap", Err: err}
	}
	if int(bm.GetCardinality()) != numDeleted {
		return nil, codec.Corruptf(name, "deleted count %d does not match bitmap cardinality %d", numDeleted, bm.GetCardinality())
	}
	if numDeleted > 0 && int(bm.Maximum()) >= maxDoc {
		return nil, codec.Corruptf(name, "deleted doc %d out of range [0,%d)", bm.Maximum(), maxDoc)
	}
	return &LiveDocs{deleted: bm, maxDoc: maxDoc}, nil
}
