package manifest

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/lexgo/internal/codec"
)

const (
	codecName      = "LexgoSegmentInfos"
	versionStart   = 1
	versionCurrent = versionStart
)

// Encode writes infos in binary format, framed by a codec header and footer.
// name identifies the resource in errors.
func Encode(w io.Writer, infos *SegmentInfos, name string) error {
	out := codec.NewOutput(w, name)
	if err := codec.WriteHeader(out, codecName, versionCurrent, nil); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(infos.Generation)); err != nil {
		return err
	}
	if err := out.WriteUvarint(infos.Version); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(infos.Counter)); err != nil {
		return err
	}
	if err := out.WriteVarint(infos.CreatedAt.UnixNano()); err != nil {
		return err
	}

	keys := slices.Sorted(maps.Keys(infos.UserData))
	if err := out.WriteUvarint(uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := out.WriteString(k); err != nil {
			return err
		}
		if err := out.WriteString(infos.UserData[k]); err != nil {
			return err
		}
	}

	if err := out.WriteUvarint(uint64(len(infos.Segments))); err != nil {
		return err
	}
	for i := range infos.Segments {
		if err := encodeSegment(out, &infos.Segments[i]); err != nil {
			return fmt.Errorf("segment %s: %w", infos.Segments[i].Name, err)
		}
	}
	return codec.WriteFooter(out)
}

func encodeSegment(out *codec.Output, s *SegmentCommitInfo) error {
	if err := out.WriteString(s.Name); err != nil {
		return err
	}
	if _, err := out.Write(s.ID[:]); err != nil {
		return err
	}
	if err := out.WriteString(s.Format); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(s.DocCount)); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(s.DelCount)); err != nil {
		return err
	}
	if err := out.WriteVarint(s.DelGen); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(s.SizeBytes)); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(len(s.Files))); err != nil {
		return err
	}
	for _, f := range s.Files {
		if err := out.WriteString(f); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses a complete manifest file. The checksum is always verified.
func Decode(data []byte, name string) (*SegmentInfos, error) {
	if _, err := codec.CheckFooter(data, name); err != nil {
		return nil, err
	}
	in := codec.NewInput(data[:len(data)-codec.FooterLength], name)
	if _, err := codec.CheckHeader(in, codecName, versionStart, versionCurrent, nil); err != nil {
		return nil, err
	}

	infos := &SegmentInfos{}
	gen, err := in.ReadUvarint()
	if err != nil {
		return nil, err
	}
	infos.Generation = int64(gen)
	if infos.Version, err = in.ReadUvarint(); err != nil {
		return nil, err
	}
	counter, err := in.ReadUvarint()
	if err != nil {
		return nil, err
	}
	infos.Counter = int64(counter)
	created, err := in.ReadVarint()
	if err != nil {
		return nil, err
	}
	infos.CreatedAt = time.Unix(0, created)

	n, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		infos.UserData = make(map[string]string, n)
	}
	for i := 0; i < n; i++ {
		k, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		infos.UserData[k] = v
	}

	n, err = in.ReadInt()
	if err != nil {
		return nil, err
	}
	if n > in.Remaining() {
		return nil, codec.Corruptf(name, "segment count %d exceeds file size", n)
	}
	infos.Segments = make([]SegmentCommitInfo, n)
	for i := range infos.Segments {
		if err := decodeSegment(in, &infos.Segments[i]); err != nil {
			return nil, err
		}
	}
	if in.Remaining() != 0 {
		return nil, codec.Corruptf(name, "%d trailing bytes", in.Remaining())
	}
	if err := infos.validate(name); err != nil {
		return nil, &codec.CorruptError{Resource: name, Reason: "inconsistent segment infos", Err: err}
	}
	return infos, nil
}

func decodeSegment(in *codec.Input, s *SegmentCommitInfo) error {
	var err error
	if s.Name, err = in.ReadString(); err != nil {
		return err
	}
	id, err := in.ReadN(codec.IDLength)
	if err != nil {
		return err
	}
	copy(s.ID[:], id)
	if s.Format, err = in.ReadString(); err != nil {
		return err
	}
	if s.DocCount, err = in.ReadInt(); err != nil {
		return err
	}
	if s.DelCount, err = in.ReadInt(); err != nil {
		return err
	}
	if s.DelGen, err = in.ReadVarint(); err != nil {
		return err
	}
	size, err := in.ReadUvarint()
	if err != nil {
		return err
	}
	s.SizeBytes = int64(size)
	n, err := in.ReadInt()
	if err != nil {
		return err
	}
	if n > in.Remaining() {
		return codec.Corruptf(in.Name(), "file count %d exceeds file size", n)
	}
	s.Files = make([]string, n)
	for i := range s.Files {
		if s.Files[i], err = in.ReadString(); err != nil {
			return err
		}
	}
	return nil
}
