package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/lexgo/internal/codec"
	"github.com/hupe1980/lexgo/model"
)

const (
	postingsCodec          = "LexgoPostings"
	postingsVersionStart   = 1
	postingsVersionCurrent = postingsVersionStart

	// skipInterval is the number of documents between skip entries.
	skipInterval = 16
)

// Position is one occurrence of a term inside a document.
type Position struct {
	Pos     int
	Payload []byte
}

// postingsBuffer encodes the postings of the current term.
//
// Layout of one term in the .doc file:
//
//	uvarint numSkips
//	numSkips x (uvarint lastDocDelta, uvarint bodyOffsetDelta)
//	body: per doc uvarint(docDelta<<1 | freq==1) [uvarint freq]
//	      with positions: uvarint posBytesLen, per position
//	      uvarint(posDelta<<1 | hasPayload) [uvarint len, payload]
//
// A skip entry is recorded after every skipInterval documents: lastDoc is
// the last document before the entry and the offset points at the next
// document in the body.
type postingsBuffer struct {
	body      bytes.Buffer
	positions bytes.Buffer
	skips     []skipEntry
	lastDoc   int
	docFreq   int
	totalFreq int64
	scratch   [binary.MaxVarintLen64]byte
}

type skipEntry struct {
	doc    int
	offset int
}

func (p *postingsBuffer) reset() {
	p.body.Reset()
	p.skips = p.skips[:0]
	p.lastDoc = -1
	p.docFreq = 0
	p.totalFreq = 0
}

func (p *postingsBuffer) uvarint(buf *bytes.Buffer, v uint64) {
	n := binary.PutUvarint(p.scratch[:], v)
	buf.Write(p.scratch[:n])
}

func (p *postingsBuffer) add(doc, freq int, positions []Position, withPositions bool) error {
	if doc <= p.lastDoc {
		return fmt.Errorf("doc %d not after %d", doc, p.lastDoc)
	}
	if freq < 1 {
		return fmt.Errorf("doc %d: freq %d < 1", doc, freq)
	}
	if withPositions && len(positions) != freq {
		return fmt.Errorf("doc %d: %d positions for freq %d", doc, len(positions), freq)
	}
	if p.docFreq > 0 && p.docFreq%skipInterval == 0 {
		p.skips = append(p.skips, skipEntry{doc: p.lastDoc, offset: p.body.Len()})
	}

	delta := uint64(doc-p.lastDoc-1) << 1
	if freq == 1 {
		p.uvarint(&p.body, delta|1)
	} else {
		p.uvarint(&p.body, delta)
		p.uvarint(&p.body, uint64(freq))
	}
	if withPositions {
		p.positions.Reset()
		last := 0
		for _, pos := range positions {
			if pos.Pos < last {
				return fmt.Errorf("doc %d: positions must not decrease", doc)
			}
			code := uint64(pos.Pos-last) << 1
			if len(pos.Payload) > 0 {
				p.uvarint(&p.positions, code|1)
				p.uvarint(&p.positions, uint64(len(pos.Payload)))
				p.positions.Write(pos.Payload)
			} else {
				p.uvarint(&p.positions, code)
			}
			last = pos.Pos
		}
		p.uvarint(&p.body, uint64(p.positions.Len()))
		p.body.Write(p.positions.Bytes())
	}
	p.lastDoc = doc
	p.docFreq++
	p.totalFreq += int64(freq)
	return nil
}

// writeTo writes the skip section and the body.
func (p *postingsBuffer) writeTo(out *codec.Output) error {
	if err := out.WriteUvarint(uint64(len(p.skips))); err != nil {
		return err
	}
	prevDoc, prevOff := -1, 0
	for _, s := range p.skips {
		if err := out.WriteUvarint(uint64(s.doc - prevDoc)); err != nil {
			return err
		}
		if err := out.WriteUvarint(uint64(s.offset - prevOff)); err != nil {
			return err
		}
		prevDoc, prevOff = s.doc, s.offset
	}
	_, err := out.Write(p.body.Bytes())
	return err
}

// PostingsEnum iterates the postings of one term in increasing doc order.
// It is not safe for concurrent use.
type PostingsEnum struct {
	r             *Reader
	data          []byte
	body          int
	skipStart     int
	numSkips      int
	skips         []skipEntry
	pos           int
	doc           int
	freq          int
	read          int
	docFreq       int
	withPositions bool
	posBytes      []byte
}

func newPostingsEnum(r *Reader, data []byte, docFreq int, withPositions bool) (*PostingsEnum, error) {
	in := codec.NewInput(data, r.postingsName)
	numSkips, err := in.ReadInt()
	if err != nil {
		return nil, err
	}
	p := &PostingsEnum{
		r:             r,
		data:          data,
		skipStart:     in.Pos(),
		numSkips:      numSkips,
		doc:           -1,
		docFreq:       docFreq,
		withPositions: withPositions,
	}
	for i := 0; i < numSkips; i++ {
		if _, err := in.ReadUvarint(); err != nil {
			return nil, err
		}
		if _, err := in.ReadUvarint(); err != nil {
			return nil, err
		}
	}
	p.body = in.Pos()
	p.pos = p.body
	return p, nil
}

// DocID returns the current document, -1 before the first Next and
// model.NoMoreDocs when exhausted.
func (p *PostingsEnum) DocID() int { return p.doc }

// Freq returns the frequency of the term in the current document.
func (p *PostingsEnum) Freq() int { return p.freq }

// Cost returns the number of documents in the list.
func (p *PostingsEnum) Cost() int { return p.docFreq }

// Next advances to the next document and returns it, or model.NoMoreDocs.
func (p *PostingsEnum) Next() (int, error) {
	if err := p.r.ensureOpen(); err != nil {
		return 0, err
	}
	if p.read >= p.docFreq {
		p.doc = model.NoMoreDocs
		p.freq = 0
		p.posBytes = nil
		return p.doc, nil
	}
	code, n := binary.Uvarint(p.data[p.pos:])
	if n <= 0 {
		return 0, p.corrupt("bad doc delta")
	}
	p.pos += n
	p.doc += int(code>>1) + 1
	if code&1 != 0 {
		p.freq = 1
	} else {
		f, n := binary.Uvarint(p.data[p.pos:])
		if n <= 0 || f < 2 {
			return 0, p.corrupt("bad freq")
		}
		p.pos += n
		p.freq = int(f)
	}
	p.posBytes = nil
	if p.withPositions {
		l, n := binary.Uvarint(p.data[p.pos:])
		if n <= 0 || p.pos+n+int(l) > len(p.data) {
			return 0, p.corrupt("bad positions length")
		}
		p.pos += n
		p.posBytes = p.data[p.pos : p.pos+int(l)]
		p.pos += int(l)
	}
	p.read++
	return p.doc, nil
}

// SkipTo advances to the first document >= target and returns it, or
// model.NoMoreDocs. It never moves backwards.
func (p *PostingsEnum) SkipTo(target int) (int, error) {
	if target <= p.doc {
		return p.doc, nil
	}
	if err := p.r.ensureOpen(); err != nil {
		return 0, err
	}
	if err := p.loadSkips(); err != nil {
		return 0, err
	}
	// Entries before p.read/skipInterval lie behind the current position.
	best := -1
	for i := p.read / skipInterval; i < len(p.skips); i++ {
		if p.skips[i].doc >= target {
			break
		}
		best = i
	}
	if best >= 0 {
		p.doc = p.skips[best].doc
		p.pos = p.body + p.skips[best].offset
		p.read = (best + 1) * skipInterval
	}
	for {
		doc, err := p.Next()
		if err != nil || doc >= target {
			return doc, err
		}
	}
}

func (p *PostingsEnum) loadSkips() error {
	if p.skips != nil || p.numSkips == 0 {
		return nil
	}
	in := codec.NewInput(p.data[:p.body], p.r.postingsName)
	if err := in.Seek(p.skipStart); err != nil {
		return err
	}
	skips := make([]skipEntry, p.numSkips)
	doc, off := -1, 0
	for i := range skips {
		d, err := in.ReadUvarint()
		if err != nil {
			return err
		}
		o, err := in.ReadUvarint()
		if err != nil {
			return err
		}
		doc += int(d)
		off += int(o)
		if p.body+off > len(p.data) {
			return p.corrupt("skip offset beyond postings")
		}
		skips[i] = skipEntry{doc: doc, offset: off}
	}
	p.skips = skips
	return nil
}

// Positions decodes the positions of the current document. It returns nil
// when the field does not index positions.
func (p *PostingsEnum) Positions() ([]Position, error) {
	if !p.withPositions || p.posBytes == nil {
		return nil, nil
	}
	out := make([]Position, 0, p.freq)
	in := codec.NewInput(p.posBytes, p.r.postingsName)
	last := 0
	for in.Remaining() > 0 {
		code, err := in.ReadUvarint()
		if err != nil {
			return nil, err
		}
		pos := Position{Pos: last + int(code>>1)}
		if code&1 != 0 {
			if pos.Payload, err = in.ReadBytes(); err != nil {
				return nil, err
			}
		}
		last = pos.Pos
		out = append(out, pos)
	}
	if len(out) != p.freq {
		return nil, p.corrupt(fmt.Sprintf("doc %d: %d positions for freq %d", p.doc, len(out), p.freq))
	}
	return out, nil
}

func (p *PostingsEnum) corrupt(reason string) error {
	return codec.Corruptf(p.r.postingsName, "%s", reason)
}
