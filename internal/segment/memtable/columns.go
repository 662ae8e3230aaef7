package memtable

import (
	"fmt"

	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/model"
)

// column buffers the doc values of one field in doc order.
type column interface {
	set(doc int, v model.DocValue) error
	flush(w *segment.Writer, field string) error
}

type numericColumn struct {
	docs []int
	data []int64
}

func (c *numericColumn) set(doc int, v model.DocValue) error {
	if n := len(c.docs); n > 0 && c.docs[n-1] == doc {
		return fmt.Errorf("more than one numeric value for doc %d", doc)
	}
	c.docs = append(c.docs, doc)
	c.data = append(c.data, v.Numeric)
	return nil
}

func (c *numericColumn) flush(w *segment.Writer, field string) error {
	for i, d := range c.docs {
		if err := w.AddNumeric(field, d, c.data[i]); err != nil {
			return err
		}
	}
	return nil
}

type bytesColumn struct {
	typ  model.DocValuesType
	docs []int
	data [][]byte
}

func (c *bytesColumn) set(doc int, v model.DocValue) error {
	if n := len(c.docs); n > 0 && c.docs[n-1] == doc {
		return fmt.Errorf("more than one %s value for doc %d", c.typ, doc)
	}
	c.docs = append(c.docs, doc)
	c.data = append(c.data, append([]byte(nil), v.Bytes...))
	return nil
}

func (c *bytesColumn) flush(w *segment.Writer, field string) error {
	for i, d := range c.docs {
		var err error
		if c.typ == model.DocValuesSorted {
			err = w.AddSorted(field, d, c.data[i])
		} else {
			err = w.AddBinary(field, d, c.data[i])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func newColumn(t model.DocValuesType) column {
	if t == model.DocValuesNumeric {
		return &numericColumn{}
	}
	return &bytesColumn{typ: t}
}
