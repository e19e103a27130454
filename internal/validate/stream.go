package validate

import (
	"io"

	"opto-import/internal/normalize"
	"opto-import/internal/schema"
)

// Stream buffers accepted records between validation and bulk load. Only
// accepted records ever enter it; rejected rows never reach staging.
type Stream struct {
	names []string
	rows  [][]string
}

// NewStream creates an empty buffer for the given target field order.
func NewStream(names []string) *Stream {
	return &Stream{names: append([]string(nil), names...)}
}

// Append adds one accepted record, serialized in field order.
func (s *Stream) Append(rec *schema.Record) {
	s.rows = append(s.rows, rec.Values())
}

// Len returns the number of buffered records.
func (s *Stream) Len() int {
	return len(s.rows)
}

// Names returns the target field order of the buffered values.
func (s *Stream) Names() []string {
	return s.names
}

// Rows returns the buffered values, one slice per record, in field order.
func (s *Stream) Rows() [][]string {
	return s.rows
}

// WriteTo renders the buffer as canonical delimited text, every field
// quoted. Used for diagnostics and file-based handoff.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := normalize.WriteDelimited(cw, s.rows, 0)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
