// Package normalize converts heterogeneous input files (delimited text,
// spreadsheet workbooks) into one canonical row stream. Spreadsheets are
// first serialized to delimited text so that everything downstream sees the
// same shape.
package normalize

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"opto-import/internal/charset"
	"opto-import/internal/logging"
)

// DefaultDelimiter is the field separator used when the caller declares
// none. Most supplier exports are semicolon separated.
const DefaultDelimiter = ';'

// detectSampleSize bounds how much of a text file feeds the encoding
// detector before the file is re-read from the start.
const detectSampleSize = 64 * 1024

// RowReader is a forward-only stream of rows. Read returns io.EOF after the
// last row.
type RowReader interface {
	Read() ([]string, error)
	Close() error
}

// Options declares how a source file should be read. The zero value means
// semicolon-delimited text with auto-detected encoding.
type Options struct {
	Delimiter rune   // field separator for delimited text, DefaultDelimiter when 0
	Encoding  string // declared encoding, auto-detected when empty
	Sheet     string // workbook sheet name, first sheet when empty
}

// FileError wraps a failure to open or read a delimited text source.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("cannot read file %q: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// WorkbookError wraps a failure to open or convert a spreadsheet workbook.
type WorkbookError struct {
	Path string
	Err  error
}

func (e *WorkbookError) Error() string {
	return fmt.Sprintf("cannot convert workbook %q: %v", e.Path, e.Err)
}

func (e *WorkbookError) Unwrap() error { return e.Err }

// Open returns the canonical row stream for path, choosing the engine by
// file extension. Tab-separated files override the declared delimiter.
func Open(path string, opts Options) (RowReader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return openDelimited(path, opts)
	case ".tsv":
		opts.Delimiter = '\t'
		return openDelimited(path, opts)
	case ".xlsx", ".xls":
		return openWorkbook(path, opts)
	default:
		return nil, &FileError{Path: path, Err: fmt.Errorf("unsupported file extension %q", filepath.Ext(path))}
	}
}

// openDelimited reads a delimited text file through the detected or declared
// encoding. Undecodable bytes are replaced, never fatal.
func openDelimited(path string, opts Options) (RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding, err = charset.Detect(io.LimitReader(f, detectSampleSize))
		if err != nil {
			f.Close()
			return nil, &FileError{Path: path, Err: err}
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, &FileError{Path: path, Err: err}
		}
		logging.Logf(logging.Debug, "Detected encoding %s for %s", encoding, path)
	}
	decoded, err := charset.NewReader(f, encoding)
	if err != nil {
		f.Close()
		return nil, &FileError{Path: path, Err: err}
	}
	return newDelimitedReader(decoded, f, opts.Delimiter), nil
}

type delimitedReader struct {
	csv    *csv.Reader
	closer io.Closer
	line   int
}

func newDelimitedReader(r io.Reader, closer io.Closer, delimiter rune) *delimitedReader {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.LazyQuotes = true
	// Downstream column resolution reports shape mismatches with line
	// numbers, so rows are passed through unchecked here.
	cr.FieldsPerRecord = -1
	return &delimitedReader{csv: cr, closer: closer}
}

func (d *delimitedReader) Read() ([]string, error) {
	row, err := d.csv.Read()
	if err == nil {
		d.line, _ = d.csv.FieldPos(0)
	}
	return row, err
}

// Line returns the 1-based source line of the row most recently returned by
// Read. Blank source lines shift it, so downstream line numbers stay true to
// the original file.
func (d *delimitedReader) Line() int {
	return d.line
}

func (d *delimitedReader) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// NewReader returns the canonical row stream over already-delimited text.
func NewReader(r io.Reader, delimiter rune) RowReader {
	return newDelimitedReader(r, nil, delimiter)
}

// WriteDelimited serializes rows with every field quoted, the canonical
// text form produced for spreadsheet input.
func WriteDelimited(w io.Writer, rows [][]string, delimiter rune) error {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	sep := string(delimiter)
	var sb strings.Builder
	for _, row := range rows {
		sb.Reset()
		for i, cell := range row {
			if i > 0 {
				sb.WriteString(sep)
			}
			sb.WriteByte('"')
			sb.WriteString(strings.ReplaceAll(cell, `"`, `""`))
			sb.WriteByte('"')
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

// renderCell normalizes a spreadsheet cell value: integral numbers lose
// their fractional marker, so a numeric column reads "10", not "10.0".
func renderCell(value string) string {
	if !strings.ContainsAny(value, ".") {
		return value
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
