package normalize

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func readAll(t *testing.T, r RowReader) [][]string {
	t.Helper()
	defer r.Close()
	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestOpenDelimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	content := "ref;label;qty\n\"A-1\";\"semi;colon\";10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	rows := readAll(t, r)
	want := [][]string{
		{"ref", "label", "qty"},
		{"A-1", "semi;colon", "10"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestOpenTSVOverridesDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.tsv")
	if err := os.WriteFile(path, []byte("a\tb\n1\t2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, Options{Delimiter: ';'})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	rows := readAll(t, r)
	if len(rows) != 2 || len(rows[0]) != 2 || rows[1][1] != "2" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestOpenDelimitedLatin1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin.csv")
	// "café" in ISO-8859-1, with enough surrounding French text for the
	// detector to pick a single-byte encoding.
	content := "article;prix\ncaf\xe9 allong\xe9 pr\xe9par\xe9 s\xe9par\xe9ment;3.50\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	rows := readAll(t, r)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if strings.ContainsRune(rows[1][0], 0xFFFD) {
		t.Errorf("cell %q still contains replacement runes", rows[1][0])
	}
	if !strings.Contains(rows[1][0], "café") {
		t.Errorf("cell %q does not contain decoded text", rows[1][0])
	}
}

func TestOpenDeclaredEncodingReplacesBadBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.csv")
	if err := os.WriteFile(path, []byte("a;\xff\xfe;c\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, Options{Encoding: "utf-8"})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	rows := readAll(t, r)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if !strings.ContainsRune(rows[0][1], 0xFFFD) {
		t.Errorf("undecodable bytes should be replaced, got %q", rows[0][1])
	}
}

func TestOpenUnsupportedExtension(t *testing.T) {
	_, err := Open("report.pdf", Options{})
	var fileErr *FileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("got %v, want *FileError", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.csv"), Options{})
	var fileErr *FileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("got %v, want *FileError", err)
	}
}

func TestWriteDelimitedQuotesEverything(t *testing.T) {
	var buf bytes.Buffer
	rows := [][]string{
		{"ref", "label"},
		{"A-1", `said "hello"`},
	}
	if err := WriteDelimited(&buf, rows, ';'); err != nil {
		t.Fatal(err)
	}
	want := "\"ref\";\"label\"\n\"A-1\";\"said \"\"hello\"\"\"\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestRenderCell(t *testing.T) {
	tests := []struct{ in, want string }{
		{"10.0", "10"},
		{"10.000000", "10"},
		{"10.5", "10.5"},
		{"007", "007"},
		{"REF-1.A", "REF-1.A"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := renderCell(tt.in); got != tt.want {
			t.Errorf("renderCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.xlsx")
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	if err := wb.SetSheetRow(sheet, "A1", &[]interface{}{"ref", "qty", "price"}); err != nil {
		t.Fatal(err)
	}
	if err := wb.SetSheetRow(sheet, "A2", &[]interface{}{"A-1", 10.0, 3.25}); err != nil {
		t.Fatal(err)
	}
	if err := wb.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	rows := readAll(t, r)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1][1] != "10" {
		t.Errorf("integral cell = %q, want \"10\"", rows[1][1])
	}
	if rows[1][2] != "3.25" {
		t.Errorf("fractional cell = %q, want \"3.25\"", rows[1][2])
	}
}

func TestOpenWorkbookCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	if err := os.WriteFile(path, []byte("not a workbook"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path, Options{})
	var wbErr *WorkbookError
	if !errors.As(err, &wbErr) {
		t.Fatalf("got %v, want *WorkbookError", err)
	}
}
