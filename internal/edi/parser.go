// Package edi parses the pipe-and-plus structured text protocol used by
// optics-industry suppliers for invoice documents. A document is a sequence
// of 3-letter-qualified segments: interchange header, repeated invoice
// blocks (entete segments, line segments, resume segments) and an
// interchange footer.
package edi

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"opto-import/internal/logging"
)

// Structural qualifiers delimiting the document grammar. They never
// contribute fields; the dispatch table covers the rest.
const (
	tagInterchangeHeader = "UNB"
	tagMessageHeader     = "UNH"
	tagSectionSeparator  = "UNS"
	tagControlCount      = "CNT"
	tagMessageTrailer    = "UNT"
	tagInterchangeFooter = "UNZ"
)

// TargetFields is the declared, ordered list of fields an invoice-line
// record may carry.
var TargetFields = []string{
	"invoice_type", "invoice_number", "invoice_date", "due_date", "delivery_date",
	"payer_id", "supplier_id", "billed_to_id",
	"order_reference", "delivery_note_reference",
	"total_excl_tax", "total_tax", "total_incl_tax",
	"line_number", "line_reference", "item_reference", "item_ean", "item_description",
	"quantity", "unit_price", "gross_amount", "net_amount", "amount_incl_tax", "tax_rate",
	"packaging_charge", "freight_charge", "insurance_charge",
}

// Parser parses invoice protocol documents. The zero value applies no
// optional strictness checks.
type Parser struct {
	strictInvoiceCount bool
	strictLineCount    bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithStrictInvoiceCount enforces the declared-vs-actual invoice count from
// the interchange footer. Off by default: at least one trading partner sends
// wrong counts.
func WithStrictInvoiceCount() Option {
	return func(p *Parser) { p.strictInvoiceCount = true }
}

// WithStrictLineCount enforces the per-invoice control count against the
// actual number of line segments. Off by default for the same reason.
func WithStrictLineCount() Option {
	return func(p *Parser) { p.strictLineCount = true }
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// invoiceBlock is one invoice inside the document, pre-partitioned but not
// yet dispatched.
type invoiceBlock struct {
	entete     []segment
	lineGroups [][]segment
	resume     []segment
}

// Document is one parsed interchange. Lines are consumed through Next: the
// per-line dictionaries are computed lazily, in a single forward pass.
// Re-iterating after exhaustion yields nothing; callers needing two passes
// must materialize.
type Document struct {
	Header           map[string]string
	Footer           map[string]string
	TargetFields     []string
	DeclaredInvoices int

	strictLineCount bool
	invoices        []invoiceBlock

	invoiceIdx int
	lineIdx    int
	invFields  map[string]string
	exhausted  bool
}

// ParseFile opens and parses a document from disk. A path that is not a
// regular file or cannot be read is an *InputError.
func (p *Parser) ParseFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &InputError{Path: path, Kind: InputUnreadable, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &InputError{Path: path, Kind: InputNotFile}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &InputError{Path: path, Kind: InputUnreadable, Err: err}
	}
	defer f.Close()
	return p.Parse(f)
}

// Parse reads the whole document, validates its boundaries and integrity,
// and returns a Document whose line records are produced lazily.
func (p *Parser) Parse(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &InputError{Kind: InputUnreadable, Err: err}
	}

	rawSegments := splitSegments(string(raw))
	if len(rawSegments) == 0 {
		return nil, &ParseError{Reason: "document contains no segments"}
	}
	segments := make([]segment, len(rawSegments))
	for i, rawSeg := range rawSegments {
		seg, err := parseSegment(rawSeg, i+1)
		if err != nil {
			return nil, err
		}
		segments[i] = seg
	}

	if segments[0].tag != tagInterchangeHeader {
		return nil, &ParseError{Reason: "missing interchange header segment"}
	}
	last := segments[len(segments)-1]
	if last.tag != tagInterchangeFooter {
		return nil, &ParseError{Reason: "missing interchange footer segment"}
	}

	headerID := segments[0].elem(4)
	footerID := last.elem(1)
	if headerID == "" {
		return nil, &QualifierError{Tag: tagInterchangeHeader, Line: segments[0].line, Reason: "missing interchange id"}
	}
	if headerID != footerID {
		return nil, &InterchangeIDError{Header: headerID, Footer: footerID}
	}

	declared := 0
	if countStr := last.elem(0); countStr != "" {
		declared, err = strconv.Atoi(countStr)
		if err != nil {
			return nil, &QualifierError{Tag: tagInterchangeFooter, Line: last.line, Reason: "invoice count '" + countStr + "' is not numeric"}
		}
	}

	doc := &Document{
		Header:           map[string]string{"interchange_id": headerID},
		Footer:           map[string]string{"interchange_id": footerID},
		TargetFields:     append([]string(nil), TargetFields...),
		DeclaredInvoices: declared,
		strictLineCount:  p.strictLineCount,
	}

	// Interchange-level segments before the first invoice contribute to the
	// header dictionary; trailing segments after the last trailer to the
	// footer dictionary.
	body := segments[1 : len(segments)-1]
	bodyStart := 0
	for bodyStart < len(body) && body[bodyStart].tag != tagMessageHeader {
		if err := mergeDispatch(doc.Header, body[bodyStart], &parseState{ctx: ctxHeader}); err != nil {
			return nil, err
		}
		bodyStart++
	}

	if err := doc.partitionInvoices(body[bodyStart:]); err != nil {
		return nil, err
	}

	if p.strictInvoiceCount && declared != len(doc.invoices) {
		return nil, &LinesError{Reason: fmt.Sprintf("footer declares %d invoices, document contains %d", declared, len(doc.invoices))}
	}

	logging.Logf(logging.Debug, "Parsed interchange %s: %d invoice(s), %d declared", headerID, len(doc.invoices), declared)
	return doc, nil
}

// partitionInvoices splits the body into invoice blocks and flags shape
// violations.
func (d *Document) partitionInvoices(body []segment) error {
	i := 0
	for i < len(body) {
		if body[i].tag != tagMessageHeader {
			return &ParseError{Reason: fmt.Sprintf("unexpected %s segment between invoice blocks", body[i].tag)}
		}
		i++

		var block invoiceBlock
		section := ctxEntete
		for i < len(body) && body[i].tag != tagMessageTrailer {
			seg := body[i]
			switch {
			case seg.tag == tagMessageHeader:
				return &LinesError{Reason: "invoice block not closed before next one starts"}
			case seg.tag == tagSectionSeparator:
				if section == ctxResume {
					return &LinesError{Reason: "duplicate section separator"}
				}
				section = ctxResume
			case seg.tag == "LIN":
				if section == ctxResume {
					return &LinesError{Reason: "line item after section separator"}
				}
				section = ctxLine
				block.lineGroups = append(block.lineGroups, []segment{seg})
			default:
				switch section {
				case ctxEntete:
					block.entete = append(block.entete, seg)
				case ctxLine:
					n := len(block.lineGroups)
					block.lineGroups[n-1] = append(block.lineGroups[n-1], seg)
				case ctxResume:
					block.resume = append(block.resume, seg)
				}
			}
			i++
		}
		if i >= len(body) {
			return &LinesError{Reason: "invoice block missing message trailer"}
		}
		i++ // consume the trailer
		if len(block.lineGroups) == 0 {
			return &LinesError{Reason: "invoice block contains no line items"}
		}
		d.invoices = append(d.invoices, block)
	}
	return nil
}

// Next returns the next per-line dictionary, or (nil, nil) once the sequence
// is exhausted. The sequence is finite, single pass and not restartable.
func (d *Document) Next() (map[string]string, error) {
	if d.exhausted {
		return nil, nil
	}
	for d.invoiceIdx < len(d.invoices) {
		block := d.invoices[d.invoiceIdx]
		if d.invFields == nil {
			merged, err := d.invoiceFields(block)
			if err != nil {
				d.exhausted = true
				return nil, err
			}
			d.invFields = merged
		}
		if d.lineIdx < len(block.lineGroups) {
			group := block.lineGroups[d.lineIdx]
			d.lineIdx++
			record := make(map[string]string, len(d.invFields)+8)
			for k, v := range d.invFields {
				record[k] = v
			}
			st := &parseState{ctx: ctxLine}
			for _, seg := range group {
				partial, err := dispatch(seg, st)
				if err != nil {
					d.exhausted = true
					return nil, err
				}
				// Line fields take precedence over entete and resume fields.
				for k, v := range partial {
					record[k] = v
				}
			}
			return record, nil
		}
		d.invoiceIdx++
		d.lineIdx = 0
		d.invFields = nil
	}
	d.exhausted = true
	return nil, nil
}

// invoiceFields merges the document header, entete and resume dictionaries
// for one invoice, and applies the optional line-count check.
func (d *Document) invoiceFields(block invoiceBlock) (map[string]string, error) {
	merged := make(map[string]string, len(d.Header)+16)
	for k, v := range d.Header {
		merged[k] = v
	}
	st := &parseState{ctx: ctxEntete}
	for _, seg := range block.entete {
		if err := mergeDispatch(merged, seg, st); err != nil {
			return nil, err
		}
	}
	st.ctx = ctxResume
	for _, seg := range block.resume {
		if seg.tag == tagControlCount {
			if err := d.checkLineCount(seg, len(block.lineGroups), merged["invoice_number"]); err != nil {
				return nil, err
			}
			continue
		}
		if err := mergeDispatch(merged, seg, st); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func (d *Document) checkLineCount(seg segment, actual int, invoice string) error {
	if !d.strictLineCount || seg.comp(0, 0) != "2" {
		return nil
	}
	declared, err := strconv.Atoi(seg.comp(0, 1))
	if err != nil {
		return &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "control count is not numeric"}
	}
	if declared != actual {
		return &LinesError{Invoice: invoice, Reason: fmt.Sprintf("control count declares %d lines, block contains %d", declared, actual)}
	}
	return nil
}

func mergeDispatch(into map[string]string, seg segment, st *parseState) error {
	partial, err := dispatch(seg, st)
	if err != nil {
		return err
	}
	for k, v := range partial {
		into[k] = v
	}
	return nil
}
