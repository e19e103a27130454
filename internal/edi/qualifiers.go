package edi

import (
	"github.com/shopspring/decimal"
)

// fields is the partial dictionary a qualifier handler contributes to the
// accumulating record.
type fields map[string]string

// blockContext tracks where in the document grammar a segment sits, since a
// few qualifiers parse differently at document and line level.
type blockContext int

const (
	ctxHeader blockContext = iota
	ctxEntete
	ctxLine
	ctxResume
	ctxFooter
)

// parseState carries the mutable context threaded through the handlers.
type parseState struct {
	ctx blockContext
	// pendingCharge holds the charge kind declared by the last charge-type
	// marker, consumed by the next charge amount on the current line.
	pendingCharge string
}

// handler parses one segment into a partial field dictionary.
type handler func(seg segment, st *parseState) (fields, error)

// qualifierTable is the fixed dispatch table from segment qualifier to
// parsing rule. Qualifiers absent from the table are ignored, not errors.
var qualifierTable = map[string]handler{
	"BGM": parseDocumentType,
	"DTM": parseDate,
	"NAD": parseParty,
	"RFF": parseReference,
	"MOA": parseAmount,
	"LIN": parseLineItem,
	"PIA": parseItemID,
	"IMD": parseItemDescription,
	"QTY": parseQuantity,
	"PRI": parsePrice,
	"TAX": parseTaxRate,
	"ALC": parseChargeMarker,
}

// dispatch applies the table to one segment. Unknown qualifiers contribute
// nothing.
func dispatch(seg segment, st *parseState) (fields, error) {
	h, ok := qualifierTable[seg.tag]
	if !ok {
		return fields{}, nil
	}
	return h(seg, st)
}

func parseDocumentType(seg segment, _ *parseState) (fields, error) {
	number := seg.elem(1)
	if number == "" {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "missing document number"}
	}
	docType := seg.elem(0)
	switch docType {
	case "380":
		docType = "invoice"
	case "381":
		docType = "credit_note"
	}
	return fields{"invoice_type": docType, "invoice_number": number}, nil
}

// dateFieldByCode maps the date function code to the target field it fills.
// Codes outside the table are tolerated and skipped.
var dateFieldByCode = map[string]string{
	"137": "invoice_date",
	"35":  "delivery_date",
	"13":  "due_date",
}

func parseDate(seg segment, _ *parseState) (fields, error) {
	code := seg.comp(0, 0)
	value := seg.comp(0, 1)
	format := seg.comp(0, 2)
	if code == "" || value == "" || format == "" {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "date needs code, value and format components"}
	}
	field, ok := dateFieldByCode[code]
	if !ok {
		return fields{}, nil
	}
	iso, err := ISODate(format, value)
	if err != nil {
		return nil, err
	}
	return fields{field: iso}, nil
}

func parseParty(seg segment, st *parseState) (fields, error) {
	role := seg.elem(0)
	id := seg.elem(1)
	if id == "" {
		// A billed-to hint inside a line block is a delivery-store marker,
		// not part of the header; tolerate it.
		if role == "BY" && st.ctx == ctxLine {
			return fields{}, nil
		}
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "party segment missing identification"}
	}
	switch role {
	case "PR":
		return fields{"payer_id": id}, nil
	case "SU":
		return fields{"supplier_id": id}, nil
	case "BY":
		return fields{"billed_to_id": id}, nil
	default:
		return fields{}, nil
	}
}

func parseReference(seg segment, st *parseState) (fields, error) {
	code := seg.comp(0, 0)
	ref := seg.comp(0, 1)
	if ref == "" {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "reference missing value"}
	}
	switch code {
	case "ON":
		return fields{"order_reference": ref}, nil
	case "DQ":
		return fields{"delivery_note_reference": ref}, nil
	case "LI":
		if st.ctx == ctxLine {
			return fields{"line_reference": ref}, nil
		}
		return fields{}, nil
	default:
		return fields{}, nil
	}
}

// chargeFieldByKind maps a charge-type marker to the line field its amount
// folds into.
var chargeFieldByKind = map[string]string{
	"PC": "packaging_charge",
	"FC": "freight_charge",
	"IN": "insurance_charge",
}

func parseChargeMarker(seg segment, st *parseState) (fields, error) {
	if seg.elem(0) != "C" {
		return fields{}, nil
	}
	kind := seg.elem(seg.elemCount() - 1)
	if _, ok := chargeFieldByKind[kind]; !ok {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "unknown charge type '" + kind + "'"}
	}
	st.pendingCharge = kind
	return fields{}, nil
}

func parseAmount(seg segment, st *parseState) (fields, error) {
	code := seg.comp(0, 0)
	raw := seg.comp(0, 1)
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "amount '" + raw + "' is not numeric"}
	}
	value := amount.String()

	if st.ctx == ctxLine {
		// A charge amount right after a charge-type marker folds into the
		// current line's charge field instead of a regular amount field.
		if st.pendingCharge != "" && code == "8" {
			field := chargeFieldByKind[st.pendingCharge]
			st.pendingCharge = ""
			return fields{field: value}, nil
		}
		switch code {
		case "146":
			// Single-monetary-value shortcut: the one amount doubles as the
			// unit price.
			return fields{"unit_price": value, "net_amount": value}, nil
		case "203":
			return fields{"net_amount": value}, nil
		case "98":
			return fields{"gross_amount": value}, nil
		case "128":
			return fields{"amount_incl_tax": value}, nil
		default:
			return fields{}, nil
		}
	}

	switch code {
	case "79":
		return fields{"total_excl_tax": value}, nil
	case "176":
		return fields{"total_tax": value}, nil
	case "77":
		return fields{"total_incl_tax": value}, nil
	default:
		return fields{}, nil
	}
}

func parseLineItem(seg segment, st *parseState) (fields, error) {
	lineNumber := seg.elem(0)
	if lineNumber == "" {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "line item missing line number"}
	}
	st.pendingCharge = ""
	out := fields{"line_number": lineNumber}
	if code := seg.comp(2, 0); code != "" {
		if seg.comp(2, 1) == "EN" {
			out["item_ean"] = code
		} else {
			out["item_reference"] = code
		}
	}
	return out, nil
}

func parseItemID(seg segment, _ *parseState) (fields, error) {
	ref := seg.comp(1, 0)
	if ref == "" {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "additional item id missing reference"}
	}
	return fields{"item_reference": ref}, nil
}

func parseItemDescription(seg segment, _ *parseState) (fields, error) {
	// The description is the last component of the last element; leading
	// elements carry coding noise that differs per trading partner.
	if seg.elemCount() == 0 {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "empty item description segment"}
	}
	last := seg.elements[seg.elemCount()-1]
	text := last[len(last)-1]
	if text == "" {
		return fields{}, nil
	}
	return fields{"item_description": text}, nil
}

func parseQuantity(seg segment, _ *parseState) (fields, error) {
	code := seg.comp(0, 0)
	raw := seg.comp(0, 1)
	if code != "47" {
		return fields{}, nil
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "quantity '" + raw + "' is not numeric"}
	}
	return fields{"quantity": qty.String()}, nil
}

func parsePrice(seg segment, _ *parseState) (fields, error) {
	code := seg.comp(0, 0)
	raw := seg.comp(0, 1)
	if code != "AAA" {
		return fields{}, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "price '" + raw + "' is not numeric"}
	}
	return fields{"unit_price": price.String()}, nil
}

func parseTaxRate(seg segment, _ *parseState) (fields, error) {
	if seg.elem(0) != "7" {
		return fields{}, nil
	}
	raw := seg.comp(2, 0)
	if raw == "" {
		return fields{}, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &QualifierError{Tag: seg.tag, Line: seg.line, Reason: "tax rate '" + raw + "' is not numeric"}
	}
	return fields{"tax_rate": rate.String()}, nil
}
