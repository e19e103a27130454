package edi

import "fmt"

// QualifierError reports a segment that is malformed for its qualifier.
type QualifierError struct {
	Tag    string
	Line   int
	Reason string
}

func (e *QualifierError) Error() string {
	return fmt.Sprintf("malformed %s segment on line %d: %s", e.Tag, e.Line, e.Reason)
}

// LinesError reports an invoice block whose shape does not match the
// entete / lines / resume grammar.
type LinesError struct {
	Invoice string
	Reason  string
}

func (e *LinesError) Error() string {
	if e.Invoice == "" {
		return fmt.Sprintf("invalid invoice block: %s", e.Reason)
	}
	return fmt.Sprintf("invalid invoice block '%s': %s", e.Invoice, e.Reason)
}

// ParseError reports a document whose header or footer boundaries cannot be
// located.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse document: %s", e.Reason)
}

// DateError reports an unregistered date format qualifier.
type DateError struct {
	Qualifier string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("unknown date format qualifier '%s'", e.Qualifier)
}

// InterchangeIDError reports a header/footer interchange identifier mismatch.
type InterchangeIDError struct {
	Header string
	Footer string
}

func (e *InterchangeIDError) Error() string {
	return fmt.Sprintf("interchange id mismatch: header '%s' != footer '%s'", e.Header, e.Footer)
}

// InputErrorKind distinguishes the two invalid-handle failures.
type InputErrorKind int

const (
	// InputNotFile means the path does not name a regular file.
	InputNotFile InputErrorKind = iota
	// InputUnreadable means the file exists but cannot be opened or read.
	InputUnreadable
)

// InputError reports an invalid input handle.
type InputError struct {
	Path string
	Kind InputErrorKind
	Err  error
}

func (e *InputError) Error() string {
	switch e.Kind {
	case InputNotFile:
		return fmt.Sprintf("'%s' is not a regular file", e.Path)
	default:
		return fmt.Sprintf("cannot read '%s': %v", e.Path, e.Err)
	}
}

func (e *InputError) Unwrap() error { return e.Err }
