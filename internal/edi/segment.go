package edi

import "strings"

// Wire characters of the protocol. An element-internal terminator or
// separator is escaped with the release character '?'.
const (
	segmentTerminator  = '\''
	elementSeparator   = '+'
	componentSeparator = ':'
	releaseChar        = '?'
)

// segment is one parsed segment: a 3-letter tag plus its elements, each
// element split into components. line is the 1-based segment position in the
// document.
type segment struct {
	tag      string
	elements [][]string
	line     int
}

// elem returns the first component of element i, or "" when absent.
func (s segment) elem(i int) string {
	if i < 0 || i >= len(s.elements) || len(s.elements[i]) == 0 {
		return ""
	}
	return s.elements[i][0]
}

// comp returns component j of element i, or "" when absent.
func (s segment) comp(i, j int) string {
	if i < 0 || i >= len(s.elements) || j < 0 || j >= len(s.elements[i]) {
		return ""
	}
	return s.elements[i][j]
}

// elemCount returns the number of elements after the tag.
func (s segment) elemCount() int {
	return len(s.elements)
}

// splitSegments cuts the raw document into segment strings on unescaped
// terminators. Release characters are preserved for the later element and
// component splits. Line breaks between segments are decorative.
func splitSegments(raw string) []string {
	var out []string
	var current strings.Builder
	escaped := false
	for _, r := range raw {
		if escaped {
			current.WriteRune(releaseChar)
			current.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case releaseChar:
			escaped = true
		case segmentTerminator:
			if text := strings.TrimSpace(current.String()); text != "" {
				out = append(out, text)
			}
			current.Reset()
		case '\n', '\r':
			// Segment terminators carry the structure; newlines do not.
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune(releaseChar)
	}
	if text := strings.TrimSpace(current.String()); text != "" {
		out = append(out, text)
	}
	return out
}

// splitEscaped splits s on sep, leaving release sequences in place so nested
// splits still see them.
func splitEscaped(s string, sep rune) []string {
	var parts []string
	var current strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		if r == releaseChar {
			current.WriteRune(r)
			escaped = true
			continue
		}
		if r == sep {
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	parts = append(parts, current.String())
	return parts
}

// unescape resolves release sequences into their literal characters.
func unescape(s string) string {
	var out strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			out.WriteRune(r)
			escaped = false
			continue
		}
		if r == releaseChar {
			escaped = true
			continue
		}
		out.WriteRune(r)
	}
	if escaped {
		out.WriteRune(releaseChar)
	}
	return out.String()
}

// parseSegment lexes one raw segment string.
func parseSegment(raw string, line int) (segment, error) {
	parts := splitEscaped(raw, elementSeparator)
	tag := strings.TrimSpace(unescape(parts[0]))
	if len(tag) != 3 {
		return segment{}, &QualifierError{Tag: tag, Line: line, Reason: "qualifier is not three letters"}
	}
	elements := make([][]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		rawComponents := splitEscaped(part, componentSeparator)
		components := make([]string, len(rawComponents))
		for i, c := range rawComponents {
			components[i] = unescape(c)
		}
		elements = append(elements, components)
	}
	return segment{tag: strings.ToUpper(tag), elements: elements, line: line}, nil
}
