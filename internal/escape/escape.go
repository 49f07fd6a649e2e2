// Package escape implements the one escaping grammar shared by the tail
// log and the block payload serializer: backslash-escape comma and
// backslash itself. Both callers round-trip through the same two
// functions so the grammar never drifts between the two file formats.
package escape

import "strings"

// Escape backslash-escapes ',' and '\\' so the result can be embedded in a
// comma-delimited line without ambiguity. Names must not contain a raw
// newline; Escape does not guard against that, callers validate it.
func Escape(s string) string {
	if !strings.ContainsAny(s, `,\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if r == ',' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Unescape reverses Escape. It is lenient about a trailing lone backslash
// (keeps it literally) since callers that hit one are already dealing with
// a torn write and want a best-effort decode, not a hard failure.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		b.WriteByte('\\')
	}
	return b.String()
}

// SplitEscaped splits s on unescaped commas, the row/column delimiter used
// by both the tail log line grammar and the block's list-row grammar.
// Each returned field is already unescaped -- callers must not run it
// through Unescape a second time.
func SplitEscaped(s string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}
