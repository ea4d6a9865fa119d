// Package matcher implements the verdict-matching rules that decide
// Accept/WrongAnswer once a case has produced output within its limits.
package matcher

import "bytes"

// Rule selects how two byte sequences are compared.
type Rule int

const (
	// Exact requires full byte-for-byte equality; a trailing newline in
	// expected output is significant only under this rule.
	Exact Rule = iota
	// IgnoreSpaceAndNewline tokenizes both sides on runs of space/newline
	// and compares the resulting token sequences.
	IgnoreSpaceAndNewline
	// SkipSpaceAndNewline filters out all space/newline bytes from both
	// sides and compares what remains.
	SkipSpaceAndNewline
)

// Match compares actual against expected under rule. It is symmetric and
// reflexive for all rules: Match(x, x, r) == true for any x and r.
func Match(actual, expected []byte, rule Rule) bool {
	switch rule {
	case IgnoreSpaceAndNewline:
		return tokenEqual(actual, expected)
	case SkipSpaceAndNewline:
		return bytes.Equal(filterSpaceNewline(actual), filterSpaceNewline(expected))
	default:
		return bytes.Equal(actual, expected)
	}
}

func isSpaceOrNewline(b byte) bool { return b == ' ' || b == '\n' }

// tokenEqual splits both sequences on runs of space/newline and compares
// the resulting token sequences for equality.
func tokenEqual(a, b []byte) bool {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) != len(tb) {
		return false
	}
	for i := range ta {
		if !bytes.Equal(ta[i], tb[i]) {
			return false
		}
	}
	return true
}

func tokenize(s []byte) [][]byte {
	return bytes.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '\n' })
}

func filterSpaceNewline(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for _, b := range s {
		if !isSpaceOrNewline(b) {
			out = append(out, b)
		}
	}
	return out
}
