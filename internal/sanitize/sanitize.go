// Package sanitize bounds command output before it is shown to the operator.
package sanitize

import "unicode/utf8"

// DefaultMaxLength keeps a reply, including code fences, under the 2000
// character limit common to chat platforms.
const DefaultMaxLength = 1900

// TruncationMarker is appended to output that was cut short.
const TruncationMarker = "\n[TRUNCATED]"

// Bound returns text unchanged if it is at most max characters long.
// Otherwise it returns the first max characters followed by TruncationMarker.
// Length is counted in runes so multi-byte characters are never split.
// A non-positive max disables bounding.
//
// Bound is idempotent: bounding an already bounded string returns it as is.
func Bound(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i] + TruncationMarker
		}
		n++
	}
	return text
}
