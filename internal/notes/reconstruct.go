package notes

import (
	"unicode/utf8"

	apperrors "homeapi/internal/errors"
)

// Reconstruct keeps the first prefix and the last suffix characters of
// current and puts middle between them. Lengths count runes, not bytes.
//
// prefix+suffix may not exceed the rune count of current; overlapping
// regions have no sensible meaning and yield an INVALID_RANGE error.
func Reconstruct(current string, prefix, suffix int, middle string) (string, error) {
	length := utf8.RuneCountInString(current)
	if prefix < 0 || suffix < 0 || suffix > length || prefix > length-suffix {
		return "", apperrors.InvalidRange("reusable prefix and suffix exceed document length", map[string]int{
			"reusable_prefix_len": prefix,
			"reusable_suffix_len": suffix,
			"document_length":     length,
		})
	}

	head := current[:byteOffset(current, prefix)]
	tail := current[byteOffset(current, length-suffix):]

	out := make([]byte, 0, len(head)+len(middle)+len(tail))
	out = append(out, head...)
	out = append(out, middle...)
	out = append(out, tail...)
	return string(out), nil
}

// byteOffset returns the byte index at which the n-th rune of s starts,
// or len(s) when s has exactly n runes.
func byteOffset(s string, n int) int {
	offset := 0
	for i := 0; i < n; i++ {
		_, size := utf8.DecodeRuneInString(s[offset:])
		offset += size
	}
	return offset
}
