package indexer

import "strings"

// Preprocess normalizes loaded text before splitting: a leading byte order
// mark and NUL bytes are dropped, line endings become "\n" and trailing
// whitespace is trimmed. Inner whitespace is kept so passages quote the
// source faithfully.
func Preprocess(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimRight(text, " \t\n")
}
