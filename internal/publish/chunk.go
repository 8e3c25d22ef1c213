package publish

import "unicode/utf8"

// DefaultChunkBytes is the notification payload that fits the default
// ATT MTU of 23 bytes.
const DefaultChunkBytes = 20

// Chunk splits text into pieces of at most maxBytes, preferring word
// boundaries and never splitting a UTF-8 sequence. Concatenating the
// pieces yields text. Returns nil for empty text.
func Chunk(text string, maxBytes int) []string {
	if len(text) == 0 {
		return nil
	}
	if maxBytes <= 0 || len(text) <= maxBytes {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxBytes {
		split := maxBytes
		for split > 0 && !utf8.RuneStart(text[split]) {
			split--
		}
		if split == 0 {
			// A single rune wider than maxBytes; emit it whole.
			_, size := utf8.DecodeRuneInString(text)
			split = size
		} else if space := lastSpace(text[:split]); space > 0 {
			// Keep the space in the first piece so reassembly is exact.
			split = space
		}
		chunks = append(chunks, text[:split])
		text = text[split:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// lastSpace returns the index just past the last space in s, or -1.
func lastSpace(s string) int {
	for i := len(s); i > 0; i-- {
		if s[i-1] == ' ' {
			return i
		}
	}
	return -1
}
