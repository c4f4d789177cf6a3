// Package excerpt extracts bounded plain-text excerpts and raw payloads from
// stored files for inclusion in prompts.
package excerpt

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxChars bounds the number of characters of extracted text included in
	// prompts.
	MaxChars = 4000
	// MaxRawBytes bounds the raw payload fed into prompts (pre-encoding).
	MaxRawBytes = 512 * 1024
	// Ellipsis marks a truncated excerpt.
	Ellipsis = "…"
)

// Excerpt is a cleaned, size-bounded slice of a file's text content.
type Excerpt struct {
	Text      string
	Truncated bool
}

// Extract reads the file at path and produces a prompt-ready excerpt. PDF
// files go through content extraction; anything else is decoded as raw text.
// Consecutive whitespace collapses to single spaces and carriage returns are
// stripped before truncation.
func Extract(path string) (Excerpt, error) {
	var raw string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err := extractPDFText(path)
		if err != nil {
			return Excerpt{}, fmt.Errorf("extracting pdf text: %w", err)
		}
		raw = text
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return Excerpt{}, fmt.Errorf("reading file: %w", err)
		}
		raw = string(data)
	}

	cleaned := strings.ReplaceAll(raw, "\r", "")
	condensed := CollapseWhitespace(cleaned)
	text, truncated := TruncateChars(condensed, MaxChars)
	return Excerpt{Text: text, Truncated: truncated}, nil
}

// TruncateChars cuts text to at most max characters, appending the ellipsis
// marker when anything was dropped.
func TruncateChars(text string, max int) (string, bool) {
	if max == 0 {
		return "", text != ""
	}

	runes := []rune(text)
	if len(runes) <= max {
		return text, false
	}
	return string(runes[:max]) + Ellipsis, true
}

// CollapseWhitespace folds runs of whitespace into single spaces and trims
// the ends.
func CollapseWhitespace(input string) string {
	var out strings.Builder
	out.Grow(len(input))
	prevWasSpace := false
	for _, ch := range input {
		switch ch {
		case ' ', '\t', '\n', '\v', '\f', '\r', ' ':
			if !prevWasSpace {
				out.WriteByte(' ')
			}
			prevWasSpace = true
		default:
			prevWasSpace = false
			out.WriteRune(ch)
		}
	}
	return strings.TrimSpace(out.String())
}

// RawBase64 reads up to MaxRawBytes of the file and encodes it for prompt
// inclusion. The second return reports whether the file exceeded the budget.
func RawBase64(path string) (string, bool, error) {
	return rawBase64(path, MaxRawBytes)
}

func rawBase64(path string, maxBytes int) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	if len(data) == 0 {
		return "", false, nil
	}
	truncated := len(data) > maxBytes
	if truncated {
		data = data[:maxBytes]
	}
	return base64.StdEncoding.EncodeToString(data), truncated, nil
}
