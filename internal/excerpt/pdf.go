package excerpt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDFText pulls the page content streams out of a PDF and scans them
// for text-showing operators. It is a rough extraction: positioning is lost
// and exotic encodings come out garbled, but it is enough context for the
// description prompts.
func extractPDFText(path string) (string, error) {
	dir, err := os.MkdirTemp("", "astra-pdf-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ExtractContentFile(path, dir, nil, conf); err != nil {
		return "", fmt.Errorf("extracting content streams: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		text := scanContentText(data)
		if text != "" {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(text)
		}
	}
	return out.String(), nil
}

// scanContentText walks a decoded PDF content stream and collects the string
// operands of the text-showing operators (Tj, TJ, ' and "). Strings consumed
// by any other operator are dropped.
func scanContentText(stream []byte) string {
	var out strings.Builder
	var pending []string

	flush := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
		out.WriteByte(' ')
		pending = pending[:0]
	}

	i := 0
	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '(':
			s, next := readLiteralString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '<':
			// Hex string or dict open; skip. Glyph mapping for hex strings
			// is not worth decoding here.
			for i < len(stream) && stream[i] != '>' {
				i++
			}
			i++
		case c == '\'' || c == '"':
			flush()
			i++
		case isOperatorStart(c):
			start := i
			for i < len(stream) && isRegular(stream[i]) {
				i++
			}
			op := string(stream[start:i])
			if op == "Tj" || op == "TJ" {
				flush()
			} else {
				pending = pending[:0]
			}
		default:
			// Whitespace, numbers, names, array brackets: strings under
			// consideration stay pending (TJ arrays interleave kerning
			// numbers with strings).
			if isRegular(c) {
				for i < len(stream) && isRegular(stream[i]) {
					i++
				}
				continue
			}
			i++
		}
	}
	flush()
	return strings.TrimSpace(out.String())
}

// isOperatorStart reports whether c can begin an operator token (as opposed
// to a numeric operand or a /Name).
func isOperatorStart(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// readLiteralString reads a PDF literal string starting at the '(' at
// position start, handling escapes and nested parentheses. It returns the
// decoded string and the index just past the closing ')'.
func readLiteralString(stream []byte, start int) (string, int) {
	var out strings.Builder
	depth := 0
	i := start
	for i < len(stream) {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 < len(stream) {
				switch stream[i+1] {
				case 'n':
					out.WriteByte('\n')
				case 't':
					out.WriteByte('\t')
				case 'r', 'b', 'f':
					// Ignored control escapes.
				default:
					out.WriteByte(stream[i+1])
				}
				i += 2
				continue
			}
			i++
		case '(':
			if depth > 0 {
				out.WriteByte(c)
			}
			depth++
			i++
		case ')':
			depth--
			if depth == 0 {
				return out.String(), i + 1
			}
			out.WriteByte(c)
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), i
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\x00', '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}
