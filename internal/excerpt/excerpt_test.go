package excerpt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTruncateChars_OverBudget(t *testing.T) {
	input := strings.Repeat("a", 5000)
	out, truncated := TruncateChars(input, 4000)
	if !truncated {
		t.Error("want truncated = true")
	}
	if len(out) != 4000+len(Ellipsis) {
		t.Errorf("len = %d, want 4000 chars plus ellipsis", len(out))
	}
	if !strings.HasSuffix(out, Ellipsis) {
		t.Error("want trailing ellipsis marker")
	}
	if out[:4000] != input[:4000] {
		t.Error("truncated prefix differs from input")
	}
}

func TestTruncateChars_UnderBudget(t *testing.T) {
	input := strings.Repeat("b", 3000)
	out, truncated := TruncateChars(input, 4000)
	if truncated {
		t.Error("want truncated = false")
	}
	if out != input {
		t.Error("excerpt should equal input")
	}
}

func TestTruncateChars_MultibyteBoundary(t *testing.T) {
	input := strings.Repeat("é", 10)
	out, truncated := TruncateChars(input, 5)
	if !truncated {
		t.Error("want truncated = true")
	}
	if got := []rune(out); len(got) != 6 { // 5 runes + ellipsis
		t.Errorf("rune count = %d, want 6", len(got))
	}
}

func TestCollapseWhitespace(t *testing.T) {
	cases := []struct{ in, want string }{
		{"a  b\t\tc", "a b c"},
		{"  leading and trailing  ", "leading and trailing"},
		{"line\nbreaks\r\nhere", "line breaks here"},
		{"", ""},
		{"single", "single"},
	}
	for _, tc := range cases {
		if got := CollapseWhitespace(tc.in); got != tc.want {
			t.Errorf("CollapseWhitespace(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtract_PlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello\r\n  world  again"), 0o644); err != nil {
		t.Fatal(err)
	}

	ex, err := Extract(path)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Text != "hello world again" {
		t.Errorf("text = %q", ex.Text)
	}
	if ex.Truncated {
		t.Error("short file should not be truncated")
	}
}

func TestExtract_MissingFile(t *testing.T) {
	if _, err := Extract(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestRawBase64_Truncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	enc, truncated, err := rawBase64(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !truncated {
		t.Error("want truncated = true")
	}
	if enc != "MDEyMw==" { // base64("0123")
		t.Errorf("enc = %q", enc)
	}

	enc, truncated, err = rawBase64(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	if truncated {
		t.Error("want truncated = false")
	}
	if enc == "" {
		t.Error("want non-empty encoding")
	}
}

func TestRawBase64_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	enc, truncated, err := RawBase64(path)
	if err != nil {
		t.Fatal(err)
	}
	if enc != "" || truncated {
		t.Errorf("enc = %q truncated = %v, want empty and false", enc, truncated)
	}
}

func TestScanContentText(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf 72 720 Td (Hello) Tj [(wor) -20 (ld)] TJ ET`)
	got := scanContentText(stream)
	if got != "Hello world" {
		t.Errorf("got %q, want %q", got, "Hello world")
	}
}

func TestScanContentText_Escapes(t *testing.T) {
	stream := []byte(`(a \(nested\) \\ b) Tj`)
	got := scanContentText(stream)
	if got != `a (nested) \ b` {
		t.Errorf("got %q", got)
	}
}
