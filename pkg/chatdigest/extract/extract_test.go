package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	x := New(DefaultConfig(), nil)
	ctx := context.Background()

	docx := buildDOCX(t, `<w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report</w:t></w:r></w:p><w:p><w:r><w:t>Line two</w:t></w:r></w:p>`)

	tests := []struct {
		name     string
		data     []byte
		mime     string
		filename string
		want     string
		wantErr  error
	}{
		{"plain by mime", []byte("hello\n"), "text/plain; charset=utf-8", "", "hello", nil},
		{"source by extension", []byte("package main"), "application/octet-stream", "main.go", "package main", nil},
		{"docx", docx, "", "report.docx", "Quarterly report\nLine two", nil},
		{"whitespace only", []byte("  \n\t"), "text/plain", "a.txt", "", ErrEmptyText},
		{"binary", []byte{0x89, 0x50}, "image/png", "a.png", "", ErrUnsupported},
		{"invalid utf8 text", []byte{0xff, 0xfe, 0x00}, "text/plain", "a.txt", "", ErrUnsupported},
		{"broken docx", []byte("not a zip"), "", "a.docx", "", ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := x.Extract(ctx, tt.data, tt.mime, tt.filename)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_Limits(t *testing.T) {
	x := New(Config{MaxFileBytes: 10, MaxRunes: 3}, nil)
	ctx := context.Background()

	if _, err := x.Extract(ctx, []byte(strings.Repeat("a", 11)), "text/plain", ""); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	got, err := x.Extract(ctx, []byte("héllo"), "text/plain", "")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != "hél" {
		t.Errorf("got %q, want %q", got, "hél")
	}
}

func TestExtract_DOCXUnpackLimit(t *testing.T) {
	// Highly compressible: a few KB zipped, 1MB unpacked.
	body := `<w:p><w:r><w:t>` + strings.Repeat("a", 1<<20) + `</w:t></w:r></w:p>`
	data := buildDOCX(t, body)

	x := New(Config{MaxFileBytes: 1 << 20, MaxRunes: 10, MaxUnpackedBytes: 64 * 1024}, nil)
	if _, err := x.Extract(context.Background(), data, "", "bomb.docx"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	x = New(Config{MaxFileBytes: 1 << 20, MaxRunes: 10, MaxUnpackedBytes: 2 << 20}, nil)
	got, err := x.Extract(context.Background(), data, "", "big.docx")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != strings.Repeat("a", 10) {
		t.Errorf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 0, "abc"},
		{"abc", 5, "abc"},
		{"abc", 3, "abc"},
		{"日本語テキスト", 3, "日本語"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
