// Package extract turns downloaded document bytes into plain text for
// summarization. Supports plain text and source files, PDF (via pdftotext)
// and DOCX.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupported is returned for formats no extractor handles.
	ErrUnsupported = errors.New("unsupported document format")

	// ErrEmptyText is returned when a document yields no readable text.
	ErrEmptyText = errors.New("document contains no extractable text")

	// ErrTooLarge is returned when a document exceeds the configured size.
	ErrTooLarge = errors.New("document too large")
)

// Extractor converts a document to text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType, filename string) (string, error)
}

// Config configures the default extractor.
type Config struct {
	// MaxFileBytes rejects larger documents before extraction.
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// MaxRunes truncates extracted text.
	MaxRunes int `yaml:"max_runes"`

	// MaxUnpackedBytes bounds the decompressed size of an archive entry
	// (DOCX word/document.xml).
	MaxUnpackedBytes int64 `yaml:"max_unpacked_bytes"`

	// PDFToText is the pdftotext binary (default: looked up in PATH).
	PDFToText string `yaml:"pdftotext"`
}

// DefaultConfig returns the default extraction limits.
func DefaultConfig() Config {
	return Config{
		MaxFileBytes:     20 * 1024 * 1024, // 20MB
		MaxRunes:         60000,
		MaxUnpackedBytes: 64 * 1024 * 1024, // 64MB
		PDFToText:        "pdftotext",
	}
}

// Default is the built-in extractor.
type Default struct {
	cfg    Config
	logger *slog.Logger
}

// New creates the built-in extractor.
func New(cfg Config, logger *slog.Logger) *Default {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PDFToText == "" {
		cfg.PDFToText = "pdftotext"
	}
	if cfg.MaxUnpackedBytes <= 0 {
		cfg.MaxUnpackedBytes = DefaultConfig().MaxUnpackedBytes
	}
	return &Default{cfg: cfg, logger: logger.With("component", "extract")}
}

// Extract implements Extractor.
func (d *Default) Extract(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	if d.cfg.MaxFileBytes > 0 && int64(len(data)) > d.cfg.MaxFileBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), d.cfg.MaxFileBytes)
	}

	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		text string
		err  error
	)
	switch {
	case mime == "application/pdf" || ext == ".pdf":
		text, err = d.pdf(ctx, data)
	case mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" || ext == ".docx":
		text, err = docx(data, d.cfg.MaxUnpackedBytes)
	case isPlainText(mime, ext):
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text file is not valid UTF-8", ErrUnsupported)
		}
		text = string(data)
	default:
		return "", fmt.Errorf("%w: mime=%q ext=%q", ErrUnsupported, mimeType, ext)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return Truncate(text, d.cfg.MaxRunes), nil
}

// Truncate cuts s to at most n runes. n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// isPlainText checks if the MIME type or extension indicates plain text.
func isPlainText(mime, ext string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/javascript",
		"application/x-yaml", "application/x-sh", "application/sql":
		return true
	}
	switch ext {
	case ".txt", ".csv", ".md", ".json", ".xml", ".html", ".htm",
		".js", ".ts", ".py", ".go", ".rs", ".java", ".c", ".cpp",
		".h", ".css", ".yaml", ".yml", ".toml", ".ini", ".cfg",
		".sh", ".bash", ".sql", ".log":
		return true
	}
	return false
}

// pdf runs pdftotext over a temp copy of the document.
func (d *Default) pdf(ctx context.Context, data []byte) (string, error) {
	bin, err := exec.LookPath(d.cfg.PDFToText)
	if err != nil {
		d.logger.Warn("pdftotext not found, install poppler-utils for PDF support")
		return "", fmt.Errorf("%w: pdftotext not installed", ErrUnsupported)
	}

	tmp, err := os.CreateTemp("", "chatdigest-pdf-*.pdf")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, bin, "-layout", tmp.Name(), "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// docx reads paragraph text from word/document.xml, refusing entries that
// unpack to more than max bytes.
func docx(data []byte, max int64) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a valid DOCX archive: %v", ErrUnsupported, err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		if f.UncompressedSize64 > uint64(max) {
			return "", fmt.Errorf("%w: document.xml unpacks to %d bytes (max %d)", ErrTooLarge, f.UncompressedSize64, max)
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening document.xml: %w", err)
		}
		defer rc.Close()
		// The header size can lie; count what is actually inflated.
		xmlData, err := io.ReadAll(io.LimitReader(rc, max+1))
		if err != nil {
			return "", fmt.Errorf("reading document.xml: %w", err)
		}
		if int64(len(xmlData)) > max {
			return "", fmt.Errorf("%w: document.xml unpacks to more than %d bytes", ErrTooLarge, max)
		}
		return wordText(bytes.NewReader(xmlData))
	}
	return "", fmt.Errorf("%w: word/document.xml missing", ErrUnsupported)
}

// wordText collects <w:t> runs, breaking lines at paragraphs and tabs.
func wordText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document.xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}
	return sb.String(), nil
}
