package channels

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf16"
	"unicode/utf8"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		limit      int
		wantChunks int
	}{
		{"short", "hello", 10, 1},
		{"exact", "0123456789", 10, 1},
		{"paragraphs", "aaaa aaaa\n\nbbbb bbbb", 12, 2},
		{"no spaces", strings.Repeat("x", 25), 10, 3},
		{"multibyte", strings.Repeat("é", 15), 10, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitMessage(tt.text, tt.limit)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks %q, want %d", len(chunks), chunks, tt.wantChunks)
			}
			for _, c := range chunks {
				if n := utf8.RuneCountInString(c); n > tt.limit {
					t.Errorf("chunk %q has %d runes, limit %d", c, n, tt.limit)
				}
				if !utf8.ValidString(c) {
					t.Errorf("chunk %q is not valid UTF-8", c)
				}
			}
		})
	}
}

func TestSplitMessageUTF16(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		limit      int
		wantChunks int
	}{
		{"ascii", strings.Repeat("x", 25), 10, 3},
		{"emoji", strings.Repeat("\U0001F600", 10), 10, 2},
		{"mixed words", "hi \U0001F600\U0001F600 there \U0001F600", 8, 2},
		{"wide rune over limit", "\U0001F600", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitMessageUTF16(tt.text, tt.limit)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks %q, want %d", len(chunks), chunks, tt.wantChunks)
			}
			if got := strings.Join(chunks, ""); strings.ReplaceAll(got, " ", "") != strings.ReplaceAll(tt.text, " ", "") {
				t.Errorf("chunks %q lost text", chunks)
			}
			for _, c := range chunks {
				if n := len(utf16.Encode([]rune(c))); n > tt.limit && utf8.RuneCountInString(c) > 1 {
					t.Errorf("chunk %q has %d units, limit %d", c, n, tt.limit)
				}
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	data, err := ReadFile(strings.NewReader("12345678"), 8)
	if err != nil || string(data) != "12345678" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	if _, err := ReadFile(strings.NewReader("123456789"), 8); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestSplitMessage_PrefersParagraphs(t *testing.T) {
	chunks := SplitMessage("first paragraph\n\nsecond one", 20)
	if len(chunks) != 2 || chunks[0] != "first paragraph" || chunks[1] != "second one" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestIncomingMessage_Command(t *testing.T) {
	tests := []struct {
		text  string
		cmd   string
		args  int
		isCmd bool
	}{
		{"/start", "/start", 0, true},
		{"/set_time@digest_bot -100 19:30", "/set_time", 2, true},
		{"/CHATS", "/chats", 0, true},
		{"hello", "", 0, false},
	}
	for _, tt := range tests {
		m := &IncomingMessage{Text: tt.text}
		cmd, args, ok := m.Command()
		if ok != tt.isCmd || cmd != tt.cmd || len(args) != tt.args {
			t.Errorf("Command(%q) = %q, %v, %v", tt.text, cmd, args, ok)
		}
	}
}
