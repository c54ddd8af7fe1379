package discord

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

func TestConvertMessage(t *testing.T) {
	d := New(Config{AllowedGuilds: []string{"900"}}, nil)
	author := &discordgo.User{ID: "7", Username: "ana", GlobalName: "Ana"}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		msg      *discordgo.Message
		wantNil  bool
		wantType models.MessageType
		group    bool
	}{
		{
			name:     "guild text",
			msg:      &discordgo.Message{ID: "1", ChannelID: "555", GuildID: "900", Author: author, Content: "hello", Timestamp: ts},
			wantType: models.MessageText,
			group:    true,
		},
		{
			name: "guild attachment",
			msg: &discordgo.Message{ID: "2", ChannelID: "555", GuildID: "900", Author: author, Timestamp: ts,
				Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn/a.txt", Filename: "a.txt", ContentType: "text/plain", Size: 3}}},
			wantType: models.MessageDocument,
			group:    true,
		},
		{
			name:     "direct message",
			msg:      &discordgo.Message{ID: "3", ChannelID: "556", Author: author, Content: "/chats", Timestamp: ts},
			wantType: models.MessageText,
		},
		{
			name:    "other guild",
			msg:     &discordgo.Message{ID: "4", ChannelID: "555", GuildID: "901", Author: author, Content: "x"},
			wantNil: true,
		},
		{
			name:    "bot author",
			msg:     &discordgo.Message{ID: "5", ChannelID: "555", GuildID: "900", Author: &discordgo.User{ID: "8", Bot: true}, Content: "x"},
			wantNil: true,
		},
		{
			name:    "self",
			msg:     &discordgo.Message{ID: "6", ChannelID: "555", GuildID: "900", Author: &discordgo.User{ID: "99"}, Content: "x"},
			wantNil: true,
		},
		{
			name:    "empty",
			msg:     &discordgo.Message{ID: "7", ChannelID: "555", GuildID: "900", Author: author},
			wantNil: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.convertMessage(tt.msg, "99")
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected event")
			}
			if got.Type != tt.wantType || got.IsGroup != tt.group || got.From.ID != 7 {
				t.Errorf("unexpected event: %+v", got)
			}
			if tt.wantType == models.MessageDocument && (got.Document == nil || got.Document.Handle != "https://cdn/a.txt") {
				t.Errorf("unexpected document: %+v", got.Document)
			}
		})
	}
}

func TestFetchFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.txt" {
			w.Write([]byte("content"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(Config{}, nil)
	data, err := d.FetchFile(context.Background(), srv.URL+"/ok.txt")
	if err != nil || string(data) != "content" {
		t.Fatalf("FetchFile = %q, %v", data, err)
	}
	if _, err := d.FetchFile(context.Background(), srv.URL+"/gone.txt"); !errors.Is(err, channels.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestFetchFile_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	d := New(Config{MaxFileBytes: 16}, nil)
	if _, err := d.FetchFile(context.Background(), srv.URL+"/big.txt"); !errors.Is(err, channels.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestRestError(t *testing.T) {
	err := restError("send message", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}})
	if !errors.Is(err, channels.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if err := restError("send message", errors.New("boom")); errors.Is(err, channels.ErrBadRequest) {
		t.Fatalf("did not expect ErrBadRequest for %v", err)
	}
}
