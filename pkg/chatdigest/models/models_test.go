package models

import (
	"testing"
	"time"
)

func TestProcessingStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ProcessingStatus
		want     bool
	}{
		{StatusNotStarted, StatusPending, true},
		{StatusNotStarted, StatusAnalyzed, false},
		{StatusNotStarted, StatusError, false},
		{StatusPending, StatusAnalyzed, true},
		{StatusPending, StatusError, true},
		{StatusPending, StatusNotStarted, false},
		{StatusAnalyzed, StatusError, false},
		{StatusAnalyzed, StatusNotStarted, false},
		{StatusError, StatusPending, false},
		{StatusError, StatusNotStarted, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestProcessingStatus_Terminal(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusAnalyzed || s == StatusError
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, s.Terminal())
		}
	}
	if !StatusError.CanRequeue() || StatusAnalyzed.CanRequeue() {
		t.Error("only error documents can be re-queued")
	}
}

func TestParseProcessingStatus(t *testing.T) {
	if _, err := ParseProcessingStatus("pending"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseProcessingStatus("PENDING"); err == nil {
		t.Fatal("expected error for unknown casing")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"19:00", TimeOfDay{19, 0}, false},
		{"07:05", TimeOfDay{7, 5}, false},
		{" 23:59 ", TimeOfDay{23, 59}, false},
		{"19:00:00", TimeOfDay{19, 0}, false},
		{"24:00", TimeOfDay{}, true},
		{"7pm", TimeOfDay{}, true},
		{"", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTimeOfDay_On(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	// 01:30 UTC on the 2nd is still the 1st in Sao Paulo.
	now := time.Date(2024, 3, 2, 1, 30, 0, 0, time.UTC)
	got := MustParseTimeOfDay("19:00").On(now, loc)

	if got.Day() != 1 || got.Hour() != 19 {
		t.Errorf("expected 19:00 on the 1st local, got %v", got)
	}
	if got.UTC().Day() != 1 || got.UTC().Hour() != 22 {
		t.Errorf("expected 22:00 UTC on the 1st, got %v", got.UTC())
	}
}

func TestUser_DisplayName(t *testing.T) {
	if got := (User{FirstName: "Ana", LastName: "Silva"}).DisplayName(); got != "Ana Silva" {
		t.Errorf("got %q", got)
	}
	if got := (User{Username: "ana"}).DisplayName(); got != "@ana" {
		t.Errorf("got %q", got)
	}
	if got := (User{ID: 7}).DisplayName(); got != "user 7" {
		t.Errorf("got %q", got)
	}
}
