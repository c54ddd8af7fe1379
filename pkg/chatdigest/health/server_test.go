package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/metrics"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeChannel struct {
	name      string
	connected bool
}

func (f fakeChannel) Name() string { return f.name }
func (f fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: f.connected}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		chans    []ChannelHealth
		wantCode int
		wantFail string
	}{
		{"all healthy", fakePinger{}, []ChannelHealth{fakeChannel{"telegram", true}}, http.StatusOK, ""},
		{"database down", fakePinger{err: errors.New("refused")}, nil, http.StatusServiceUnavailable, "database"},
		{"no database", nil, nil, http.StatusServiceUnavailable, "database"},
		{"transport down", fakePinger{}, []ChannelHealth{fakeChannel{"discord", false}}, http.StatusServiceUnavailable, "discord"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(New(DefaultConfig(), tt.db, tt.chans, nil).Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/readyz")
			if err != nil {
				t.Fatalf("GET /readyz failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}

			var body readyResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if tt.wantFail != "" && body.Checks[tt.wantFail].Status != "fail" {
				t.Errorf("check %q = %+v, want fail", tt.wantFail, body.Checks[tt.wantFail])
			}
		})
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := httptest.NewServer(New(DefaultConfig(), fakePinger{}, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	metrics.SetDatabaseUp(true)
	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(body), "chatdigest_database_up 1") {
		t.Error("metrics output missing chatdigest_database_up")
	}
}

func TestRunForever_Shutdown(t *testing.T) {
	s := New(Config{Address: "127.0.0.1:0"}, fakePinger{}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.RunForever(ctx); !errors.Is(err, daemon.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}
