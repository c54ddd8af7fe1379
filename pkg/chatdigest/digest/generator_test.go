package digest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/database"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/metrics"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/store"
)

// t0 is a 19:00 tick, the default digest time.
var t0 = time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)

type fakeSender struct {
	sent map[int64][]string
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

type fakeLLM struct {
	calls  int
	bodies []string
	err    error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	f.calls++
	f.bodies = append(f.bodies, user)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("Hello! digest #%d", f.calls), nil
}

type fixture struct {
	store  *store.Store
	sender *fakeSender
	llm    *fakeLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config := database.DefaultHubConfig()
	config.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	hub, err := database.NewHub(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	t.Cleanup(func() { hub.Close() })

	st, err := store.NewFromHub(hub, store.WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("NewFromHub failed: %v", err)
	}
	return &fixture{store: st, sender: &fakeSender{}, llm: &fakeLLM{}}
}

func (f *fixture) generator(t *testing.T, cfg Config) *Generator {
	t.Helper()
	g, err := NewGenerator(f.store, f.sender, f.llm, cfg, nil)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	return g
}

func (f *fixture) chat(t *testing.T, chatID int64, at string) int64 {
	t.Helper()
	ctx := context.Background()
	if err := f.store.CreateChat(ctx, models.Chat{ID: chatID, Title: "team"}, models.MustParseTimeOfDay(at)); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	userID := -chatID
	if err := f.store.UpsertUser(ctx, models.User{ID: userID, Username: "ana"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	return userID
}

func (f *fixture) message(t *testing.T, chatID, userID int64, text string, sentAt time.Time) {
	t.Helper()
	_, err := f.store.AddMessage(context.Background(), models.Message{
		ChatID: chatID, SenderUserID: userID, Text: text, Type: models.MessageText, SentAt: sentAt,
	})
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
}

func (f *fixture) analyzedDocument(t *testing.T, chatID, userID int64, summary string, sentAt time.Time) {
	t.Helper()
	ctx := context.Background()
	_, docID, err := f.store.AddDocumentMessage(ctx,
		models.Message{ChatID: chatID, SenderUserID: userID, SentAt: sentAt},
		models.Document{FileHandle: fmt.Sprintf("h-%d-%d", chatID, sentAt.Unix()), FileName: "a.txt"})
	if err != nil {
		t.Fatalf("AddDocumentMessage failed: %v", err)
	}
	doc, err := f.store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	claimed, err := f.store.MarkPending(ctx, []models.Document{doc})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("MarkPending = %v, %v", claimed, err)
	}
	if err := f.store.SaveDocumentSummary(ctx, claimed[0], summary); err != nil {
		t.Fatalf("SaveDocumentSummary failed: %v", err)
	}
}

func (f *fixture) summaries(t *testing.T, chatID int64) []models.Summary {
	t.Helper()
	list, err := f.store.ListSummaries(context.Background(), chatID, 10)
	if err != nil {
		t.Fatalf("ListSummaries failed: %v", err)
	}
	return list
}

func TestRunOnce_DigestAtConfiguredTime(t *testing.T) {
	f := newFixture(t)
	user := f.chat(t, -100, "19:00")
	f.message(t, -100, user, "we ship on friday", t0.Add(-2*time.Hour))
	f.message(t, -100, user, "old news", t0.Add(-25*time.Hour))

	outcomes, err := f.generator(t, DefaultConfig()).RunOnce(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != metrics.DigestSent {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}

	list := f.summaries(t, -100)
	if len(list) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(list))
	}
	if !list[0].Until.Equal(t0) || !list[0].Since.Equal(t0.Add(-24*time.Hour)) {
		t.Errorf("window = [%v, %v)", list[0].Since, list[0].Until)
	}
	if f.llm.bodies[0] != "we ship on friday" {
		t.Errorf("body = %q", f.llm.bodies[0])
	}
	if len(f.sender.sent[-100]) != 1 {
		t.Errorf("expected one delivery, got %v", f.sender.sent)
	}
}

func TestRunOnce_EmptyWindowSkipsChat(t *testing.T) {
	f := newFixture(t)
	f.chat(t, -100, "19:00")

	outcomes, err := f.generator(t, DefaultConfig()).RunOnce(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != metrics.DigestSkipped {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if n := len(f.summaries(t, -100)); n != 0 {
		t.Errorf("expected no summary, got %d", n)
	}
	if f.llm.calls != 0 || len(f.sender.sent) != 0 {
		t.Errorf("expected no generation or delivery, got %d calls, %v sent", f.llm.calls, f.sender.sent)
	}
}

func TestRunOnce_DocumentSummariesOnly(t *testing.T) {
	f := newFixture(t)
	user := f.chat(t, -100, "19:00")
	f.analyzedDocument(t, -100, user, "the report covers Q1 revenue", t0.Add(-time.Hour))

	if _, err := f.generator(t, DefaultConfig()).RunOnce(context.Background(), t0); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n := len(f.summaries(t, -100)); n != 1 {
		t.Fatalf("expected 1 summary, got %d", n)
	}
	if f.llm.bodies[0] != "the report covers Q1 revenue" {
		t.Errorf("body = %q", f.llm.bodies[0])
	}
}

func TestRunOnce_DeliveryFailureKeepsSummary(t *testing.T) {
	f := newFixture(t)
	user := f.chat(t, -100, "19:00")
	f.message(t, -100, user, "hi", t0.Add(-time.Minute))
	f.sender.err = fmt.Errorf("%w: chat not found", channels.ErrBadRequest)

	outcomes, err := f.generator(t, DefaultConfig()).RunOnce(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcomes[0].Status != metrics.DigestNotSent {
		t.Errorf("status = %s", outcomes[0].Status)
	}
	if n := len(f.summaries(t, -100)); n != 1 {
		t.Fatalf("expected summary to persist, got %d", n)
	}
}

func TestRunOnce_GenerationFailureSkipsChat(t *testing.T) {
	f := newFixture(t)
	user := f.chat(t, -100, "19:00")
	f.message(t, -100, user, "hi", t0.Add(-time.Minute))
	f.llm.err = errors.New("provider down")

	outcomes, err := f.generator(t, DefaultConfig()).RunOnce(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcomes[0].Status != metrics.DigestFailed {
		t.Errorf("status = %s", outcomes[0].Status)
	}
	if n := len(f.summaries(t, -100)); n != 0 {
		t.Errorf("expected no summary, got %d", n)
	}
}

func TestRunOnce_OneDigestPerSlot(t *testing.T) {
	f := newFixture(t)
	user := f.chat(t, -100, "19:00")
	f.message(t, -100, user, "hi", t0.Add(-time.Minute))
	g := f.generator(t, DefaultConfig())
	ctx := context.Background()

	for _, tick := range []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)} {
		if _, err := g.RunOnce(ctx, tick); err != nil {
			t.Fatalf("RunOnce(%v) failed: %v", tick, err)
		}
	}
	if n := len(f.summaries(t, -100)); n != 1 {
		t.Fatalf("expected exactly one digest, got %d", n)
	}
}

func TestRunOnce_WindowsDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.chat(t, -100, "19:00")
	f.message(t, -100, user, "first", t0.Add(-time.Hour))

	g := f.generator(t, DefaultConfig())
	if _, err := g.RunOnce(ctx, t0); err != nil {
		t.Fatalf("first RunOnce failed: %v", err)
	}

	// A later digest time the same day gives the chat a second slot.
	if err := f.store.SetSummaryTime(ctx, -100, models.MustParseTimeOfDay("19:30")); err != nil {
		t.Fatalf("SetSummaryTime failed: %v", err)
	}
	f.message(t, -100, user, "second", t0.Add(10*time.Minute))

	second := t0.Add(30 * time.Minute)
	outcomes, err := g.RunOnce(ctx, second)
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != metrics.DigestSent {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if !outcomes[0].Since.Equal(t0) || !outcomes[0].Until.Equal(second) {
		t.Errorf("second window = [%v, %v), want [%v, %v)", outcomes[0].Since, outcomes[0].Until, t0, second)
	}

	if len(f.llm.bodies) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(f.llm.bodies))
	}
	if f.llm.bodies[0] != "first" || f.llm.bodies[1] != "second" {
		t.Errorf("bodies = %q", f.llm.bodies)
	}

	list := f.summaries(t, -100)
	if len(list) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(list))
	}
	newer, older := list[0], list[1]
	if !newer.Since.Equal(older.Until) {
		t.Errorf("windows overlap: [%v, %v) then [%v, %v)", older.Since, older.Until, newer.Since, newer.Until)
	}
}

func TestRunOnce_OnlyDueChats(t *testing.T) {
	f := newFixture(t)
	early := f.chat(t, -100, "19:00")
	late := f.chat(t, -200, "21:30")
	f.message(t, -100, early, "a", t0.Add(-time.Minute))
	f.message(t, -200, late, "b", t0.Add(-time.Minute))

	outcomes, err := f.generator(t, DefaultConfig()).RunOnce(context.Background(), t0.Add(30*time.Second))
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].ChatID != -100 {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
}

func TestRunOnce_DryRun(t *testing.T) {
	f := newFixture(t)
	user := f.chat(t, -100, "19:00")
	f.message(t, -100, user, "hi", t0.Add(-time.Minute))

	cfg := DefaultConfig()
	cfg.DryRun = true
	outcomes, err := f.generator(t, cfg).RunOnce(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcomes[0].Status != metrics.DigestDryRun {
		t.Errorf("status = %q, want %q", outcomes[0].Status, metrics.DigestDryRun)
	}
	if outcomes[0].Content == "" {
		t.Error("dry run should still return the generated content")
	}
	if n := len(f.summaries(t, -100)); n != 0 || len(f.sender.sent) != 0 {
		t.Errorf("dry run saved %d summaries and sent %v", n, f.sender.sent)
	}
}

func TestBody(t *testing.T) {
	msgs := []models.Message{{Text: "one"}, {Text: ""}, {Text: "two"}}
	got := Body(msgs, []string{"doc", ""})
	if got != "one\ntwo\ndoc" {
		t.Errorf("Body = %q", got)
	}
	if Body(nil, nil) != "" {
		t.Error("empty input should give empty body")
	}
}

func TestNewGenerator_InvalidSchedule(t *testing.T) {
	_, err := NewGenerator(nil, nil, nil, Config{Schedule: "every minute"}, nil)
	if err == nil || !strings.Contains(err.Error(), "schedule") {
		t.Fatalf("expected schedule error, got %v", err)
	}
}

func TestRunForever_Shutdown(t *testing.T) {
	f := newFixture(t)
	g := f.generator(t, Config{Schedule: "@every 1s"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.RunForever(ctx); !errors.Is(err, daemon.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}
