package usage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/noah-ai-agent/internal/config"
	"github.com/nugget/noah-ai-agent/internal/llm"
	"github.com/nugget/noah-ai-agent/internal/tools"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, SessionID: "s-1", Model: "qwen3:4b", Purpose: PurposeReason, InputTokens: 800, OutputTokens: 40},
		{Timestamp: now, SessionID: "s-1", Model: "qwen3:4b", Purpose: PurposeReason, InputTokens: 1200, OutputTokens: 90},
		{Timestamp: now, SessionID: "s-2", Model: "claude-sonnet-4-20250514", Purpose: PurposeDraft, InputTokens: 2000, OutputTokens: 1000, CostUSD: 0.021},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 3 || sum.TotalInputTokens != 4000 || sum.TotalOutputTokens != 1130 {
		t.Errorf("summary = %+v", sum)
	}
	if !approx(sum.TotalCostUSD, 0.021) {
		t.Errorf("cost = %f", sum.TotalCostUSD)
	}

	byModel, err := s.SummaryByModel(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 2 || byModel["qwen3:4b"].TotalRecords != 2 {
		t.Errorf("by model = %+v", byModel)
	}

	byPurpose, err := s.SummaryByPurpose(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByPurpose: %v", err)
	}
	if byPurpose[PurposeDraft] == nil || byPurpose[PurposeDraft].TotalInputTokens != 2000 {
		t.Errorf("by purpose = %+v", byPurpose)
	}

	session, err := s.SessionSummary(ctx, "s-1")
	if err != nil {
		t.Fatalf("SessionSummary: %v", err)
	}
	if session.TotalRecords != 2 || session.TotalOutputTokens != 130 {
		t.Errorf("session summary = %+v", session)
	}
}

func TestSummary_FiltersByPeriod(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, ts := range []time.Time{now.Add(-48 * time.Hour), now.Add(-2 * time.Hour), now} {
		if err := s.Record(ctx, Record{Timestamp: ts, Model: "m", Purpose: PurposeReason, InputTokens: 10}); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-24*time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 2 {
		t.Errorf("records in last day = %d, want 2", sum.TotalRecords)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)
	sum, err := s.Summary(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 || sum.TotalCostUSD != 0 {
		t.Errorf("empty summary = %+v", sum)
	}

	byModel, err := s.SummaryByModel(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(byModel) != 0 {
		t.Errorf("by model = %+v", byModel)
	}
}

func TestComputeCost(t *testing.T) {
	pricing := testPricing()
	if got := ComputeCost("claude-sonnet-4-20250514", 2000, 1000, pricing); !approx(got, 0.021) {
		t.Errorf("sonnet cost = %f, want 0.021", got)
	}
	if got := ComputeCost("qwen3:4b", 2000, 1000, pricing); got != 0 {
		t.Errorf("unpriced model cost = %f, want 0", got)
	}
	if got := ComputeCost("claude-sonnet-4-20250514", 2000, 1000, nil); got != 0 {
		t.Errorf("nil pricing cost = %f, want 0", got)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	if _, err := NewStore("/nonexistent/dir/usage.db"); err == nil {
		t.Error("expected error for unwritable path")
	}
}

type stubLLM struct {
	resp *llm.ChatResponse
	err  error
}

func (s *stubLLM) Chat(context.Context, string, []llm.Message, []map[string]any) (*llm.ChatResponse, error) {
	return s.resp, s.err
}

func (s *stubLLM) Ping(context.Context) error { return s.err }

type memRecorder struct {
	recs []Record
	err  error
}

func (m *memRecorder) Record(_ context.Context, rec Record) error {
	m.recs = append(m.recs, rec)
	return m.err
}

func TestClient_RecordsSuccessfulCalls(t *testing.T) {
	rec := &memRecorder{}
	next := &stubLLM{resp: &llm.ChatResponse{Model: "claude-sonnet-4-20250514", InputTokens: 2000, OutputTokens: 1000}}
	c := NewClient(next, rec, PurposeDraft, testPricing(), nil)

	ctx := tools.WithTurn(context.Background(), "s-9", "nurse-1", "")
	if _, err := c.Chat(ctx, "claude-sonnet-4-20250514", nil, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(rec.recs) != 1 {
		t.Fatalf("got %d records", len(rec.recs))
	}
	got := rec.recs[0]
	if got.SessionID != "s-9" || got.Purpose != PurposeDraft || got.InputTokens != 2000 || !approx(got.CostUSD, 0.021) {
		t.Errorf("record = %+v", got)
	}
}

func TestClient_SkipsFailedCalls(t *testing.T) {
	rec := &memRecorder{}
	c := NewClient(&stubLLM{err: errors.New("connection refused")}, rec, PurposeReason, nil, nil)

	if _, err := c.Chat(context.Background(), "m", nil, nil); err == nil {
		t.Fatal("expected error to pass through")
	}
	if len(rec.recs) != 0 {
		t.Errorf("failed call recorded: %+v", rec.recs)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping should delegate")
	}
}

func TestClient_RecordFailureIsNotFatal(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	c := NewClient(&stubLLM{resp: &llm.ChatResponse{InputTokens: 5}}, rec, PurposeReason, nil, nil)

	resp, err := c.Chat(context.Background(), "qwen3:4b", nil, nil)
	if err != nil || resp == nil {
		t.Fatalf("Chat = %v, %v", resp, err)
	}
	if rec.recs[0].Model != "qwen3:4b" {
		t.Errorf("model should fall back to the requested name: %+v", rec.recs[0])
	}
}
