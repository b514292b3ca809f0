package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Record(ctx, Record{
			SessionID:    "s1",
			Model:        "claude-test",
			Provider:     "anthropic",
			InputTokens:  100,
			OutputTokens: 10,
		})
		if err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}

	sum, err := s.Summarize(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if sum.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 300 || sum.TotalOutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 300/30", sum.TotalInputTokens, sum.TotalOutputTokens)
	}
}

func TestSummarize_SinceWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := Record{
		Timestamp:    time.Now().UTC().Add(-48 * time.Hour),
		Model:        "claude-test",
		Provider:     "anthropic",
		InputTokens:  500,
		OutputTokens: 50,
	}
	recent := Record{
		Model:        "claude-test",
		Provider:     "anthropic",
		InputTokens:  100,
		OutputTokens: 10,
	}
	if err := s.Record(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, recent); err != nil {
		t.Fatal(err)
	}

	sum, err := s.Summarize(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 1 || sum.TotalInputTokens != 100 {
		t.Errorf("windowed summary = %+v, want only the recent record", sum)
	}
}

func TestByModel_OrderedByCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, Record{Model: "busy", Provider: "openai", InputTokens: 10, OutputTokens: 1}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.Record(ctx, Record{Model: "quiet", Provider: "anthropic", InputTokens: 20, OutputTokens: 2}); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.ByModel(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ByModel error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Model != "busy" || rows[0].Records != 5 || rows[0].InputTokens != 50 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if rows[1].Model != "quiet" || rows[1].Records != 2 {
		t.Errorf("rows[1] = %+v", rows[1])
	}
}

func TestRecord_FillsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Record{Model: "m", Provider: "p"}); err != nil {
		t.Fatal(err)
	}
	// A second record with no explicit ID must not collide.
	if err := s.Record(ctx, Record{Model: "m", Provider: "p"}); err != nil {
		t.Errorf("second defaulted record rejected: %v", err)
	}
}
