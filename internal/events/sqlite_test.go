package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vidgen/internal/domain"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "events", "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	m := domain.MustMoney
	evts := []Event{
		{ID: "a", Seq: 1, Timestamp: base.Add(-48 * time.Hour), Kind: KindAttempt, Provider: "pika", Status: "succeeded", Cost: m("1.00")},
		{ID: "b", Seq: 2, Timestamp: base, Kind: KindAttempt, Provider: "pika", Status: "succeeded", Cost: m("0.55")},
		{ID: "c", Seq: 3, Timestamp: base.Add(time.Minute), Kind: KindAttempt, Provider: "kling", Status: "skipped", ErrorKind: "budget_denied"},
		{ID: "d", Seq: 4, Timestamp: base.Add(2 * time.Minute), Kind: KindJobResolved, JobID: "j", Status: "succeeded"},
	}
	for _, e := range evts {
		if err := sink.Write(ctx, e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := sink.Write(ctx, evts[1]); err != nil {
		t.Fatalf("duplicate write should be ignored: %v", err)
	}

	spent, err := sink.SpendSince(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SpendSince: %v", err)
	}
	if spent != m("0.55") {
		t.Fatalf("spent = %s, want 0.55", spent)
	}

	stats, err := sink.ProviderStats(ctx)
	if err != nil {
		t.Fatalf("ProviderStats: %v", err)
	}
	if len(stats) != 2 || stats[0].Provider != "kling" || stats[1].Provider != "pika" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Attempts != 0 || stats[0].Skipped != 1 {
		t.Fatalf("kling = %+v", stats[0])
	}
	if stats[1].Attempts != 2 || stats[1].TotalCost != m("1.55") || stats[1].SuccessRate != 1 {
		t.Fatalf("pika = %+v", stats[1])
	}
}
