package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dage/machine-evolved/journal"
)

func TestBestSummaryFromBoundedJournal(t *testing.T) {
	ctx := context.Background()
	store := journal.NewMemoryStore(2)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, f := range []float64{3, 8, 1, 5} {
		e := journal.Entry{TaskID: string(rune('a' + i)), ExperimentID: "exp", Fitness: f, WorkerID: i, CompletedAt: at}
		if err := store.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	top, err := store.Top(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(bestSummary(top))
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"task_id":"b","experiment_id":"exp","fitness":8,"worker_id":1,"completed_at":"2024-05-01T12:00:00Z"},` +
		`{"task_id":"d","experiment_id":"exp","fitness":5,"worker_id":3,"completed_at":"2024-05-01T12:00:00Z"}]`
	if string(data) != want {
		t.Errorf("summary = %s\nwant %s", data, want)
	}
}
