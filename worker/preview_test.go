package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPreviewCompletes(t *testing.T) {
	cfg := testConfig(t, 120)
	var progress []int
	res, err := Preview(context.Background(), unit(t, "best"), cfg, PreviewOptions{
		Logger:   quiet(),
		Progress: func(ticks int, _ float64) { progress = append(progress, ticks) },
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !res.Completed || res.Ticks != 120 {
		t.Errorf("result = %+v", res)
	}
	if res.Task.ID != "best" {
		t.Errorf("task = %+v", res.Task)
	}
	if len(progress) != 2 || progress[0] != 60 || progress[1] != 120 {
		t.Errorf("progress = %v", progress)
	}
}

func TestPreviewCancelled(t *testing.T) {
	cfg := testConfig(t, 3600)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := Preview(ctx, unit(t, "best"), cfg, PreviewOptions{Logger: quiet(), Realtime: true})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if res.Completed {
		t.Error("cancelled preview reported completion")
	}
	if res.Ticks >= 3600 {
		t.Errorf("ticks = %d", res.Ticks)
	}
}

func TestPreviewRejectsMalformed(t *testing.T) {
	cfg := testConfig(t, 60)
	u := unit(t, "bad")
	u.Task.Name = "SWIM"
	if _, err := Preview(context.Background(), u, cfg, PreviewOptions{Logger: quiet()}); err == nil {
		t.Fatal("expected error for unknown task")
	}
}
