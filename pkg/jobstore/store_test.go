package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewJobID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewJobID()
		if seen[id] {
			t.Fatalf("duplicate job id %s", id)
		}
		seen[id] = true
	}
}

func TestRecordProgress(t *testing.T) {
	tests := []struct {
		name    string
		current int
		total   int
		want    int
	}{
		{name: "zero of zero", current: 0, total: 0, want: 0},
		{name: "start", current: 0, total: 10, want: 0},
		{name: "midway rounding", current: 75, total: 165, want: 45},
		{name: "one third", current: 1, total: 3, want: 33},
		{name: "two thirds", current: 2, total: 3, want: 67},
		{name: "done", current: 165, total: 165, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{Current: tt.current, Total: tt.total}
			if got := rec.Progress(); got != tt.want {
				t.Errorf("Progress() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository())

	rec, err := store.Create(ctx, 165, "queued")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.Status != StatusPending {
		t.Errorf("Status = %s, want pending", rec.Status)
	}
	if rec.JobID == "" {
		t.Error("JobID is empty")
	}

	// Progress moves pending -> running.
	if err := store.Progress(ctx, rec.JobID, 75, "processing row 75"); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	got, err := store.Get(ctx, rec.JobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
	if got.Progress() != 45 {
		t.Errorf("Progress() = %d, want 45", got.Progress())
	}
	if got.EndTime != nil {
		t.Error("EndTime set before terminal state")
	}

	// Complete is terminal and carries the result.
	if err := store.Complete(ctx, rec.JobID, map[string]int{"ok": 160, "fail": 5}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, _ = store.Get(ctx, rec.JobID)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.EndTime == nil {
		t.Error("EndTime not set on completion")
	}
	var result map[string]int
	if err := json.Unmarshal(got.Result, &result); err != nil || result["ok"] != 160 {
		t.Errorf("Result = %s, want ok=160", got.Result)
	}
}

func TestStore_ProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository())

	rec, _ := store.Create(ctx, 100, "")
	if err := store.Progress(ctx, rec.JobID, 40, ""); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	// An out-of-order lower update must not move progress backwards.
	if err := store.Progress(ctx, rec.JobID, 30, ""); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}

	got, _ := store.Get(ctx, rec.JobID)
	if got.Current != 40 {
		t.Errorf("Current = %d, want 40 (non-decreasing)", got.Current)
	}

	// Current clamps to total.
	if err := store.Progress(ctx, rec.JobID, 500, ""); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	got, _ = store.Get(ctx, rec.JobID)
	if got.Current != 100 {
		t.Errorf("Current = %d, want 100 (clamped to total)", got.Current)
	}
}

func TestStore_TerminalStateIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository())

	rec, _ := store.Create(ctx, 10, "")
	if err := store.Fail(ctx, rec.JobID, "upstream auth failure"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	// Late writes racing the failure must be dropped, not applied.
	if err := store.Progress(ctx, rec.JobID, 9, "late update"); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if err := store.Complete(ctx, rec.JobID, "late result"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, _ := store.Get(ctx, rec.JobID)
	if got.Status != StatusFailed {
		t.Errorf("Status = %s, want failed (terminal)", got.Status)
	}
	if got.Error != "upstream auth failure" {
		t.Errorf("Error = %q, want original failure", got.Error)
	}
	if got.Result != nil {
		t.Errorf("Result = %s, want nil after dropped late completion", got.Result)
	}
	if got.Message == "late update" {
		t.Error("Message changed by dropped update")
	}
}

func TestStore_GetUnknownJob(t *testing.T) {
	store := NewStore(NewMemoryRepository())
	if _, err := store.Get(context.Background(), "job_0_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRecordView(t *testing.T) {
	start := time.Now().Add(-100 * time.Second)

	t.Run("running job estimates remaining", func(t *testing.T) {
		rec := &Record{
			JobID:     "job_1_abc",
			Status:    StatusRunning,
			Current:   50,
			Total:     100,
			StartTime: start,
		}
		view := rec.View(time.Now())

		if view.Progress != 50 {
			t.Errorf("Progress = %d, want 50", view.Progress)
		}
		if view.ElapsedSeconds < 99 || view.ElapsedSeconds > 101 {
			t.Errorf("ElapsedSeconds = %d, want ~100", view.ElapsedSeconds)
		}
		if view.RemainingSeconds == nil {
			t.Fatal("RemainingSeconds = nil, want estimate for running job")
		}
		// 50 items took ~100s, 50 remain.
		if *view.RemainingSeconds < 99 || *view.RemainingSeconds > 101 {
			t.Errorf("RemainingSeconds = %d, want ~100", *view.RemainingSeconds)
		}
	})

	t.Run("terminal job has no estimate and frozen elapsed", func(t *testing.T) {
		end := start.Add(30 * time.Second)
		rec := &Record{
			Status:    StatusCompleted,
			Current:   10,
			Total:     10,
			StartTime: start,
			EndTime:   &end,
		}
		view := rec.View(time.Now())

		if view.RemainingSeconds != nil {
			t.Error("RemainingSeconds set on terminal job")
		}
		if view.ElapsedSeconds != 30 {
			t.Errorf("ElapsedSeconds = %d, want 30 (frozen at end time)", view.ElapsedSeconds)
		}
	})

	t.Run("pending job has no estimate", func(t *testing.T) {
		rec := &Record{Status: StatusPending, Total: 10, StartTime: start}
		if view := rec.View(time.Now()); view.RemainingSeconds != nil {
			t.Error("RemainingSeconds set on pending job")
		}
	})
}

func TestMemoryRepository_Sweep(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now().Add(-5 * time.Minute)

	records := []*Record{
		{JobID: "job_1_old", Status: StatusCompleted, EndTime: &old},
		{JobID: "job_2_fresh", Status: StatusCompleted, EndTime: &fresh},
		{JobID: "job_3_running", Status: StatusRunning},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%s) error = %v", rec.JobID, err)
		}
	}

	deleted, err := repo.Sweep(ctx, time.Now().Add(-DefaultRetention))
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.Get(ctx, "job_1_old"); !errors.Is(err, ErrNotFound) {
		t.Error("expired record still present after sweep")
	}
	if _, err := repo.Get(ctx, "job_2_fresh"); err != nil {
		t.Errorf("fresh terminal record swept early: %v", err)
	}
	if _, err := repo.Get(ctx, "job_3_running"); err != nil {
		t.Errorf("running record swept: %v", err)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	old := time.Now().Add(-2 * time.Hour)
	if err := repo.Create(ctx, &Record{JobID: "job_1_old", Status: StatusFailed, EndTime: &old}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sweeper := NewSweeper(repo, time.Hour, 20*time.Millisecond)
	sweeper.Start()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := repo.Get(ctx, "job_1_old"); errors.Is(err, ErrNotFound) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove expired record")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Stop blocks until the loop exits and is safe to call twice.
	sweeper.Stop()
	sweeper.Stop()
}
