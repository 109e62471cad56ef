package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/client"
	"github.com/seolo/mallsync/pkg/jobstore"
	"github.com/seolo/mallsync/pkg/shopapi"
)

func newTestJobRunner(t *testing.T, dir Directory) (*JobRunner, *jobstore.Store) {
	t.Helper()
	store := jobstore.NewStore(jobstore.NewMemoryRepository())
	runner := newTestRunner(t, dir)
	jr, err := NewJobRunner(runner, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJobRunner() error = %v", err)
	}
	return jr, store
}

// waitForTerminal polls the store until the job reaches a terminal state.
func waitForTerminal(t *testing.T, store *jobstore.Store, jobID string) *jobstore.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rec.Status.Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestJobRunner_StartJobValidation(t *testing.T) {
	jr, _ := newTestJobRunner(t, newFakeDirectory())

	if _, _, err := jr.StartJob(context.Background(), nil, DefaultBatchConfig()); !errors.Is(err, ErrNoIdentifiers) {
		t.Errorf("StartJob(nil) error = %v, want ErrNoIdentifiers", err)
	}

	cfg := DefaultBatchConfig()
	cfg.Period = "forever"
	if _, _, err := jr.StartJob(context.Background(), []string{"a"}, cfg); err == nil {
		t.Error("StartJob() accepted an invalid period")
	}
}

func TestJobRunner_RunsToCompletion(t *testing.T) {
	dir := newFakeDirectory()
	dir.logins["testuser1"] = []shopapi.Customer{customer("m1")}
	dir.orders["m1"] = []shopapi.Order{{OrderID: "O-1", PaymentAmount: "250"}}

	jr, store := newTestJobRunner(t, dir)

	jobID, total, err := jr.StartJob(context.Background(), []string{"testuser1", "99999999999"}, DefaultBatchConfig())
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}

	rec := waitForTerminal(t, store, jobID)

	if rec.Status != jobstore.StatusCompleted {
		t.Fatalf("Status = %s, want completed (error: %s)", rec.Status, rec.Error)
	}
	if rec.Current != 2 || rec.Progress() != 100 {
		t.Errorf("current/progress = %d/%d, want 2/100", rec.Current, rec.Progress())
	}

	var summary Summary
	if err := json.Unmarshal(rec.Result, &summary); err != nil {
		t.Fatalf("failed to decode stored summary: %v", err)
	}
	if summary.Total != 2 || summary.OK != 1 || summary.Fail != 1 {
		t.Errorf("stored summary = %d/%d/%d, want total=2 ok=1 fail=1",
			summary.Total, summary.OK, summary.Fail)
	}
	if summary.Results[0].Data.TotalPurchaseAmount != 250 {
		t.Errorf("stored amount = %v, want 250", summary.Results[0].Data.TotalPurchaseAmount)
	}
}

func TestJobRunner_FactoryFailureFailsJob(t *testing.T) {
	store := jobstore.NewStore(jobstore.NewMemoryRepository())
	runner, err := NewRunner(func(client.Limiter, int) (Directory, error) {
		return nil, errors.New("credentials missing")
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	jr, err := NewJobRunner(runner, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJobRunner() error = %v", err)
	}

	jobID, _, err := jr.StartJob(context.Background(), []string{"testuser1"}, DefaultBatchConfig())
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}

	rec := waitForTerminal(t, store, jobID)
	if rec.Status != jobstore.StatusFailed {
		t.Fatalf("Status = %s, want failed", rec.Status)
	}
	if rec.Error == "" {
		t.Error("failed job carries no error message")
	}
}
