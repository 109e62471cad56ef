package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/client"
	"github.com/seolo/mallsync/pkg/datewindow"
	"github.com/seolo/mallsync/pkg/shopapi"
)

// fakeDirectory is an in-memory admin API used across the batch tests.
type fakeDirectory struct {
	mu     sync.Mutex
	phones map[string][]shopapi.Customer
	logins map[string][]shopapi.Customer
	orders map[string][]shopapi.Order // per member, returned for every non-empty window

	searchErr error
	countErr  error
	listErr   error

	phoneQueries []string
	loginQueries []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		phones: make(map[string][]shopapi.Customer),
		logins: make(map[string][]shopapi.Customer),
		orders: make(map[string][]shopapi.Order),
	}
}

func (f *fakeDirectory) SearchCustomersByPhone(_ context.Context, phone string) ([]shopapi.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phoneQueries = append(f.phoneQueries, phone)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.phones[phone], nil
}

func (f *fakeDirectory) SearchCustomersByLoginID(_ context.Context, loginID string) ([]shopapi.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginQueries = append(f.loginQueries, loginID)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.logins[loginID], nil
}

func (f *fakeDirectory) CountOrders(_ context.Context, memberID string, _ datewindow.Window) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.orders[memberID]), nil
}

func (f *fakeDirectory) ListOrders(_ context.Context, memberID string, _ datewindow.Window) ([]shopapi.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.orders[memberID], nil
}

func customer(memberID string) shopapi.Customer {
	return shopapi.Customer{
		MemberID:  memberID,
		Name:      "홍길동",
		Cellphone: "010-1234-5678",
		Email:     memberID + "@example.com",
	}
}

func newTestOrchestrator(t *testing.T, dir *fakeDirectory, period datewindow.Period) *Orchestrator {
	t.Helper()
	resolver := NewResolver(dir, false, nil, zerolog.Nop())
	orch, err := NewOrchestrator(dir, resolver, period, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return orch
}

func TestOrchestrator_ProcessAggregatesOrders(t *testing.T) {
	dir := newFakeDirectory()
	dir.logins["testuser1"] = []shopapi.Customer{customer("m1")}
	dir.orders["m1"] = []shopapi.Order{
		{OrderID: "O-1", PaymentAmount: "15000.00"},
		{OrderID: "O-2", PaymentAmount: "4500.50"},
	}

	orch := newTestOrchestrator(t, dir, datewindow.Period3Months)
	res := orch.Process(context.Background(), "testuser1")

	if !res.OK {
		t.Fatalf("Process() failed: code=%s details=%s", res.ErrorCode, res.Details)
	}
	if res.Data.MemberID != "m1" {
		t.Errorf("MemberID = %q, want m1", res.Data.MemberID)
	}
	if res.Data.TotalOrders != 2 {
		t.Errorf("TotalOrders = %d, want 2", res.Data.TotalOrders)
	}
	if res.Data.TotalPurchaseAmount != 19500.50 {
		t.Errorf("TotalPurchaseAmount = %v, want 19500.50", res.Data.TotalPurchaseAmount)
	}
	if res.Data.Strategy != StrategyLoginID {
		t.Errorf("Strategy = %q, want %q", res.Data.Strategy, StrategyLoginID)
	}
}

func TestOrchestrator_ProcessYearSumsAcrossWindows(t *testing.T) {
	dir := newFakeDirectory()
	dir.logins["testuser1"] = []shopapi.Customer{customer("m1")}
	dir.orders["m1"] = []shopapi.Order{{OrderID: "O-1", PaymentAmount: "100"}}

	orch := newTestOrchestrator(t, dir, datewindow.Period1Year)
	res := orch.Process(context.Background(), "testuser1")

	if !res.OK {
		t.Fatalf("Process() failed: code=%s details=%s", res.ErrorCode, res.Details)
	}
	// The fake returns the same page for each of the 4 windows.
	if res.Data.TotalOrders != 4 {
		t.Errorf("TotalOrders = %d, want 4", res.Data.TotalOrders)
	}
	if res.Data.TotalPurchaseAmount != 400 {
		t.Errorf("TotalPurchaseAmount = %v, want 400", res.Data.TotalPurchaseAmount)
	}
}

func TestOrchestrator_ProcessSkipsListingWhenCountZero(t *testing.T) {
	dir := newFakeDirectory()
	dir.logins["testuser1"] = []shopapi.Customer{customer("m1")}
	dir.listErr = errors.New("listing must not be called")

	orch := newTestOrchestrator(t, dir, datewindow.Period3Months)
	res := orch.Process(context.Background(), "testuser1")

	if !res.OK {
		t.Fatalf("Process() failed: code=%s details=%s", res.ErrorCode, res.Details)
	}
	if res.Data.TotalOrders != 0 || res.Data.TotalPurchaseAmount != 0 {
		t.Errorf("totals = %d/%v, want 0/0", res.Data.TotalOrders, res.Data.TotalPurchaseAmount)
	}
}

func TestOrchestrator_ProcessCustomerNotFound(t *testing.T) {
	dir := newFakeDirectory()
	orch := newTestOrchestrator(t, dir, datewindow.Period3Months)

	res := orch.Process(context.Background(), "99999999999")

	if res.OK {
		t.Fatal("Process() succeeded for unknown identifier")
	}
	if res.ErrorCode != CodeCustomerNotFound {
		t.Errorf("ErrorCode = %q, want %q", res.ErrorCode, CodeCustomerNotFound)
	}
}

func TestOrchestrator_ProcessNormalizesInput(t *testing.T) {
	dir := newFakeDirectory()
	dir.logins["testuser1"] = []shopapi.Customer{customer("m1")}

	orch := newTestOrchestrator(t, dir, datewindow.Period3Months)
	res := orch.Process(context.Background(), " testuser1 ")

	if !res.OK {
		t.Fatalf("Process() failed: code=%s", res.ErrorCode)
	}
	if res.Input != "testuser1" {
		t.Errorf("Input = %q, want normalized %q", res.Input, "testuser1")
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "request timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestOrchestrator_FailureClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "auth expired",
			err:      fmt.Errorf("search: %w", client.ErrAuthExpired),
			wantCode: CodeAuth,
		},
		{
			name:     "refresh failed",
			err:      fmt.Errorf("search: %w", client.ErrTokenRefresh),
			wantCode: CodeAuth,
		},
		{
			name:     "timeout",
			err:      fmt.Errorf("search: %w", timeoutError{}),
			wantCode: CodeTimeout,
		},
		{
			name:     "deadline exceeded",
			err:      fmt.Errorf("search: %w", context.DeadlineExceeded),
			wantCode: CodeTimeout,
		},
		{
			name: "network",
			err: &client.APIError{
				ErrorClass: client.ErrorClassNetwork,
				Message:    "connection refused",
			},
			wantCode: CodeNetwork,
		},
		{
			name:     "unknown",
			err:      errors.New("something odd happened"),
			wantCode: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory()
			dir.searchErr = tt.err
			orch := newTestOrchestrator(t, dir, datewindow.Period3Months)

			res := orch.Process(context.Background(), "testuser1")

			if res.OK {
				t.Fatal("Process() succeeded despite injected error")
			}
			if res.ErrorCode != tt.wantCode {
				t.Errorf("ErrorCode = %q, want %q", res.ErrorCode, tt.wantCode)
			}
			if !strings.Contains(res.Details, tt.err.Error()) {
				t.Errorf("Details = %q, missing original error %q", res.Details, tt.err.Error())
			}
		})
	}
}

func TestOrchestrator_ProcessSkipsUnparseableAmounts(t *testing.T) {
	dir := newFakeDirectory()
	dir.logins["testuser1"] = []shopapi.Customer{customer("m1")}
	dir.orders["m1"] = []shopapi.Order{
		{OrderID: "O-1", PaymentAmount: "100"},
		{OrderID: "O-2", PaymentAmount: "not-a-number"},
	}

	orch := newTestOrchestrator(t, dir, datewindow.Period3Months)
	res := orch.Process(context.Background(), "testuser1")

	if !res.OK {
		t.Fatalf("Process() failed: code=%s", res.ErrorCode)
	}
	if res.Data.TotalOrders != 2 {
		t.Errorf("TotalOrders = %d, want 2", res.Data.TotalOrders)
	}
	if res.Data.TotalPurchaseAmount != 100 {
		t.Errorf("TotalPurchaseAmount = %v, want 100", res.Data.TotalPurchaseAmount)
	}
}

func TestOrchestrator_WindowsEndToday(t *testing.T) {
	dir := newFakeDirectory()
	dir.logins["testuser1"] = []shopapi.Customer{customer("m1")}

	var windows []datewindow.Window
	wrapped := &recordingDirectory{fakeDirectory: dir, windows: &windows}
	resolver := NewResolver(wrapped, false, nil, zerolog.Nop())
	orch, err := NewOrchestrator(wrapped, resolver, datewindow.Period1Year, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	orch.now = func() time.Time {
		return time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)
	}

	if res := orch.Process(context.Background(), "testuser1"); !res.OK {
		t.Fatalf("Process() failed: code=%s", res.ErrorCode)
	}
	if len(windows) != 4 {
		t.Fatalf("counted %d windows, want 4", len(windows))
	}
	last := windows[len(windows)-1]
	if got := last.End.Format("2006-01-02"); got != "2024-10-15" {
		t.Errorf("final window ends %s, want 2024-10-15", got)
	}
}

// recordingDirectory captures the windows passed to CountOrders.
type recordingDirectory struct {
	*fakeDirectory
	windows *[]datewindow.Window
}

func (r *recordingDirectory) CountOrders(ctx context.Context, memberID string, w datewindow.Window) (int, error) {
	*r.windows = append(*r.windows, w)
	return r.fakeDirectory.CountOrders(ctx, memberID, w)
}
