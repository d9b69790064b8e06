package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	obligations := []*models.Obligation{
		{ID: "ob-2", BankAccountID: "acct-1", FundName: "B FUND", AmountDue: decimal.NewFromInt(200), DueDate: day(2024, 1, 20)},
		{ID: "ob-1", BankAccountID: "acct-1", FundName: "A FUND", AmountDue: decimal.NewFromInt(100), DueDate: day(2024, 1, 10)},
		{ID: "ob-3", BankAccountID: "acct-2", FundName: "C FUND", AmountDue: decimal.NewFromInt(300), DueDate: day(2024, 1, 15)},
		{ID: "ob-4", BankAccountID: "acct-1", FundName: "D FUND", AmountDue: decimal.NewFromInt(400), DueDate: day(2024, 6, 1)},
	}
	for _, ob := range obligations {
		if err := s.AddObligation(ob); err != nil {
			t.Fatalf("AddObligation() error = %v", err)
		}
	}
	return s
}

func TestMemoryStore_ListObligations(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter ObligationFilter
		want   []string
	}{
		{"account", ObligationFilter{BankAccountID: "acct-1"}, []string{"ob-1", "ob-2", "ob-4"}},
		{"due window", ObligationFilter{BankAccountID: "acct-1", DueFrom: day(2024, 1, 1), DueTo: day(2024, 1, 31)}, []string{"ob-1", "ob-2"}},
		{"all accounts", ObligationFilter{}, []string{"ob-1", "ob-3", "ob-2", "ob-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListObligations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListObligations() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d obligations, want %d", len(got), len(tt.want))
			}
			for i, ob := range got {
				if ob.ID != tt.want[i] {
					t.Errorf("obligation[%d] = %s, want %s", i, ob.ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_ClaimObligation(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	at := day(2024, 2, 1)

	claimed, err := s.ClaimObligation(ctx, "ob-1", "key-1", at)
	if err != nil {
		t.Fatalf("ClaimObligation() error = %v", err)
	}
	if !claimed.Reconciled || claimed.ReconciledAt == nil || !claimed.ReconciledAt.Equal(at) || claimed.ClaimKey != "key-1" {
		t.Errorf("claimed obligation = %+v", claimed)
	}

	_, err = s.ClaimObligation(ctx, "ob-1", "key-2", at)
	if !errors.HasCode(err, errors.CodeStoreConflict) {
		t.Errorf("second claim error = %v, want store conflict", err)
	}

	_, err = s.ClaimObligation(ctx, "ob-2", "key-1", at)
	if !errors.HasCode(err, errors.CodeStoreConflict) {
		t.Errorf("reused claim key error = %v, want store conflict", err)
	}

	_, err = s.ClaimObligation(ctx, "missing", "key-3", at)
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("unknown obligation error = %v, want not found", err)
	}

	found, err := s.FindClaim(ctx, "key-1")
	if err != nil || found == nil || found.ID != "ob-1" {
		t.Errorf("FindClaim() = %v, %v; want ob-1", found, err)
	}
	if none, err := s.FindClaim(ctx, "never"); none != nil || err != nil {
		t.Errorf("FindClaim(unknown) = %v, %v; want nil, nil", none, err)
	}

	remaining, _ := s.ListObligations(ctx, ObligationFilter{BankAccountID: "acct-1"})
	for _, ob := range remaining {
		if ob.ID == "ob-1" {
			t.Error("claimed obligation still listed as unreconciled")
		}
	}
}

func TestMemoryStore_ConcurrentClaims(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ClaimObligation(ctx, "ob-2", "run-"+string(rune('a'+i)), time.Now())
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.HasCode(err, errors.CodeStoreConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != 31 {
		t.Errorf("wins = %d, conflicts = %d; want 1 and 31", wins, conflicts)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	ob, _ := s.GetObligation(ctx, "ob-1")
	ob.Reconciled = true

	again, _ := s.GetObligation(ctx, "ob-1")
	if again.Reconciled {
		t.Error("mutating a returned obligation changed the store")
	}
}

func TestMemoryStore_Payments(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	payments := []*models.Payment{
		{ID: "p-2", PayerID: "lp-1", Amount: decimal.NewFromInt(10), Status: models.PaymentCompleted, SettledAt: day(2024, 3, 2)},
		{ID: "p-1", PayerID: "lp-1", Amount: decimal.NewFromInt(10), Status: models.PaymentCompleted, SettledAt: day(2024, 3, 1)},
		{ID: "p-3", PayerID: "lp-2", Amount: decimal.NewFromInt(10), Status: models.PaymentPending, SettledAt: day(2024, 3, 1)},
	}
	for _, p := range payments {
		if err := s.AddPayment(p); err != nil {
			t.Fatalf("AddPayment() error = %v", err)
		}
	}
	if err := s.AddPayment(payments[0]); err == nil {
		t.Error("expected error for duplicate payment")
	}

	got, err := s.ListPaymentsByPayer(ctx, "lp-1")
	if err != nil {
		t.Fatalf("ListPaymentsByPayer() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "p-1" || got[1].ID != "p-2" {
		t.Errorf("ListPaymentsByPayer() = %v", got)
	}

	if _, err := s.GetPayment(ctx, "nope"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("GetPayment(unknown) error = %v, want not found", err)
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := seededStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.ListObligations(ctx, ObligationFilter{}); !errors.HasCode(err, errors.CodeStoreUnavailable) {
		t.Errorf("ListObligations() error = %v, want store unavailable", err)
	}
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.json")
	content := `{
		"obligations": [
			{"id": "cc-1", "bankAccountId": "acct-1", "wireReference": "ABC123", "fundName": "XYZ FUND",
			 "amountDue": "500000.00", "dueDate": "2025-11-15T00:00:00Z"}
		],
		"payments": [
			{"id": "pay-1", "payerId": "lp-1", "obligationId": "cc-1", "amount": "500000.00",
			 "status": "COMPLETED", "settledAt": "2025-11-16T10:00:00Z"}
		]
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s, err := LoadFixtures(path)
	if err != nil {
		t.Fatalf("LoadFixtures() error = %v", err)
	}

	ob, err := s.GetObligation(context.Background(), "cc-1")
	if err != nil {
		t.Fatalf("GetObligation() error = %v", err)
	}
	if !ob.HasReference("ABC123") || !ob.AmountDue.Equal(decimal.RequireFromString("500000")) {
		t.Errorf("obligation = %+v", ob)
	}

	if _, err := LoadFixtures(filepath.Join(t.TempDir(), "missing.json")); !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("LoadFixtures(missing) error = %v, want invalid config", err)
	}
}
