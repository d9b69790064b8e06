package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
)

// Fixtures is the JSON document accepted by LoadFixtures
type Fixtures struct {
	Obligations []*models.Obligation `json:"obligations"`
	Payments    []*models.Payment    `json:"payments"`
}

// MemoryStore keeps obligations, payments and reports in process memory.
// Every method is safe for concurrent use; claims are serialised by a mutex.
type MemoryStore struct {
	mu          sync.RWMutex
	obligations map[string]*models.Obligation
	claims      map[string]string
	payments    map[string]*models.Payment
	reports     []*models.ReconciliationReport
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		obligations: make(map[string]*models.Obligation),
		claims:      make(map[string]string),
		payments:    make(map[string]*models.Payment),
	}
}

// LoadFixtures creates a memory store from a JSON fixtures file
func LoadFixtures(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "fixtures", path, err)
	}

	var fixtures Fixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "fixtures", path, err)
	}

	s := NewMemoryStore()
	for _, ob := range fixtures.Obligations {
		if err := s.AddObligation(ob); err != nil {
			return nil, err
		}
	}
	for _, p := range fixtures.Payments {
		if err := s.AddPayment(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddObligation seeds an obligation
func (s *MemoryStore) AddObligation(ob *models.Obligation) error {
	if ob == nil || ob.ID == "" {
		return errors.ValidationError(errors.CodeInvalidValue, "obligation.id", "", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.obligations[ob.ID]; exists {
		return errors.ValidationError(errors.CodeInvalidValue, "obligation.id", ob.ID,
			fmt.Errorf("duplicate obligation"))
	}
	s.obligations[ob.ID] = ob.Clone()
	if ob.ClaimKey != "" {
		s.claims[ob.ClaimKey] = ob.ID
	}
	return nil
}

// AddPayment seeds a payment
func (s *MemoryStore) AddPayment(p *models.Payment) error {
	if p == nil || p.ID == "" {
		return errors.ValidationError(errors.CodeInvalidValue, "payment.id", "", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return errors.ValidationError(errors.CodeInvalidValue, "payment.id", p.ID,
			fmt.Errorf("duplicate payment"))
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

// ListObligations returns copies of the obligations within the filter
func (s *MemoryStore) ListObligations(ctx context.Context, filter ObligationFilter) ([]*models.Obligation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("list_obligations", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Obligation, 0)
	for _, ob := range s.obligations {
		if filter.Matches(ob) {
			result = append(result, ob.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetObligation returns a copy of one obligation
func (s *MemoryStore) GetObligation(ctx context.Context, id string) (*models.Obligation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("get_obligation", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ob, ok := s.obligations[id]
	if !ok {
		return nil, errors.NotFoundError("obligation", id)
	}
	return ob.Clone(), nil
}

// FindClaim returns the obligation claimed under claimKey, or nil
func (s *MemoryStore) FindClaim(ctx context.Context, claimKey string) (*models.Obligation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("find_claim", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.claims[claimKey]
	if !ok {
		return nil, nil
	}
	return s.obligations[id].Clone(), nil
}

// ClaimObligation marks the obligation reconciled if it still is not
func (s *MemoryStore) ClaimObligation(ctx context.Context, id, claimKey string, at time.Time) (*models.Obligation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("claim_obligation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.obligations[id]
	if !ok {
		return nil, errors.NotFoundError("obligation", id)
	}
	if ob.Reconciled {
		return nil, errors.StoreConflictError(id)
	}
	if owner, taken := s.claims[claimKey]; taken && owner != id {
		return nil, errors.StoreConflictError(id).WithContext("claim_key", claimKey)
	}

	claimedAt := at
	ob.Reconciled = true
	ob.ReconciledAt = &claimedAt
	ob.ClaimKey = claimKey
	s.claims[claimKey] = id

	return ob.Clone(), nil
}

// GetPayment returns a copy of one payment
func (s *MemoryStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("get_payment", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, errors.NotFoundError("payment", id)
	}
	cp := *p
	return &cp, nil
}

// ListPaymentsByPayer returns the payer's payments ordered by settlement time
func (s *MemoryStore) ListPaymentsByPayer(ctx context.Context, payerID string) ([]*models.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("list_payments", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Payment, 0)
	for _, p := range s.payments {
		if p.PayerID == payerID {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].SettledAt.Equal(result[j].SettledAt) {
			return result[i].SettledAt.Before(result[j].SettledAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SaveReport appends the report
func (s *MemoryStore) SaveReport(ctx context.Context, report *models.ReconciliationReport) error {
	if err := ctx.Err(); err != nil {
		return errors.StoreError("save_report", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, report)
	return nil
}

// Reports returns the saved reports in save order
func (s *MemoryStore) Reports() []*models.ReconciliationReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ReconciliationReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// Close is a no-op
func (s *MemoryStore) Close() {}

var _ Store = (*MemoryStore)(nil)
