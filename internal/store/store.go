// Package store defines the obligation, payment and report collaborators the
// engine consumes, with an in-memory implementation and a Postgres one.
//
// Obligations and payments are owned elsewhere. The engine only reads them
// and claims obligations through ClaimObligation, a compare-and-set that
// succeeds only while the obligation is still unreconciled.
package store

import (
	"context"
	"time"

	"payment-reconciliation-engine/internal/models"
)

// ObligationFilter scopes an obligation listing. Zero times are unbounded.
type ObligationFilter struct {
	BankAccountID     string
	DueFrom           time.Time
	DueTo             time.Time
	IncludeReconciled bool
}

// Matches reports whether ob falls within the filter
func (f ObligationFilter) Matches(ob *models.Obligation) bool {
	if f.BankAccountID != "" && ob.BankAccountID != f.BankAccountID {
		return false
	}
	if !f.IncludeReconciled && ob.Reconciled {
		return false
	}
	if !f.DueFrom.IsZero() && ob.DueDate.Before(f.DueFrom) {
		return false
	}
	if !f.DueTo.IsZero() && ob.DueDate.After(f.DueTo) {
		return false
	}
	return true
}

// ObligationStore reads and claims obligations
type ObligationStore interface {
	// ListObligations returns obligations ordered by due date then ID
	ListObligations(ctx context.Context, filter ObligationFilter) ([]*models.Obligation, error)

	// GetObligation fails with a not-found error for unknown IDs
	GetObligation(ctx context.Context, id string) (*models.Obligation, error)

	// FindClaim returns the obligation claimed under claimKey, or nil
	FindClaim(ctx context.Context, claimKey string) (*models.Obligation, error)

	// ClaimObligation marks the obligation reconciled at the given time only if
	// it is still unreconciled. Losing the race fails with a store conflict.
	ClaimObligation(ctx context.Context, id, claimKey string, at time.Time) (*models.Obligation, error)
}

// PaymentStore reads confirmed and pending payments
type PaymentStore interface {
	GetPayment(ctx context.Context, id string) (*models.Payment, error)

	// ListPaymentsByPayer returns the payer's payments ordered by settlement time
	ListPaymentsByPayer(ctx context.Context, payerID string) ([]*models.Payment, error)
}

// ReportStore persists reconciliation reports
type ReportStore interface {
	SaveReport(ctx context.Context, report *models.ReconciliationReport) error
}

// Store bundles every collaborator
type Store interface {
	ObligationStore
	PaymentStore
	ReportStore
	Close()
}
