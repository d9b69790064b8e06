package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
)

const uniqueViolation = "23505"

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and pings it
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.StoreError("connect", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.StoreError("ping", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// RunMigrations creates the tables the engine reads and writes
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS obligations (
			id TEXT PRIMARY KEY,
			bank_account_id TEXT NOT NULL,
			wire_reference TEXT,
			fund_name TEXT NOT NULL,
			amount_due NUMERIC(20, 2) NOT NULL,
			due_date DATE NOT NULL,
			reconciled BOOLEAN NOT NULL DEFAULT FALSE,
			reconciled_at TIMESTAMPTZ,
			claim_key TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_obligations_account_due ON obligations(bank_account_id, due_date);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_obligations_claim_key ON obligations(claim_key) WHERE claim_key IS NOT NULL;

		CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			payer_id TEXT NOT NULL,
			obligation_id TEXT NOT NULL,
			amount NUMERIC(20, 2) NOT NULL,
			status TEXT NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_payments_payer ON payments(payer_id, settled_at);

		CREATE TABLE IF NOT EXISTS reconciliation_reports (
			id TEXT PRIMARY KEY,
			bank_account_id TEXT NOT NULL,
			period_start DATE NOT NULL,
			period_end DATE NOT NULL,
			total_transactions INTEGER NOT NULL,
			matched_count INTEGER NOT NULL,
			unmatched_count INTEGER NOT NULL,
			newly_claimed_count INTEGER NOT NULL,
			body JSONB NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reports_account ON reconciliation_reports(bank_account_id, period_start);
	`)
	if err != nil {
		return errors.StoreError("migrate", err)
	}
	return nil
}

const obligationColumns = `id, bank_account_id, wire_reference, fund_name, amount_due::text, due_date,
	reconciled, reconciled_at, COALESCE(claim_key, '')`

func scanObligation(row pgx.Row) (*models.Obligation, error) {
	var ob models.Obligation
	var amount string
	if err := row.Scan(&ob.ID, &ob.BankAccountID, &ob.WireReference, &ob.FundName, &amount, &ob.DueDate,
		&ob.Reconciled, &ob.ReconciledAt, &ob.ClaimKey); err != nil {
		return nil, err
	}

	due, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("obligation %s amount_due %q: %w", ob.ID, amount, err)
	}
	ob.AmountDue = due
	return &ob, nil
}

// ListObligations returns obligations within the filter
func (s *PostgresStore) ListObligations(ctx context.Context, filter ObligationFilter) ([]*models.Obligation, error) {
	var dueFrom, dueTo *time.Time
	if !filter.DueFrom.IsZero() {
		dueFrom = &filter.DueFrom
	}
	if !filter.DueTo.IsZero() {
		dueTo = &filter.DueTo
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+obligationColumns+` FROM obligations
		WHERE ($1 = '' OR bank_account_id = $1)
		AND ($2::boolean OR reconciled = FALSE)
		AND ($3::date IS NULL OR due_date >= $3::date)
		AND ($4::date IS NULL OR due_date <= $4::date)
		ORDER BY due_date, id`,
		filter.BankAccountID, filter.IncludeReconciled, dueFrom, dueTo,
	)
	if err != nil {
		return nil, errors.StoreError("list_obligations", err)
	}
	defer rows.Close()

	obligations := make([]*models.Obligation, 0)
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, errors.StoreError("list_obligations", err)
		}
		obligations = append(obligations, ob)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("list_obligations", err)
	}

	return obligations, nil
}

// GetObligation returns one obligation
func (s *PostgresStore) GetObligation(ctx context.Context, id string) (*models.Obligation, error) {
	ob, err := scanObligation(s.pool.QueryRow(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("obligation", id)
	}
	if err != nil {
		return nil, errors.StoreError("get_obligation", err)
	}
	return ob, nil
}

// FindClaim returns the obligation claimed under claimKey, or nil
func (s *PostgresStore) FindClaim(ctx context.Context, claimKey string) (*models.Obligation, error) {
	ob, err := scanObligation(s.pool.QueryRow(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE claim_key = $1`, claimKey))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreError("find_claim", err)
	}
	return ob, nil
}

// ClaimObligation sets reconciled only while it is still false
func (s *PostgresStore) ClaimObligation(ctx context.Context, id, claimKey string, at time.Time) (*models.Obligation, error) {
	ob, err := scanObligation(s.pool.QueryRow(ctx,
		`UPDATE obligations SET reconciled = TRUE, reconciled_at = $3, claim_key = $2
		WHERE id = $1 AND reconciled = FALSE
		RETURNING `+obligationColumns,
		id, claimKey, at,
	))
	if err == nil {
		return ob, nil
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, errors.StoreConflictError(id).WithContext("claim_key", claimKey)
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.StoreError("claim_obligation", err)
	}

	// nothing updated: either unknown or already reconciled
	if _, err := s.GetObligation(ctx, id); err != nil {
		return nil, err
	}
	return nil, errors.StoreConflictError(id)
}

// GetPayment returns one payment
func (s *PostgresStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("payment", id)
	}
	if err != nil {
		return nil, errors.StoreError("get_payment", err)
	}
	return p, nil
}

// ListPaymentsByPayer returns the payer's payments ordered by settlement time
func (s *PostgresStore) ListPaymentsByPayer(ctx context.Context, payerID string) ([]*models.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payer_id = $1 ORDER BY settled_at, id`, payerID)
	if err != nil {
		return nil, errors.StoreError("list_payments", err)
	}
	defer rows.Close()

	payments := make([]*models.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errors.StoreError("list_payments", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("list_payments", err)
	}

	return payments, nil
}

const paymentColumns = `id, payer_id, obligation_id, amount::text, status, settled_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var amount, status string
	if err := row.Scan(&p.ID, &p.PayerID, &p.ObligationID, &amount, &status, &p.SettledAt); err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("payment %s amount %q: %w", p.ID, amount, err)
	}
	p.Amount = value
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

// SaveReport inserts the report; re-saving the same ID replaces it
func (s *PostgresStore) SaveReport(ctx context.Context, report *models.ReconciliationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode_report", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reconciliation_reports
			(id, bank_account_id, period_start, period_end, total_transactions, matched_count,
			 unmatched_count, newly_claimed_count, body, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, generated_at = EXCLUDED.generated_at`,
		report.ID, report.BankAccountID, report.PeriodStart, report.PeriodEnd, report.TotalTransactions,
		report.MatchedCount, report.UnmatchedCount, report.NewlyClaimedCount, body, report.GeneratedAt,
	)
	if err != nil {
		return errors.StoreError("save_report", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
