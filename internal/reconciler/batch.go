package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"payment-reconciliation-engine/internal/extract"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// BatchItem is one statement to reconcile
type BatchItem struct {
	Document      extract.Document `json:"document"`
	BankAccountID string           `json:"bankAccountId"`
	Period        models.Period    `json:"period"`
}

// BatchItemResult is the outcome of one statement in a batch
type BatchItemResult struct {
	Item     BatchItem                    `json:"item"`
	Report   *models.ReconciliationReport `json:"report,omitempty"`
	Err      error                        `json:"-"`
	Duration time.Duration                `json:"duration"`
}

// Failed reports whether the statement could not be reconciled
func (r *BatchItemResult) Failed() bool {
	return r.Err != nil
}

// BatchResult collects the outcomes of a batch in input order
type BatchResult struct {
	Items   []*BatchItemResult   `json:"items"`
	Summary *errors.ErrorSummary `json:"summary"`
	Stats   logger.ProgressStats `json:"stats"`
}

// Succeeded returns the number of statements reconciled
func (r *BatchResult) Succeeded() int {
	n := 0
	for _, item := range r.Items {
		if !item.Failed() {
			n++
		}
	}
	return n
}

// Reports returns the reports of the successful statements
func (r *BatchResult) Reports() []*models.ReconciliationReport {
	var reports []*models.ReconciliationReport
	for _, item := range r.Items {
		if item.Report != nil {
			reports = append(reports, item.Report)
		}
	}
	return reports
}

// BatchRunner reconciles many statements concurrently. A failing statement
// is recorded in its result and never stops the rest of the batch.
type BatchRunner struct {
	coordinator *Coordinator
	logger      logger.Logger
}

// NewBatchRunner creates a batch runner over the coordinator
func NewBatchRunner(coordinator *Coordinator) *BatchRunner {
	return &BatchRunner{
		coordinator: coordinator,
		logger:      coordinator.logger.WithField("mode", "batch"),
	}
}

// Run reconciles every item with at most MaxConcurrentStatements in flight
func (b *BatchRunner) Run(ctx context.Context, items []BatchItem) *BatchResult {
	config := b.coordinator.config
	results := make([]*BatchItemResult, len(items))

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "batch reconciliation",
		Total:       int64(len(items)),
		LogInterval: config.ProgressInterval,
		Logger:      b.logger,
	})

	p := pool.New().WithMaxGoroutines(config.MaxConcurrentStatements)
	for i, item := range items {
		p.Go(func() {
			results[i] = b.runItem(ctx, item)
			tracker.Increment(results[i].Failed())
		})
	}
	p.Wait()
	tracker.Complete()

	var failures []*errors.ReconcilerError
	for _, result := range results {
		if result.Err == nil {
			continue
		}
		failures = append(failures, errors.WrapIfNeeded(result.Err, errors.CategoryReconciliation,
			errors.CodeProcessingError, fmt.Sprintf("statement %s failed", result.Item.Document.Name)))
	}

	return &BatchResult{
		Items:   results,
		Summary: errors.NewErrorSummary(failures),
		Stats:   tracker.GetStats(),
	}
}

func (b *BatchRunner) runItem(ctx context.Context, item BatchItem) (result *BatchItemResult) {
	start := time.Now()
	result = &BatchItemResult{Item: item}

	defer func() {
		if r := recover(); r != nil {
			result.Err = errors.InternalError(errors.CodeUnexpectedError, "reconcile "+item.Document.Name, fmt.Errorf("panic: %v", r))
		}
		result.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		result.Err = errors.Wrap(err, errors.CategoryReconciliation, errors.CodeProcessingError, "batch cancelled")
		return result
	}

	report, err := b.coordinator.ReconcileStatement(ctx, item.Document, item.BankAccountID, item.Period)
	if err != nil {
		b.logger.WithError(err).WithFields(logger.Fields{
			"document":     item.Document.Name,
			"bank_account": item.BankAccountID,
		}).Warn("Statement failed, continuing batch")
		result.Err = err
		return result
	}

	result.Report = report
	return result
}
