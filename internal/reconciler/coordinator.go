package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"payment-reconciliation-engine/internal/audit"
	"payment-reconciliation-engine/internal/extract"
	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/parsers"
	"payment-reconciliation-engine/internal/store"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Dependencies are the collaborators a Coordinator works with. Obligations
// and Reports are required; the rest fall back to defaults.
type Dependencies struct {
	Obligations store.ObligationStore
	Reports     store.ReportStore
	Extractor   extract.Extractor
	Parser      *parsers.StatementParser
	Engine      *matcher.MatchingEngine
	Sink        audit.Sink
	Logger      logger.Logger

	// Clock stamps claims and reports, time.Now when nil
	Clock func() time.Time
}

// Coordinator reconciles statements and wire messages against the
// obligations of one bank account
type Coordinator struct {
	obligations store.ObligationStore
	reports     store.ReportStore
	extractor   extract.Extractor
	parser      *parsers.StatementParser
	engine      *matcher.MatchingEngine
	sink        audit.Sink
	logger      logger.Logger
	clock       func() time.Time
	config      *Config
}

// MessageOutcome is the result of reconciling one wire message
type MessageOutcome struct {
	Message *models.WireMessage `json:"message"`
	Result  *models.MatchResult `json:"result"`

	// Claimed is true when this call claimed the obligation
	Claimed bool `json:"claimed"`

	// AlreadyProcessed is true when the message was reconciled by an earlier call
	AlreadyProcessed bool `json:"alreadyProcessed"`

	// Reason explains why no obligation was claimed
	Reason string `json:"reason,omitempty"`
}

// transactionOutcome is the per-transaction result of a statement run
type transactionOutcome struct {
	match  *models.ReportMatch
	reason string
}

// NewCoordinator creates a coordinator over the given collaborators
func NewCoordinator(deps Dependencies, config *Config) (*Coordinator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciliation", config, err)
	}
	if deps.Obligations == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "obligation store", nil, nil)
	}
	if deps.Reports == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "report store", nil, nil)
	}

	if deps.Extractor == nil {
		deps.Extractor = extract.PlainTextExtractor{}
	}
	if deps.Parser == nil {
		parser, err := parsers.NewStatementParser(nil)
		if err != nil {
			return nil, err
		}
		deps.Parser = parser
	}
	if deps.Engine == nil {
		deps.Engine = matcher.NewMatchingEngine(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetGlobalLogger()
	}
	if deps.Sink == nil {
		deps.Sink = audit.NewLogSink(deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Coordinator{
		obligations: deps.Obligations,
		reports:     deps.Reports,
		extractor:   deps.Extractor,
		parser:      deps.Parser,
		engine:      deps.Engine,
		sink:        deps.Sink,
		logger:      deps.Logger.WithComponent("reconciler"),
		clock:       deps.Clock,
		config:      config,
	}, nil
}

// Engine returns the matching engine so callers can retune it
func (c *Coordinator) Engine() *matcher.MatchingEngine {
	return c.engine
}

// Parser returns the statement parser used for every statement run
func (c *Coordinator) Parser() *parsers.StatementParser {
	return c.parser
}

// GetConfiguration returns a copy of the coordinator configuration
func (c *Coordinator) GetConfiguration() Config {
	return *c.config
}

// StatementClaimKey identifies one statement line of an account. occurrence
// distinguishes identical raw lines within the same statement.
func StatementClaimKey(bankAccountID, rawLine string, occurrence int) string {
	return claimKey("stmt", bankAccountID, strings.TrimSpace(rawLine), strconv.Itoa(occurrence))
}

// MessageClaimKey identifies one wire message of an account by its sender reference
func MessageClaimKey(bankAccountID, senderReference string) string {
	return claimKey("msg", bankAccountID, strings.TrimSpace(senderReference))
}

func claimKey(kind string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return kind + ":" + hex.EncodeToString(sum[:])
}

// ReconcileStatement extracts, parses and reconciles one bank statement.
// Extraction failures are parse errors for this statement only; store
// failures abort the run. Unmatched transactions are never errors.
func (c *Coordinator) ReconcileStatement(ctx context.Context, src extract.Document, bankAccountID string, period models.Period) (*models.ReconciliationReport, error) {
	if strings.TrimSpace(bankAccountID) == "" {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "bankAccountId", bankAccountID, nil)
	}
	if err := period.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "period", period.String(), err)
	}

	log := c.logger.WithFields(logger.Fields{
		"bank_account": bankAccountID,
		"period":       period.String(),
		"document":     src.Name,
	})
	startTime := time.Now()

	// Step 1: Extract statement text
	text, err := c.extractText(ctx, src)
	if err != nil {
		log.WithError(err).Warn("Statement extraction failed")
		return nil, err
	}

	// Step 2: Parse transactions, dropping noise lines
	transactions, stats := c.parser.Parse(text)
	log.WithField("stats", stats.String()).Debug("Statement parsed")

	// Step 3: Load the account's obligations around the period
	pool, err := c.loadStatementPool(ctx, bankAccountID, period)
	if err != nil {
		return nil, err
	}

	report := &models.ReconciliationReport{
		ID:            uuid.NewString(),
		BankAccountID: bankAccountID,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		DroppedLines:  stats.DroppedLines,
		Matches:       []*models.ReportMatch{},
		Discrepancies: []*models.Discrepancy{},
	}

	// Step 4: Reconcile each transaction in statement order
	occurrences := make(map[string]int)
	for _, tx := range transactions {
		raw := strings.TrimSpace(tx.RawLine)
		key := StatementClaimKey(bankAccountID, raw, occurrences[raw])
		occurrences[raw]++

		outcome, err := c.reconcileTransaction(ctx, tx, key, period, pool)
		if err != nil {
			log.WithError(err).Error("Reconciliation aborted")
			return nil, err
		}

		if outcome.match != nil {
			report.Matches = append(report.Matches, outcome.match)
			report.MatchedCount++
			if outcome.match.NewClaim {
				report.NewlyClaimedCount++
			}
			continue
		}

		report.Discrepancies = append(report.Discrepancies, &models.Discrepancy{
			Transaction: tx,
			Reason:      outcome.reason,
		})
		report.UnmatchedCount++
	}

	// Step 5: Aggregate, persist and announce
	report.TotalTransactions = report.MatchedCount + report.UnmatchedCount
	report.GeneratedAt = c.clock().UTC()

	if err := c.reports.SaveReport(ctx, report); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreUnavailable, "failed to save report")
	}

	c.publish(ctx, audit.NewEvent(audit.EventReconciliationCompleted, bankAccountID, map[string]interface{}{
		"report_id":     report.ID,
		"period":        period.String(),
		"total":         report.TotalTransactions,
		"matched":       report.MatchedCount,
		"unmatched":     report.UnmatchedCount,
		"newly_claimed": report.NewlyClaimedCount,
		"dropped_lines": report.DroppedLines,
	}))

	log.WithFields(logger.Fields{
		"report_id":     report.ID,
		"total":         report.TotalTransactions,
		"matched":       report.MatchedCount,
		"unmatched":     report.UnmatchedCount,
		"newly_claimed": report.NewlyClaimedCount,
		"dropped_lines": report.DroppedLines,
		"duration":      time.Since(startTime).String(),
	}).Info("Statement reconciled")

	return report, nil
}

// ReconcileMessage parses one wire message and claims the obligation it
// settles. Re-submitting the same message is reported as already processed.
func (c *Coordinator) ReconcileMessage(ctx context.Context, raw string, bankAccountID string) (*MessageOutcome, error) {
	if strings.TrimSpace(bankAccountID) == "" {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "bankAccountId", bankAccountID, nil)
	}

	msg, err := parsers.ParseMessage(raw)
	if err != nil {
		return nil, err
	}

	outcome := &MessageOutcome{Message: msg, Result: models.NoMatch()}
	key := MessageClaimKey(bankAccountID, msg.SenderReference)

	existing, err := c.obligations.FindClaim(ctx, key)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreUnavailable, "claim lookup failed")
	}
	if existing != nil {
		outcome.Result = c.rescore(msg, existing)
		outcome.AlreadyProcessed = true
		return outcome, nil
	}

	filter := store.ObligationFilter{BankAccountID: bankAccountID, IncludeReconciled: true}
	pool, err := c.loadPool(ctx, filter)
	if err != nil {
		return nil, err
	}

	result, claimed, reason, err := c.matchAndClaim(ctx, msg, key, pool)
	if err != nil {
		return nil, err
	}

	outcome.Result = result
	outcome.Claimed = claimed
	outcome.Reason = reason

	c.logger.WithFields(logger.Fields{
		"bank_account":     bankAccountID,
		"sender_reference": msg.SenderReference,
		"matched_by":       result.MatchedBy,
		"obligation_id":    result.ID(),
		"claimed":          claimed,
	}).Info("Wire message reconciled")

	return outcome, nil
}

func (c *Coordinator) extractText(ctx context.Context, src extract.Document) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ExtractionTimeout)
	defer cancel()

	text, err := c.extractor.ExtractText(ctx, src)
	if err == nil {
		return text, nil
	}

	if errors.HasCode(err, errors.CodeExtractionFailed) {
		return "", err
	}

	cause := err
	if ctx.Err() == context.DeadlineExceeded {
		cause = errors.NetworkError(errors.CodeTimeout, "extraction", err)
	}
	return "", errors.ParseError(errors.CodeExtractionFailed, src.Name, "", cause)
}

// obligationPool is the run-local view of an account's obligations. Claims
// made during the run are mirrored here so a later transaction cannot pick
// the same obligation.
type obligationPool struct {
	filter      store.ObligationFilter
	obligations []*models.Obligation
}

func (p *obligationPool) markClaimed(claimed *models.Obligation) {
	for i, ob := range p.obligations {
		if ob.ID == claimed.ID {
			p.obligations[i] = claimed
			return
		}
	}
}

func (c *Coordinator) loadStatementPool(ctx context.Context, bankAccountID string, period models.Period) (*obligationPool, error) {
	return c.loadPool(ctx, store.ObligationFilter{
		BankAccountID:     bankAccountID,
		DueFrom:           period.Start.AddDate(0, 0, -c.config.LookbackDays),
		DueTo:             period.End.AddDate(0, 0, c.config.LookaheadDays),
		IncludeReconciled: true,
	})
}

func (c *Coordinator) loadPool(ctx context.Context, filter store.ObligationFilter) (*obligationPool, error) {
	obligations, err := c.obligations.ListObligations(ctx, filter)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreUnavailable, "failed to load obligations")
	}
	return &obligationPool{filter: filter, obligations: obligations}, nil
}

func (c *Coordinator) reload(ctx context.Context, pool *obligationPool) error {
	fresh, err := c.loadPool(ctx, pool.filter)
	if err != nil {
		return err
	}
	pool.obligations = fresh.obligations
	return nil
}

func (c *Coordinator) reconcileTransaction(ctx context.Context, tx *models.StatementTransaction, key string, period models.Period, pool *obligationPool) (*transactionOutcome, error) {
	existing, err := c.obligations.FindClaim(ctx, key)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreUnavailable, "claim lookup failed")
	}
	if existing != nil {
		result := c.rescore(tx, existing)
		return &transactionOutcome{match: &models.ReportMatch{
			Transaction:  tx,
			ObligationID: existing.ID,
			Confidence:   result.Confidence,
			MatchedBy:    result.MatchedBy,
		}}, nil
	}

	if !period.Contains(tx.Date) {
		return &transactionOutcome{reason: models.ReasonOutsidePeriod}, nil
	}

	result, claimed, reason, err := c.matchAndClaim(ctx, tx, key, pool)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &transactionOutcome{reason: reason}, nil
	}

	return &transactionOutcome{match: &models.ReportMatch{
		Transaction:  tx,
		ObligationID: result.ID(),
		Confidence:   result.Confidence,
		MatchedBy:    result.MatchedBy,
		NewClaim:     true,
	}}, nil
}

// matchAndClaim selects an obligation for the candidate and claims it. A lost
// claim reloads the pool and retries up to ClaimRetries times.
func (c *Coordinator) matchAndClaim(ctx context.Context, cand models.Candidate, key string, pool *obligationPool) (*models.MatchResult, bool, string, error) {
	lostRace := false

	for attempt := 0; attempt <= c.config.ClaimRetries; attempt++ {
		result := c.engine.MatchToObligation(cand, pool.obligations)
		if !result.IsMatch() {
			break
		}

		claimed, err := c.obligations.ClaimObligation(ctx, result.ID(), key, c.clock().UTC())
		if err == nil {
			pool.markClaimed(claimed)
			c.publish(ctx, audit.NewEvent(audit.EventObligationClaimed, claimed.ID, map[string]interface{}{
				"bank_account": claimed.BankAccountID,
				"matched_by":   string(result.MatchedBy),
				"confidence":   result.Confidence,
				"claim_key":    key,
			}))
			return result, true, "", nil
		}

		if !errors.HasCode(err, errors.CodeStoreConflict) {
			return nil, false, "", errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreUnavailable, "claim failed")
		}

		lostRace = true
		c.logger.WithFields(logger.Fields{
			"obligation_id": result.ID(),
			"attempt":       attempt + 1,
		}).Debug("Claim lost, reloading obligations")

		if err := c.reload(ctx, pool); err != nil {
			return nil, false, "", err
		}
	}

	if lostRace {
		return models.NoMatch(), false, models.ReasonAlreadyClaimed, nil
	}
	if ob := matcher.ReferencedObligation(cand, pool.obligations); ob != nil && ob.Reconciled {
		return models.NoMatch(), false, models.ReasonAlreadyClaimed, nil
	}
	return models.NoMatch(), false, models.ReasonNoObligation, nil
}

// rescore recomputes how a previously claimed obligation matches the
// candidate, for reporting on idempotent re-runs
func (c *Coordinator) rescore(cand models.Candidate, claimed *models.Obligation) *models.MatchResult {
	open := claimed.Clone()
	open.Reconciled = false
	open.ReconciledAt = nil

	result := c.engine.MatchToObligation(cand, []*models.Obligation{open})
	if !result.IsMatch() {
		return models.FuzzyMatch(claimed.ID, 0)
	}
	return result
}

func (c *Coordinator) publish(ctx context.Context, event audit.Event) {
	if err := c.sink.Publish(ctx, event); err != nil {
		c.logger.WithError(err).WithFields(logger.Fields{
			"event_type": event.Type,
			"subject":    event.Subject,
		}).Warn("Failed to publish audit event")
	}
}

// String describes an outcome for logs and the CLI
func (o *MessageOutcome) String() string {
	switch {
	case o.AlreadyProcessed:
		return fmt.Sprintf("message %s already reconciled against %s", o.Message.SenderReference, o.Result.ID())
	case o.Claimed:
		return fmt.Sprintf("message %s claimed %s (%s, confidence %.2f)", o.Message.SenderReference, o.Result.ID(), o.Result.MatchedBy, o.Result.Confidence)
	default:
		return fmt.Sprintf("message %s not reconciled: %s", o.Message.SenderReference, o.Reason)
	}
}
