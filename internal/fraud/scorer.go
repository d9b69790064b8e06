package fraud

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/audit"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/store"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Indicator texts, in evaluation order
const (
	IndicatorVelocity    = "Multiple payments in 24 hours"
	IndicatorNovelty     = "First-time payment over $100,000"
	IndicatorDiscrepancy = "Payment amount differs by >10% from expected"
	IndicatorStaleness   = "Payment more than 60 days overdue"
)

// evaluation is what every signal sees
type evaluation struct {
	payment    *models.Payment
	obligation *models.Obligation
	history    []*models.Payment
	limits     thresholds
	config     *Config
}

type signal struct {
	indicator string
	weight    func(*Config) float64
	triggered func(*evaluation) bool
}

// signals in indicator order
var signals = []signal{
	{IndicatorVelocity, func(c *Config) float64 { return c.VelocityWeight }, velocity},
	{IndicatorNovelty, func(c *Config) float64 { return c.NoveltyWeight }, novelty},
	{IndicatorDiscrepancy, func(c *Config) float64 { return c.DiscrepancyWeight }, discrepancy},
	{IndicatorStaleness, func(c *Config) float64 { return c.StalenessWeight }, staleness},
}

// Scorer assesses payments
type Scorer struct {
	payments    store.PaymentStore
	obligations store.ObligationStore
	sink        audit.Sink
	config      *Config
	logger      logger.Logger
	clock       func() time.Time
}

// NewScorer creates a scorer. A nil sink logs indicator events only.
func NewScorer(payments store.PaymentStore, obligations store.ObligationStore, sink audit.Sink, config *Config) (*Scorer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "fraud", config, err)
	}
	if payments == nil || obligations == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "payment and obligation stores", nil, nil)
	}

	log := logger.GetGlobalLogger().WithComponent("fraud")
	if sink == nil {
		sink = audit.NewLogSink(log)
	}

	return &Scorer{
		payments:    payments,
		obligations: obligations,
		sink:        sink,
		config:      config,
		logger:      log,
		clock:       time.Now,
	}, nil
}

// Assess evaluates every signal for the payment. It fails with a not-found
// error when the payment or its obligation cannot be resolved.
func (s *Scorer) Assess(ctx context.Context, paymentID string) (*models.FraudAssessment, error) {
	payment, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ObligationID == "" {
		return nil, errors.NotFoundError("obligation", "").WithContext("payment_id", paymentID)
	}

	obligation, err := s.obligations.GetObligation(ctx, payment.ObligationID)
	if err != nil {
		return nil, err
	}

	history, err := s.payments.ListPaymentsByPayer(ctx, payment.PayerID)
	if err != nil {
		return nil, err
	}

	ev := &evaluation{
		payment:    payment,
		obligation: obligation,
		history:    history,
		limits:     s.config.thresholds(),
		config:     s.config,
	}

	total := decimal.Zero
	indicators := []string{}
	for _, sig := range signals {
		if !sig.triggered(ev) {
			continue
		}
		indicators = append(indicators, sig.indicator)
		total = total.Add(decimal.NewFromFloat(sig.weight(s.config)))
	}

	assessment := &models.FraudAssessment{
		PaymentID:  payment.ID,
		RiskScore:  decimal.Min(total, decimal.NewFromInt(1)).InexactFloat64(),
		Indicators: indicators,
		AssessedAt: s.clock().UTC(),
	}

	s.logger.WithFields(logger.Fields{
		"payment_id": payment.ID,
		"payer_id":   payment.PayerID,
		"risk_score": assessment.RiskScore,
		"indicators": len(indicators),
	}).Debug("Payment assessed")

	if assessment.Flagged() {
		s.publish(ctx, assessment, payment)
	}

	return assessment, nil
}

func (s *Scorer) publish(ctx context.Context, assessment *models.FraudAssessment, payment *models.Payment) {
	event := audit.NewEvent(audit.EventFraudIndicators, payment.ID, map[string]interface{}{
		"payer_id":      payment.PayerID,
		"obligation_id": payment.ObligationID,
		"amount":        payment.Amount.String(),
		"risk_score":    assessment.RiskScore,
		"indicators":    assessment.Indicators,
	})

	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("Failed to publish fraud indicators")
	}
}

// velocity counts the payer's payments settled inside the window ending at
// this payment's settlement, this payment included
func velocity(ev *evaluation) bool {
	end := ev.payment.SettledAt
	start := end.Add(-ev.config.VelocityWindow)

	count := 0
	seenSelf := false
	for _, p := range ev.history {
		if p.ID == ev.payment.ID {
			seenSelf = true
			count++
			continue
		}
		if p.SettledAt.After(start) && !p.SettledAt.After(end) {
			count++
		}
	}
	if !seenSelf {
		count++
	}
	return count >= ev.config.VelocityCount
}

// novelty fires for a large payment with no earlier completed payment by the payer
func novelty(ev *evaluation) bool {
	if !ev.payment.Amount.GreaterThan(ev.limits.noveltyAmount) {
		return false
	}
	for _, p := range ev.history {
		if p.ID != ev.payment.ID && p.IsCompleted() && p.SettledAt.Before(ev.payment.SettledAt) {
			return false
		}
	}
	return true
}

func discrepancy(ev *evaluation) bool {
	dev, ok := ev.obligation.RelativeDeviation(ev.payment.Amount)
	return ok && dev.GreaterThan(ev.limits.discrepancyRatio)
}

func staleness(ev *evaluation) bool {
	return ev.payment.SettledAt.Sub(ev.obligation.DueDate) > ev.limits.overdue
}
