// Package models holds the domain records exchanged between the parsers, the
// matching engine, the reconciliation coordinator and the fraud scorer.
//
// Money is always carried as decimal.Decimal. Confidence and risk scores are
// float64 in [0,1].
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the direction of a statement transaction
type TransactionType string

const (
	// TransactionTypeDebit represents money leaving the account
	TransactionTypeDebit TransactionType = "DEBIT"
	// TransactionTypeCredit represents money arriving in the account
	TransactionTypeCredit TransactionType = "CREDIT"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeDebit || t == TransactionTypeCredit
}

// Candidate is anything the matching engine can match against obligations
type Candidate interface {
	// ReferenceTokens returns the identifiers compared for exact reference matches
	ReferenceTokens() []string
	// MatchText returns the free text compared with an obligation's fund name
	MatchText() string
	// MatchAmount returns the positive amount compared with the amount due
	MatchAmount() decimal.Decimal
}

// WireMessage is a parsed tag-delimited wire transfer notification.
// Values are never modified after parsing.
type WireMessage struct {
	MessageType          string          `json:"messageType"`
	SenderReference      string          `json:"senderReference"`
	ValueDate            time.Time       `json:"valueDate"`
	Currency             string          `json:"currency"`
	Amount               decimal.Decimal `json:"amount"`
	OrderingCustomer     string          `json:"orderingCustomer"`
	BeneficiaryCustomer  string          `json:"beneficiaryCustomer"`
	RemittanceInfo       string          `json:"remittanceInfo"`
	SenderToReceiverInfo string          `json:"senderToReceiverInfo"`
}

// ReferenceTokens returns the sender reference (:20:)
func (m *WireMessage) ReferenceTokens() []string {
	if m.SenderReference == "" {
		return nil
	}
	return []string{m.SenderReference}
}

// MatchText returns the beneficiary name, the first line of :59:
func (m *WireMessage) MatchText() string {
	name, _, _ := strings.Cut(m.BeneficiaryCustomer, "\n")
	// account lines such as "/DE89370400440532013000" precede the name
	if strings.HasPrefix(name, "/") {
		lines := strings.Split(m.BeneficiaryCustomer, "\n")
		if len(lines) > 1 {
			name = lines[1]
		}
	}
	return strings.TrimSpace(name)
}

// MatchAmount returns the :32A: amount
func (m *WireMessage) MatchAmount() decimal.Decimal {
	return m.Amount.Abs()
}

// String returns a string representation of the WireMessage
func (m *WireMessage) String() string {
	return fmt.Sprintf("WireMessage{Type: %s, Ref: %s, Amount: %s %s, ValueDate: %s}",
		m.MessageType, m.SenderReference, m.Currency, m.Amount.StringFixed(2), m.ValueDate.Format("2006-01-02"))
}

// StatementTransaction is one row recognised in extracted statement text
type StatementTransaction struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	RawLine     string          `json:"rawLine"`
	LineNumber  int             `json:"lineNumber"`
}

// ReferenceTokens splits the description into candidate reference identifiers
func (t *StatementTransaction) ReferenceTokens() []string {
	return strings.FieldsFunc(t.Description, func(r rune) bool {
		switch r {
		case ' ', '\t', '/', ',', ';', ':', '#':
			return true
		}
		return false
	})
}

// MatchText returns the transaction description
func (t *StatementTransaction) MatchText() string {
	return t.Description
}

// MatchAmount returns the absolute transaction amount
func (t *StatementTransaction) MatchAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// IsCredit returns true if the transaction is a credit
func (t *StatementTransaction) IsCredit() bool {
	return t.Type == TransactionTypeCredit
}

// String returns a string representation of the StatementTransaction
func (t *StatementTransaction) String() string {
	return fmt.Sprintf("StatementTransaction{Date: %s, Description: %q, Amount: %s, Type: %s}",
		t.Date.Format("2006-01-02"), t.Description, t.Amount.StringFixed(2), t.Type)
}

// Obligation is an outstanding expected payment such as a capital call.
// It is owned by the external store; the engine only reads and claims it.
type Obligation struct {
	ID            string          `json:"id"`
	BankAccountID string          `json:"bankAccountId"`
	WireReference *string         `json:"wireReference,omitempty"`
	FundName      string          `json:"fundName"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	DueDate       time.Time       `json:"dueDate"`
	Reconciled    bool            `json:"reconciled"`
	ReconciledAt  *time.Time      `json:"reconciledAt,omitempty"`
	ClaimKey      string          `json:"claimKey,omitempty"`
}

// HasReference reports whether the obligation carries the given wire reference
func (o *Obligation) HasReference(ref string) bool {
	return o.WireReference != nil && *o.WireReference != "" && *o.WireReference == ref
}

// AmountDeviation returns |amount - amountDue|
func (o *Obligation) AmountDeviation(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(o.AmountDue).Abs()
}

// RelativeDeviation returns |amount - amountDue| / amountDue, and false when
// amountDue is not positive
func (o *Obligation) RelativeDeviation(amount decimal.Decimal) (decimal.Decimal, bool) {
	if !o.AmountDue.IsPositive() {
		return decimal.Zero, false
	}
	return o.AmountDeviation(amount).Div(o.AmountDue), true
}

// Clone returns a copy safe to hand to another goroutine
func (o *Obligation) Clone() *Obligation {
	c := *o
	if o.WireReference != nil {
		ref := *o.WireReference
		c.WireReference = &ref
	}
	if o.ReconciledAt != nil {
		at := *o.ReconciledAt
		c.ReconciledAt = &at
	}
	return &c
}

// PaymentStatus is the settlement state of a payment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is a confirmed or pending payment linked to an obligation
type Payment struct {
	ID           string          `json:"id"`
	PayerID      string          `json:"payerId"`
	ObligationID string          `json:"obligationId"`
	Amount       decimal.Decimal `json:"amount"`
	Status       PaymentStatus   `json:"status"`
	SettledAt    time.Time       `json:"settledAt"`
}

// IsCompleted reports whether the payment has settled
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentCompleted
}

// MatchedBy names the strategy that produced a match
type MatchedBy string

const (
	MatchedByReference MatchedBy = "reference"
	MatchedByFuzzy     MatchedBy = "fuzzy"
	MatchedByNone      MatchedBy = "none"
)

// MatchResult is the outcome of matching one candidate against a pool
type MatchResult struct {
	ObligationID *string   `json:"obligationId"`
	Confidence   float64   `json:"confidence"`
	MatchedBy    MatchedBy `json:"matchedBy"`
}

// NoMatch returns the unmatched result
func NoMatch() *MatchResult {
	return &MatchResult{MatchedBy: MatchedByNone}
}

// ReferenceMatch returns a full-confidence reference match
func ReferenceMatch(obligationID string) *MatchResult {
	return &MatchResult{ObligationID: &obligationID, Confidence: 1.0, MatchedBy: MatchedByReference}
}

// FuzzyMatch returns a fuzzy match with confidence clamped to [0,1]
func FuzzyMatch(obligationID string, confidence float64) *MatchResult {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &MatchResult{ObligationID: &obligationID, Confidence: confidence, MatchedBy: MatchedByFuzzy}
}

// IsMatch reports whether an obligation was selected
func (r *MatchResult) IsMatch() bool {
	return r != nil && r.MatchedBy != MatchedByNone && r.ObligationID != nil
}

// ID returns the matched obligation ID or ""
func (r *MatchResult) ID() string {
	if r == nil || r.ObligationID == nil {
		return ""
	}
	return *r.ObligationID
}

// Period is an inclusive reconciliation date range
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewPeriod parses a YYYY-MM-DD period
func NewPeriod(start, end string) (Period, error) {
	s, err := time.Parse("2006-01-02", strings.TrimSpace(start))
	if err != nil {
		return Period{}, fmt.Errorf("invalid period start %q: %w", start, err)
	}
	e, err := time.Parse("2006-01-02", strings.TrimSpace(end))
	if err != nil {
		return Period{}, fmt.Errorf("invalid period end %q: %w", end, err)
	}
	p := Period{Start: s, End: e}
	return p, p.Validate()
}

// Validate checks that the period is well formed
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("period start and end are required")
	}
	if p.Start.After(p.End) {
		return fmt.Errorf("period start %s is after end %s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	}
	return nil
}

// Contains reports whether t falls on a day within the period
func (p Period) Contains(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(truncateDay(p.Start)) && !day.After(truncateDay(p.End))
}

// String returns the period as start..end
func (p Period) String() string {
	return fmt.Sprintf("%s..%s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Discrepancy records a transaction that could not be reconciled
type Discrepancy struct {
	Transaction *StatementTransaction `json:"transaction"`
	Reason      string                `json:"reason"`
}

// Discrepancy reasons recorded by the coordinator
const (
	ReasonNoObligation   = "no obligation within tolerance"
	ReasonAlreadyClaimed = "obligation already claimed"
	ReasonOutsidePeriod  = "transaction dated outside reconciliation period"
)

// ReportMatch records a transaction reconciled against an obligation
type ReportMatch struct {
	Transaction  *StatementTransaction `json:"transaction"`
	ObligationID string                `json:"obligationId"`
	Confidence   float64               `json:"confidence"`
	MatchedBy    MatchedBy             `json:"matchedBy"`
	NewClaim     bool                  `json:"newClaim"`
}

// ReconciliationReport aggregates the outcome of reconciling one statement
type ReconciliationReport struct {
	ID                string         `json:"id" yaml:"id"`
	BankAccountID     string         `json:"bankAccountId" yaml:"bankAccountId"`
	PeriodStart       time.Time      `json:"periodStart" yaml:"periodStart"`
	PeriodEnd         time.Time      `json:"periodEnd" yaml:"periodEnd"`
	TotalTransactions int            `json:"totalTransactions" yaml:"totalTransactions"`
	MatchedCount      int            `json:"matchedCount" yaml:"matchedCount"`
	UnmatchedCount    int            `json:"unmatchedCount" yaml:"unmatchedCount"`
	NewlyClaimedCount int            `json:"newlyClaimedCount" yaml:"newlyClaimedCount"`
	DroppedLines      int            `json:"droppedLines" yaml:"droppedLines"`
	Matches           []*ReportMatch `json:"matches" yaml:"matches"`
	Discrepancies     []*Discrepancy `json:"discrepancies" yaml:"discrepancies"`
	GeneratedAt       time.Time      `json:"generatedAt" yaml:"generatedAt"`
}

// Period returns the report period
func (r *ReconciliationReport) Period() Period {
	return Period{Start: r.PeriodStart, End: r.PeriodEnd}
}

// MatchRate returns matched / total as a percentage
func (r *ReconciliationReport) MatchRate() float64 {
	if r.TotalTransactions == 0 {
		return 0
	}
	return float64(r.MatchedCount) / float64(r.TotalTransactions) * 100
}

// FraudAssessment is the risk evaluation of one confirmed payment
type FraudAssessment struct {
	PaymentID  string    `json:"paymentId"`
	RiskScore  float64   `json:"riskScore"`
	Indicators []string  `json:"indicators"`
	AssessedAt time.Time `json:"assessedAt"`
}

// Flagged reports whether any indicator fired
func (a *FraudAssessment) Flagged() bool {
	return len(a.Indicators) > 0
}
