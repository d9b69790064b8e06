package models

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionType_String(t *testing.T) {
	tests := []struct {
		txType   TransactionType
		expected string
	}{
		{TransactionTypeDebit, "DEBIT"},
		{TransactionTypeCredit, "CREDIT"},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			if got := tt.txType.String(); got != tt.expected {
				t.Errorf("TransactionType.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTransactionType_IsValid(t *testing.T) {
	tests := []struct {
		txType TransactionType
		valid  bool
	}{
		{TransactionTypeDebit, true},
		{TransactionTypeCredit, true},
		{"INVALID", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			if got := tt.txType.IsValid(); got != tt.valid {
				t.Errorf("TransactionType.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestStatementTransaction_ReferenceTokens(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        []string
	}{
		{"wire reference", "WIRE REF:ABC123", []string{"WIRE", "REF", "ABC123"}},
		{"slash separated", "TRF/CC-2024-01/ACME FUND", []string{"TRF", "CC-2024-01", "ACME", "FUND"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &StatementTransaction{Description: tt.description}
			got := tx.ReferenceTokens()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReferenceTokens() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatementTransaction_MatchAmountIsAbsolute(t *testing.T) {
	tx := &StatementTransaction{Amount: decimal.RequireFromString("-1250.00"), Type: TransactionTypeDebit}
	if !tx.MatchAmount().Equal(decimal.RequireFromString("1250")) {
		t.Errorf("MatchAmount() = %s, want 1250", tx.MatchAmount())
	}
}

func TestWireMessage_MatchText(t *testing.T) {
	tests := []struct {
		name        string
		beneficiary string
		want        string
	}{
		{"single line", "ACME FUND LP", "ACME FUND LP"},
		{"name then address", "ACME FUND LP\n1 MAIN ST", "ACME FUND LP"},
		{"account line first", "/DE89370400440532013000\nACME FUND LP\n1 MAIN ST", "ACME FUND LP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &WireMessage{BeneficiaryCustomer: tt.beneficiary}
			if got := m.MatchText(); got != tt.want {
				t.Errorf("MatchText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWireMessage_ReferenceTokens(t *testing.T) {
	m := &WireMessage{SenderReference: "ABC123"}
	if got := m.ReferenceTokens(); !reflect.DeepEqual(got, []string{"ABC123"}) {
		t.Errorf("ReferenceTokens() = %v", got)
	}

	empty := &WireMessage{}
	if got := empty.ReferenceTokens(); got != nil {
		t.Errorf("ReferenceTokens() on empty reference = %v, want nil", got)
	}
}

func TestObligation_HasReference(t *testing.T) {
	ref := "ABC123"
	blank := ""

	tests := []struct {
		name string
		ref  *string
		in   string
		want bool
	}{
		{"matching", &ref, "ABC123", true},
		{"different", &ref, "ABC124", false},
		{"nil reference", nil, "ABC123", false},
		{"blank reference", &blank, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Obligation{WireReference: tt.ref}
			if got := o.HasReference(tt.in); got != tt.want {
				t.Errorf("HasReference(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestObligation_RelativeDeviation(t *testing.T) {
	o := &Obligation{AmountDue: decimal.RequireFromString("500000")}

	dev, ok := o.RelativeDeviation(decimal.RequireFromString("450000"))
	if !ok {
		t.Fatal("expected deviation to be defined")
	}
	if !dev.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("RelativeDeviation() = %s, want 0.1", dev)
	}

	zero := &Obligation{AmountDue: decimal.Zero}
	if _, ok := zero.RelativeDeviation(decimal.NewFromInt(1)); ok {
		t.Error("expected deviation to be undefined for zero amount due")
	}
}

func TestObligation_Clone(t *testing.T) {
	ref := "ABC123"
	now := time.Now()
	o := &Obligation{ID: "ob-1", WireReference: &ref, ReconciledAt: &now}

	c := o.Clone()
	*c.WireReference = "changed"
	if *o.WireReference != "ABC123" {
		t.Error("Clone() shares the wire reference pointer")
	}
	if c.ReconciledAt == o.ReconciledAt {
		t.Error("Clone() shares the reconciledAt pointer")
	}
}

func TestMatchResult_Constructors(t *testing.T) {
	none := NoMatch()
	if none.IsMatch() || none.ObligationID != nil || none.Confidence != 0 || none.MatchedBy != MatchedByNone {
		t.Errorf("NoMatch() = %+v", none)
	}

	ref := ReferenceMatch("ob-1")
	if !ref.IsMatch() || ref.ID() != "ob-1" || ref.Confidence != 1.0 || ref.MatchedBy != MatchedByReference {
		t.Errorf("ReferenceMatch() = %+v", ref)
	}

	fuzzy := FuzzyMatch("ob-2", 1.3)
	if fuzzy.Confidence != 1.0 {
		t.Errorf("FuzzyMatch() confidence = %v, want clamped to 1.0", fuzzy.Confidence)
	}

	var nilResult *MatchResult
	if nilResult.IsMatch() || nilResult.ID() != "" {
		t.Error("nil MatchResult should report no match")
	}
}

func TestMatchResult_JSONNullObligation(t *testing.T) {
	data, err := json.Marshal(NoMatch())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"obligationId":null,"confidence":0,"matchedBy":"none"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestPeriod(t *testing.T) {
	p, err := NewPeriod("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("NewPeriod() error = %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"first day", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"last day late", time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC), true},
		{"day before", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"day after", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Contains(tt.at); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}

	if _, err := NewPeriod("2024-02-01", "2024-01-01"); err == nil {
		t.Error("expected error for inverted period")
	}
	if _, err := NewPeriod("01/02/2024", "2024-01-01"); err == nil {
		t.Error("expected error for malformed start")
	}
}

func TestReconciliationReport_MatchRate(t *testing.T) {
	r := &ReconciliationReport{TotalTransactions: 4, MatchedCount: 3}
	if got := r.MatchRate(); got != 75 {
		t.Errorf("MatchRate() = %v, want 75", got)
	}

	empty := &ReconciliationReport{}
	if got := empty.MatchRate(); got != 0 {
		t.Errorf("MatchRate() on empty report = %v, want 0", got)
	}
}

func TestFraudAssessment_Flagged(t *testing.T) {
	a := &FraudAssessment{Indicators: []string{}}
	if a.Flagged() {
		t.Error("assessment without indicators should not be flagged")
	}
	a.Indicators = append(a.Indicators, "3 payments in 24h")
	if !a.Flagged() {
		t.Error("assessment with indicators should be flagged")
	}
}
