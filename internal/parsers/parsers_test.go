package parsers

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
)

const sampleMessage = `{1:F01BANKBEBBAXXX0000000000}{2:I103BANKDEFFXXXXN}{4:
:20:CC-2024-0042
:23B:CRED
:32A:240315EUR1.250.000,00
:50K:/12345678
ACME PENSION TRUST
1 HARBOUR ROAD
:59:/DE89370400440532013000
NORTHWIND GROWTH FUND III
:70:CAPITAL CALL 4
:72:/ACC/PRIORITY
-}`

func TestParseMessage_MultiLine(t *testing.T) {
	msg, err := ParseMessage(sampleMessage)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if msg.MessageType != "MT103" {
		t.Errorf("MessageType = %q, want MT103", msg.MessageType)
	}
	if msg.SenderReference != "CC-2024-0042" {
		t.Errorf("SenderReference = %q, want CC-2024-0042", msg.SenderReference)
	}
	if want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC); !msg.ValueDate.Equal(want) {
		t.Errorf("ValueDate = %v, want %v", msg.ValueDate, want)
	}
	if msg.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", msg.Currency)
	}
	if !msg.Amount.Equal(decimal.RequireFromString("1250000.00")) {
		t.Errorf("Amount = %s, want 1250000.00", msg.Amount)
	}
	if want := "/12345678\nACME PENSION TRUST\n1 HARBOUR ROAD"; msg.OrderingCustomer != want {
		t.Errorf("OrderingCustomer = %q, want %q", msg.OrderingCustomer, want)
	}
	if msg.MatchText() != "NORTHWIND GROWTH FUND III" {
		t.Errorf("MatchText() = %q", msg.MatchText())
	}
	if msg.RemittanceInfo != "CAPITAL CALL 4" {
		t.Errorf("RemittanceInfo = %q", msg.RemittanceInfo)
	}
	if msg.SenderToReceiverInfo != "/ACC/PRIORITY" {
		t.Errorf("SenderToReceiverInfo = %q", msg.SenderToReceiverInfo)
	}
}

func TestParseMessage_SingleLine(t *testing.T) {
	msg, err := ParseMessage(":20:ABC123 :32A:251115USD500000.00 :50K:ABC CO :59:XYZ FUND")
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if msg.SenderReference != "ABC123" {
		t.Errorf("SenderReference = %q, want ABC123", msg.SenderReference)
	}
	if msg.OrderingCustomer != "ABC CO" {
		t.Errorf("OrderingCustomer = %q, want ABC CO", msg.OrderingCustomer)
	}
	if msg.BeneficiaryCustomer != "XYZ FUND" {
		t.Errorf("BeneficiaryCustomer = %q, want XYZ FUND", msg.BeneficiaryCustomer)
	}
	if !msg.Amount.Equal(decimal.RequireFromString("500000")) {
		t.Errorf("Amount = %s, want 500000", msg.Amount)
	}
	if msg.RemittanceInfo != "" || msg.SenderToReceiverInfo != "" {
		t.Errorf("optional fields should default to empty, got %q / %q", msg.RemittanceInfo, msg.SenderToReceiverInfo)
	}
}

func TestParseMessage_DecimalSeparators(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{"comma decimal", "EUR250000,50", "250000.50"},
		{"dot decimal", "EUR250000.50", "250000.50"},
		{"trailing comma", "EUR250000,", "250000"},
		{"no separator", "EUR250000", "250000"},
		{"dot thousands comma decimal", "EUR1.250.000,75", "1250000.75"},
		{"comma thousands dot decimal", "USD1,250,000.75", "1250000.75"},
		{"comma thousands only", "USD1,250,000", "1250000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := ":20:REF1\n:32A:240101" + tt.amount + "\n:50K:PAYER\n:59:PAYEE"
			msg, err := ParseMessage(raw)
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			if !msg.Amount.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Amount = %s, want %s", msg.Amount, tt.want)
			}
		})
	}
}

func TestParseMessage_MissingField(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		tag  string
	}{
		{"missing 20", ":32A:240101EUR100,00\n:50K:PAYER\n:59:PAYEE", "20"},
		{"missing 32A", ":20:REF1\n:50K:PAYER\n:59:PAYEE", "32A"},
		{"missing 50K", ":20:REF1\n:32A:240101EUR100,00\n:59:PAYEE", "50K"},
		{"missing 59", ":20:REF1\n:32A:240101EUR100,00\n:50K:PAYER", "59"},
		{"empty 20", ":20:\n:32A:240101EUR100,00\n:50K:PAYER\n:59:PAYEE", "20"},
		{"empty input", "", "20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage(tt.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			re, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("expected ReconcilerError, got %T", err)
			}
			if re.Code != errors.CodeMissingField {
				t.Errorf("Code = %v, want %v", re.Code, errors.CodeMissingField)
			}
			if got := re.Field("field"); got != tt.tag {
				t.Errorf("field = %q, want %q", got, tt.tag)
			}
		})
	}
}

func TestParseMessage_AlternativeTags(t *testing.T) {
	raw := ":20:REF1\n:32A:240101EUR100,00\n:50F:/987\n1/ORDERING LTD\n:59A:BENEFICIARY BIC"
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.OrderingCustomer != "/987\n1/ORDERING LTD" {
		t.Errorf("OrderingCustomer = %q", msg.OrderingCustomer)
	}
	if msg.BeneficiaryCustomer != "BENEFICIARY BIC" {
		t.Errorf("BeneficiaryCustomer = %q", msg.BeneficiaryCustomer)
	}
}

func TestParseMessage_MalformedAmount(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"letters in amount", "240101EURABC"},
		{"short date", "2401EUR100,00"},
		{"impossible date", "241399EUR100,00"},
		{"lowercase currency", "240101eur100,00"},
		{"missing amount", "240101EUR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := ":20:REF1\n:32A:" + tt.value + "\n:50K:PAYER\n:59:PAYEE"
			_, err := ParseMessage(raw)
			if !errors.HasCode(err, errors.CodeMalformedAmount) {
				t.Errorf("ParseMessage() error = %v, want code %v", err, errors.CodeMalformedAmount)
			}
		})
	}
}

func TestParseMessage_ApplicationHeaderType(t *testing.T) {
	raw := "{1:F01X}{2:O202BANKXXXX}{4:\n:20:R\n:32A:240101EUR1,00\n:50K:A\n:59:B\n-}"
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.MessageType != "MT202" {
		t.Errorf("MessageType = %q, want MT202", msg.MessageType)
	}
	if msg.BeneficiaryCustomer != "B" {
		t.Errorf("BeneficiaryCustomer = %q, want B", msg.BeneficiaryCustomer)
	}
}

const noisyStatement = `FIRST NATIONAL BANK        Statement Period 01/01/2024 - 01/31/2024
01/05/2024 WIRE REF:ABC123 NORTHWIND FUND 500,000.00
01/12/2024 ACH DEBIT MANAGEMENT FEE (12,500.00)

1/20/2024 INCOMING WIRE ACME HOLDINGS $1,250.50 CR
Page 1 of 1
`

func TestParseStatement_DropsNoise(t *testing.T) {
	parser, err := NewStatementParser(nil)
	if err != nil {
		t.Fatalf("NewStatementParser() error = %v", err)
	}

	transactions, stats := parser.Parse(noisyStatement)

	if len(transactions) != 3 {
		t.Fatalf("got %d transactions, want 3", len(transactions))
	}
	if stats.DroppedLines != 2 {
		t.Errorf("DroppedLines = %d, want 2", stats.DroppedLines)
	}
	if stats.BlankLines != 1 {
		t.Errorf("BlankLines = %d, want 1", stats.BlankLines)
	}

	first := transactions[0]
	if first.Description != "WIRE REF:ABC123 NORTHWIND FUND" {
		t.Errorf("Description = %q", first.Description)
	}
	if !first.Amount.Equal(decimal.RequireFromString("500000.00")) || first.Type != models.TransactionTypeCredit {
		t.Errorf("first transaction = %s", first)
	}
	if first.LineNumber != 2 {
		t.Errorf("LineNumber = %d, want 2", first.LineNumber)
	}

	fee := transactions[1]
	if !fee.Amount.Equal(decimal.RequireFromString("-12500.00")) || fee.Type != models.TransactionTypeDebit {
		t.Errorf("fee transaction = %s", fee)
	}

	wire := transactions[2]
	if wire.Description != "INCOMING WIRE ACME HOLDINGS" {
		t.Errorf("Description = %q", wire.Description)
	}
	if want := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC); !wire.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", wire.Date, want)
	}
}

func TestParseStatement_AmountFormats(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		amount   string
		txType   models.TransactionType
		desc     string
		accepted bool
	}{
		{"plain", "03/01/2024 DEPOSIT 100.00", "100.00", models.TransactionTypeCredit, "DEPOSIT", true},
		{"iso code", "03/01/2024 WIRE IN USD 2,500,000.00", "2500000.00", models.TransactionTypeCredit, "WIRE IN", true},
		{"attached iso code", "03/01/2024 WIRE IN EUR1,250.00", "1250.00", models.TransactionTypeCredit, "WIRE IN", true},
		{"company suffix kept", "01/15/2024 ACME GROWTH FUND LLC 105,500.00", "105500.00", models.TransactionTypeCredit, "ACME GROWTH FUND LLC", true},
		{"trailing reference kept", "01/15/2024 WIRE REF ABC 250,000.00", "250000.00", models.TransactionTypeCredit, "WIRE REF ABC", true},
		{"euro symbol", "03/01/2024 SEPA €99.95", "99.95", models.TransactionTypeCredit, "SEPA", true},
		{"leading minus", "03/01/2024 CHECK 1042 -75.10", "-75.10", models.TransactionTypeDebit, "CHECK 1042", true},
		{"minus after symbol", "03/01/2024 CARD $-8.00", "-8.00", models.TransactionTypeDebit, "CARD", true},
		{"debit marker", "03/01/2024 TRANSFER OUT 400.00 DR", "-400.00", models.TransactionTypeDebit, "TRANSFER OUT", true},
		{"one decimal", "03/01/2024 DEPOSIT 100.0", "", "", "", false},
		{"three decimals", "03/01/2024 DEPOSIT 100.000", "", "", "", false},
		{"no amount", "03/01/2024 OPENING BALANCE", "", "", "", false},
		{"bad grouping", "03/01/2024 DEPOSIT 10,00.00", "", "", "", false},
		{"unbalanced parenthesis", "03/01/2024 FEE (10.00", "", "", "", false},
		{"impossible date", "13/45/2024 DEPOSIT 100.00", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transactions, stats := defaultStatementParser.Parse(tt.line)
			if !tt.accepted {
				if len(transactions) != 0 || stats.DroppedLines != 1 {
					t.Errorf("expected line to be dropped, got %d transactions, %d dropped", len(transactions), stats.DroppedLines)
				}
				return
			}
			if len(transactions) != 1 {
				t.Fatalf("got %d transactions, want 1 (dropped: %v)", len(transactions), stats.GetSampleDropped(1))
			}
			tx := transactions[0]
			if !tx.Amount.Equal(decimal.RequireFromString(tt.amount)) {
				t.Errorf("Amount = %s, want %s", tx.Amount, tt.amount)
			}
			if tx.Type != tt.txType {
				t.Errorf("Type = %s, want %s", tx.Type, tt.txType)
			}
			if tx.Description != tt.desc {
				t.Errorf("Description = %q, want %q", tx.Description, tt.desc)
			}
			if tx.RawLine != tt.line {
				t.Errorf("RawLine = %q, want %q", tx.RawLine, tt.line)
			}
		})
	}
}

func TestParseStatement_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "\n\n", "no transactions this period"} {
		got := ParseStatement(text)
		if got == nil {
			t.Errorf("ParseStatement(%q) returned nil, want empty slice", text)
		}
		if len(got) != 0 {
			t.Errorf("ParseStatement(%q) returned %d transactions, want 0", text, len(got))
		}
	}
}

func TestParseStatement_ConcurrentUse(t *testing.T) {
	done := make(chan int, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- len(ParseStatement(noisyStatement))
		}()
	}
	for i := 0; i < 8; i++ {
		if n := <-done; n != 3 {
			t.Errorf("concurrent parse returned %d transactions, want 3", n)
		}
	}
}

func TestParseReader_LongLine(t *testing.T) {
	parser, err := NewStatementParser(&StatementConfig{DateLayouts: []string{"1/2/2006"}, MaxLineLength: 64})
	if err != nil {
		t.Fatalf("NewStatementParser() error = %v", err)
	}

	input := strings.Join([]string{
		"1/5/2024 DEPOSIT 10.00",
		strings.Repeat("x", 200),
		"1/6/2024 DEPOSIT 20.00",
		"1/7/2024 DEPOSIT 30.00",
		strings.Repeat("y", 64),
		"1/8/2024 " + strings.Repeat("z", 70) + " 40.00",
	}, "\n")

	transactions, stats, err := parser.ParseReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	if len(transactions) != 3 {
		t.Fatalf("got %d transactions, want 3", len(transactions))
	}
	if transactions[1].LineNumber != 3 || transactions[2].LineNumber != 4 {
		t.Errorf("line numbers = %d, %d, want 3, 4", transactions[1].LineNumber, transactions[2].LineNumber)
	}
	if stats.TotalLines != 6 || stats.DroppedLines != 3 {
		t.Errorf("TotalLines = %d, DroppedLines = %d, want 6, 3", stats.TotalLines, stats.DroppedLines)
	}

	wantReasons := map[int]string{2: "line too long", 5: "not a transaction row", 6: "line too long"}
	for _, d := range stats.Dropped {
		if d.Reason != wantReasons[d.LineNumber] {
			t.Errorf("line %d reason = %q, want %q", d.LineNumber, d.Reason, wantReasons[d.LineNumber])
		}
		if len(d.Text) > 64 {
			t.Errorf("line %d text length = %d, want at most 64", d.LineNumber, len(d.Text))
		}
	}
}

func TestStatementConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *StatementConfig
		wantErr bool
	}{
		{"default", DefaultStatementConfig(), false},
		{"no layouts", &StatementConfig{MaxLineLength: 10}, true},
		{"blank layout", &StatementConfig{DateLayouts: []string{" "}, MaxLineLength: 10}, true},
		{"zero line length", &StatementConfig{DateLayouts: []string{"1/2/2006"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
