package parsers

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/logger"
)

// currencyCodes are the ISO codes accepted in front of an amount. Any other
// three-letter word before the amount stays in the description (LLC, INC).
var currencyCodes = []string{
	"USD", "EUR", "GBP", "JPY", "CHF", "CAD", "AUD", "NZD", "HKD", "SGD",
	"SEK", "NOK", "DKK", "CNY", "INR", "ZAR", "MXN", "BRL",
}

// statementRowPattern recognises "<date> <description> <amount>" rows.
// The amount takes an optional sign or parentheses, an optional currency
// code or symbol, optional thousands grouping, exactly two decimals and an
// optional trailing CR/DR marker.
var statementRowPattern = regexp.MustCompile(
	`^(\d{1,2}/\d{1,2}/\d{4})\s+(.*?\S)\s+` +
		`(-)?(\()?(-)?(?:(` + strings.Join(currencyCodes, "|") + `)\s?|([$€£¥]))?(-)?` +
		`(\d{1,3}(?:,\d{3})+|\d+)\.(\d{2})(\))?(?:\s?(CR|DR))?$`)

const (
	rowDate = iota + 1
	rowDescription
	rowSignLead
	rowParenOpen
	rowSignInParen
	rowCurrencyCode
	rowCurrencySymbol
	rowSignAfterCurrency
	rowWhole
	rowCents
	rowParenClose
	rowMarker
)

// DroppedLine records a non-blank line that did not yield a transaction
type DroppedLine struct {
	LineNumber int    `json:"lineNumber"`
	Text       string `json:"text"`
	Reason     string `json:"reason"`
}

// ParseStats holds statistics about a statement parse
type ParseStats struct {
	TotalLines   int            `json:"totalLines"`
	BlankLines   int            `json:"blankLines"`
	RecordsValid int            `json:"recordsValid"`
	DroppedLines int            `json:"droppedLines"`
	Dropped      []*DroppedLine `json:"dropped,omitempty"`
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{
		Dropped: make([]*DroppedLine, 0),
	}
}

// AddDropped records a dropped line
func (ps *ParseStats) AddDropped(lineNumber int, text, reason string) {
	ps.Dropped = append(ps.Dropped, &DroppedLine{LineNumber: lineNumber, Text: text, Reason: reason})
	ps.DroppedLines++
}

// HasDropped returns true if any line was dropped
func (ps *ParseStats) HasDropped() bool {
	return ps.DroppedLines > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Read %d lines, %d transactions, %d dropped, %d blank",
		ps.TotalLines, ps.RecordsValid, ps.DroppedLines, ps.BlankLines)
}

// GetSampleDropped returns a sample of dropped lines for logging
func (ps *ParseStats) GetSampleDropped(maxSamples int) []string {
	if len(ps.Dropped) == 0 {
		return nil
	}

	limit := len(ps.Dropped)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for _, d := range ps.Dropped[:limit] {
		samples = append(samples, fmt.Sprintf("line %d: %s (%q)", d.LineNumber, d.Reason, d.Text))
	}
	return samples
}

// StatementParser tokenizes extracted statement text into transactions.
// It holds no per-parse state and is safe for concurrent use.
type StatementParser struct {
	config *StatementConfig
	logger logger.Logger
}

// NewStatementParser creates a StatementParser with the given configuration
func NewStatementParser(config *StatementConfig) (*StatementParser, error) {
	if config == nil {
		config = DefaultStatementConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid statement configuration: %w", err)
	}

	return &StatementParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("statement_parser"),
	}, nil
}

var defaultStatementParser = &StatementParser{config: DefaultStatementConfig()}

// ParseStatement parses statement text with the default configuration.
// Unrecognised lines are dropped; it never fails and returns an empty slice
// when nothing matches.
func ParseStatement(text string) []*models.StatementTransaction {
	transactions, _ := defaultStatementParser.Parse(text)
	return transactions
}

// Parse parses statement text and reports what was dropped
func (sp *StatementParser) Parse(text string) ([]*models.StatementTransaction, *ParseStats) {
	// reading from a strings.Reader cannot fail
	transactions, stats, _ := sp.ParseReader(strings.NewReader(text))
	return transactions, stats
}

// ParseReader parses statement lines from r. Lines longer than MaxLineLength
// are dropped and parsing continues. The only error it returns comes from
// reading r itself.
func (sp *StatementParser) ParseReader(r io.Reader) ([]*models.StatementTransaction, *ParseStats, error) {
	stats := NewParseStats()
	transactions := make([]*models.StatementTransaction, 0)

	size := 4096
	if sp.config.MaxLineLength < size {
		size = sp.config.MaxLineLength
	}
	reader := bufio.NewReaderSize(r, size)

	lineNumber := 0
	for {
		raw, tooLong, err := readLine(reader, sp.config.MaxLineLength)
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.TotalLines = lineNumber
			return transactions, stats, fmt.Errorf("failed to read statement: %w", err)
		}
		lineNumber++

		line := strings.TrimSpace(raw)
		if tooLong {
			stats.AddDropped(lineNumber, line, "line too long")
			continue
		}
		if line == "" {
			stats.BlankLines++
			continue
		}

		tx, reason := sp.parseLine(line)
		if tx == nil {
			stats.AddDropped(lineNumber, line, reason)
			continue
		}

		tx.LineNumber = lineNumber
		transactions = append(transactions, tx)
		stats.RecordsValid++
	}
	stats.TotalLines = lineNumber

	if sp.logger != nil && stats.HasDropped() {
		sp.logger.WithFields(logger.Fields{
			"transactions":  stats.RecordsValid,
			"dropped_lines": stats.DroppedLines,
			"samples":       stats.GetSampleDropped(3),
		}).Debug("Dropped unrecognised statement lines")
	}

	return transactions, stats, nil
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed whole and returned cut to its first limit bytes with
// tooLong set.
func readLine(r *bufio.Reader, limit int) (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if err == io.EOF && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > limit {
				buf = append(buf, chunk[:limit-len(buf)]...)
				tooLong = true
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

// parseLine returns the transaction for a row, or nil and the drop reason
func (sp *StatementParser) parseLine(line string) (*models.StatementTransaction, string) {
	m := statementRowPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, "not a transaction row"
	}

	if (m[rowParenOpen] == "") != (m[rowParenClose] == "") {
		return nil, "unbalanced parentheses in amount"
	}

	date, err := sp.parseDate(m[rowDate])
	if err != nil {
		return nil, "invalid date"
	}

	whole := strings.ReplaceAll(m[rowWhole], ",", "")
	amount, err := decimal.NewFromString(whole + "." + m[rowCents])
	if err != nil {
		return nil, "invalid amount"
	}

	debit := m[rowSignLead] != "" || m[rowSignInParen] != "" || m[rowSignAfterCurrency] != "" ||
		m[rowParenOpen] != "" || m[rowMarker] == "DR"
	if m[rowMarker] == "CR" {
		debit = false
	}

	txType := models.TransactionTypeCredit
	if debit {
		txType = models.TransactionTypeDebit
		amount = amount.Neg()
	}

	return &models.StatementTransaction{
		Date:        date,
		Description: m[rowDescription],
		Amount:      amount,
		Type:        txType,
		RawLine:     line,
	}, ""
}

func (sp *StatementParser) parseDate(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range sp.config.DateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
