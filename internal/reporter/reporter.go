// Package reporter renders reconciliation reports and batch outcomes.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the report as stored, for programmatic consumption
//   - CSV: one row per statement transaction, for spreadsheets
//   - YAML: summary plus rows, for review in pull requests and tickets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatYAML    OutputFormat = "yaml"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatYAML:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeMatches       bool `json:"include_matches" mapstructure:"include_matches"`
	IncludeDiscrepancies bool `json:"include_discrepancies" mapstructure:"include_discrepancies"`

	// MaxListItems truncates console lists; 0 lists everything
	MaxListItems int `json:"max_list_items" mapstructure:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`

	// SortByAmount orders console discrepancies by absolute amount, largest first
	SortByAmount bool `json:"sort_by_amount" mapstructure:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:               FormatConsole,
		IncludeMatches:       true,
		IncludeDiscrepancies: true,
		MaxListItems:         10,
		CSVDelimiter:         ',',
		CSVHeaders:           true,
		SortByAmount:         false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// reportRow is the flat per-transaction view used by CSV and YAML output
type reportRow struct {
	Status       string `json:"status" yaml:"status"`
	Date         string `json:"date" yaml:"date"`
	Description  string `json:"description" yaml:"description"`
	Amount       string `json:"amount" yaml:"amount"`
	Type         string `json:"type" yaml:"type"`
	ObligationID string `json:"obligationId,omitempty" yaml:"obligationId,omitempty"`
	MatchedBy    string `json:"matchedBy,omitempty" yaml:"matchedBy,omitempty"`
	Confidence   string `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	NewClaim     bool   `json:"newClaim,omitempty" yaml:"newClaim,omitempty"`
	Reason       string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// reportSummary is the header of a YAML report
type reportSummary struct {
	ID                string    `yaml:"id"`
	BankAccountID     string    `yaml:"bankAccountId"`
	Period            string    `yaml:"period"`
	TotalTransactions int       `yaml:"totalTransactions"`
	MatchedCount      int       `yaml:"matchedCount"`
	UnmatchedCount    int       `yaml:"unmatchedCount"`
	NewlyClaimedCount int       `yaml:"newlyClaimedCount"`
	DroppedLines      int       `yaml:"droppedLines"`
	MatchRate         string    `yaml:"matchRate"`
	GeneratedAt       time.Time `yaml:"generatedAt"`
}

// GenerateReport renders one reconciliation report to writer
func (rg *ReportGenerator) GenerateReport(report *models.ReconciliationReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("reconciliation report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatYAML:
		return rg.generateYAMLReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(report *models.ReconciliationReport, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Report ID:    %s\n", report.ID)
	fmt.Fprintf(writer, "Bank Account: %s\n", report.BankAccountID)
	fmt.Fprintf(writer, "Period:       %s\n", report.Period())
	fmt.Fprintf(writer, "Generated:    %s\n\n", report.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(report, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== MATCH BREAKDOWN ===\n")
	rg.printMatchBreakdown(report.Matches, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeMatches && len(report.Matches) > 0 {
		fmt.Fprintf(writer, "=== MATCHES ===\n")
		rg.printMatches(report.Matches, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDiscrepancies && len(report.Discrepancies) > 0 {
		fmt.Fprintf(writer, "=== DISCREPANCIES ===\n")
		rg.printDiscrepancies(report.Discrepancies, writer)
	}

	return nil
}

// generateJSONReport writes the report, minus sections the configuration excludes
func (rg *ReportGenerator) generateJSONReport(report *models.ReconciliationReport, writer io.Writer) error {
	out := *report
	if !rg.config.IncludeMatches {
		out.Matches = nil
	}
	if !rg.config.IncludeDiscrepancies {
		out.Discrepancies = nil
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&out)
}

// generateCSVReport writes one row per transaction
func (rg *ReportGenerator) generateCSVReport(report *models.ReconciliationReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"Status",
			"Date",
			"Description",
			"Amount",
			"Type",
			"Obligation_ID",
			"Matched_By",
			"Confidence",
			"New_Claim",
			"Reason",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range rg.rows(report) {
		record := []string{
			row.Status,
			row.Date,
			row.Description,
			row.Amount,
			row.Type,
			row.ObligationID,
			row.MatchedBy,
			row.Confidence,
			fmt.Sprintf("%t", row.NewClaim),
			row.Reason,
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// generateYAMLReport writes the summary followed by the transaction rows
func (rg *ReportGenerator) generateYAMLReport(report *models.ReconciliationReport, writer io.Writer) error {
	doc := struct {
		Summary reportSummary `yaml:"summary"`
		Rows    []reportRow   `yaml:"transactions"`
	}{
		Summary: reportSummary{
			ID:                report.ID,
			BankAccountID:     report.BankAccountID,
			Period:            report.Period().String(),
			TotalTransactions: report.TotalTransactions,
			MatchedCount:      report.MatchedCount,
			UnmatchedCount:    report.UnmatchedCount,
			NewlyClaimedCount: report.NewlyClaimedCount,
			DroppedLines:      report.DroppedLines,
			MatchRate:         fmt.Sprintf("%.1f%%", report.MatchRate()),
			GeneratedAt:       report.GeneratedAt,
		},
		Rows: rg.rows(report),
	}

	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return encoder.Close()
}

// rows flattens matches and discrepancies, honouring the include options
func (rg *ReportGenerator) rows(report *models.ReconciliationReport) []reportRow {
	rows := make([]reportRow, 0, len(report.Matches)+len(report.Discrepancies))

	if rg.config.IncludeMatches {
		for _, m := range report.Matches {
			row := transactionRow("Matched", m.Transaction)
			row.ObligationID = m.ObligationID
			row.MatchedBy = string(m.MatchedBy)
			row.Confidence = fmt.Sprintf("%.2f", m.Confidence)
			row.NewClaim = m.NewClaim
			rows = append(rows, row)
		}
	}

	if rg.config.IncludeDiscrepancies {
		for _, d := range report.Discrepancies {
			row := transactionRow("Unmatched", d.Transaction)
			row.Reason = d.Reason
			rows = append(rows, row)
		}
	}

	return rows
}

func transactionRow(status string, tx *models.StatementTransaction) reportRow {
	if tx == nil {
		return reportRow{Status: status}
	}
	return reportRow{
		Status:      status,
		Date:        tx.Date.Format("2006-01-02"),
		Description: tx.Description,
		Amount:      tx.Amount.StringFixed(2),
		Type:        string(tx.Type),
	}
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummary(report *models.ReconciliationReport, writer io.Writer) {
	fmt.Fprintf(writer, "Transactions:\n")
	fmt.Fprintf(writer, "  Total:         %d\n", report.TotalTransactions)
	fmt.Fprintf(writer, "  Matched:       %d (%.1f%%)\n",
		report.MatchedCount,
		rg.calculatePercentage(report.MatchedCount, report.TotalTransactions))
	fmt.Fprintf(writer, "  Unmatched:     %d (%.1f%%)\n",
		report.UnmatchedCount,
		rg.calculatePercentage(report.UnmatchedCount, report.TotalTransactions))
	fmt.Fprintf(writer, "  Newly Claimed: %d\n", report.NewlyClaimedCount)
	fmt.Fprintf(writer, "  Dropped Lines: %d\n", report.DroppedLines)
}

func (rg *ReportGenerator) printMatchBreakdown(matches []*models.ReportMatch, writer io.Writer) {
	var reference, fuzzy, previous int
	for _, m := range matches {
		switch {
		case !m.NewClaim:
			previous++
		case m.MatchedBy == models.MatchedByReference:
			reference++
		default:
			fuzzy++
		}
	}
	total := len(matches)

	fmt.Fprintf(writer, "Reference Matches:  %d (%.1f%%)\n", reference, rg.calculatePercentage(reference, total))
	fmt.Fprintf(writer, "Fuzzy Matches:      %d (%.1f%%)\n", fuzzy, rg.calculatePercentage(fuzzy, total))
	fmt.Fprintf(writer, "Previously Claimed: %d (%.1f%%)\n", previous, rg.calculatePercentage(previous, total))
}

func (rg *ReportGenerator) printMatches(matches []*models.ReportMatch, writer io.Writer) {
	for i, m := range matches {
		if rg.truncate(i, len(matches), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s -> %s (%s, %.2f)\n",
			i+1, describe(m.Transaction), m.ObligationID, m.MatchedBy, m.Confidence)
	}
}

func (rg *ReportGenerator) printDiscrepancies(discrepancies []*models.Discrepancy, writer io.Writer) {
	fmt.Fprintf(writer, "Total Discrepancies Found: %d\n\n", len(discrepancies))

	// Group by reason, in the order reasons first appear
	groups := make(map[string][]*models.Discrepancy)
	var order []string
	for _, d := range discrepancies {
		if _, seen := groups[d.Reason]; !seen {
			order = append(order, d.Reason)
		}
		groups[d.Reason] = append(groups[d.Reason], d)
	}

	for _, reason := range order {
		group := groups[reason]
		if rg.config.SortByAmount {
			sort.SliceStable(group, func(i, j int) bool {
				return group[i].Transaction.Amount.Abs().GreaterThan(group[j].Transaction.Amount.Abs())
			})
		}

		fmt.Fprintf(writer, "%s (%d):\n", heading(reason), len(group))
		for i, d := range group {
			if rg.truncate(i, len(group), writer) {
				break
			}
			fmt.Fprintf(writer, "  - %s\n", describe(d.Transaction))
		}
		fmt.Fprintf(writer, "\n")
	}
}

// truncate reports whether a console list should stop at index i
func (rg *ReportGenerator) truncate(i, total int, writer io.Writer) bool {
	if rg.config.MaxListItems == 0 || i < rg.config.MaxListItems {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-i)
	return true
}

func heading(reason string) string {
	if reason == "" {
		return "Unspecified"
	}
	return strings.ToUpper(reason[:1]) + reason[1:]
}

func describe(tx *models.StatementTransaction) string {
	if tx == nil {
		return "<unknown transaction>"
	}
	return fmt.Sprintf("%s %s %s", tx.Date.Format("2006-01-02"), tx.Description, tx.Amount.StringFixed(2))
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// batchRow is the per-statement view of a batch result
type batchRow struct {
	Document      string  `json:"document" yaml:"document"`
	BankAccountID string  `json:"bankAccountId" yaml:"bankAccountId"`
	Period        string  `json:"period" yaml:"period"`
	Status        string  `json:"status" yaml:"status"`
	ReportID      string  `json:"reportId,omitempty" yaml:"reportId,omitempty"`
	Total         int     `json:"totalTransactions" yaml:"totalTransactions"`
	Matched       int     `json:"matchedCount" yaml:"matchedCount"`
	Unmatched     int     `json:"unmatchedCount" yaml:"unmatchedCount"`
	NewlyClaimed  int     `json:"newlyClaimedCount" yaml:"newlyClaimedCount"`
	DurationMS    float64 `json:"durationMs" yaml:"durationMs"`
	Error         string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func batchRows(result *reconciler.BatchResult) []batchRow {
	rows := make([]batchRow, 0, len(result.Items))
	for _, item := range result.Items {
		row := batchRow{
			Document:      item.Item.Document.Name,
			BankAccountID: item.Item.BankAccountID,
			Period:        item.Item.Period.String(),
			Status:        "ok",
			DurationMS:    float64(item.Duration.Microseconds()) / 1000,
		}
		if item.Failed() {
			row.Status = "failed"
			row.Error = item.Err.Error()
		}
		if r := item.Report; r != nil {
			row.ReportID = r.ID
			row.Total = r.TotalTransactions
			row.Matched = r.MatchedCount
			row.Unmatched = r.UnmatchedCount
			row.NewlyClaimed = r.NewlyClaimedCount
		}
		rows = append(rows, row)
	}
	return rows
}

// GenerateBatchReport renders the outcome of a batch run to writer
func (rg *ReportGenerator) GenerateBatchReport(result *reconciler.BatchResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("batch result cannot be nil")
	}
	rows := batchRows(result)

	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "BATCH RECONCILIATION\n")
		fmt.Fprintf(writer, "Statements: %d, Succeeded: %d, Failed: %d\n\n",
			len(result.Items), result.Succeeded(), len(result.Items)-result.Succeeded())
		for i, row := range rows {
			if row.Error != "" {
				fmt.Fprintf(writer, "  %d. %s [%s] FAILED: %s\n", i+1, row.Document, row.BankAccountID, row.Error)
				continue
			}
			fmt.Fprintf(writer, "  %d. %s [%s] %d/%d matched, %d newly claimed\n",
				i+1, row.Document, row.BankAccountID, row.Matched, row.Total, row.NewlyClaimed)
		}
		if result.Summary != nil && result.Summary.Total > 0 {
			fmt.Fprintf(writer, "\nErrors: %s\n", result.Summary.Error())
		}
		return nil

	case FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{
			"statements": rows,
			"succeeded":  result.Succeeded(),
			"failed":     len(result.Items) - result.Succeeded(),
		})

	case FormatCSV:
		csvWriter := csv.NewWriter(writer)
		csvWriter.Comma = rg.config.CSVDelimiter
		if rg.config.CSVHeaders {
			if err := csvWriter.Write([]string{"Document", "Bank_Account", "Period", "Status", "Report_ID", "Total", "Matched", "Unmatched", "Newly_Claimed", "Error"}); err != nil {
				return fmt.Errorf("failed to write CSV headers: %w", err)
			}
		}
		for _, row := range rows {
			record := []string{
				row.Document, row.BankAccountID, row.Period, row.Status, row.ReportID,
				fmt.Sprint(row.Total), fmt.Sprint(row.Matched), fmt.Sprint(row.Unmatched), fmt.Sprint(row.NewlyClaimed),
				row.Error,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
		csvWriter.Flush()
		return csvWriter.Error()

	case FormatYAML:
		encoder := yaml.NewEncoder(writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(map[string]interface{}{"statements": rows}); err != nil {
			return fmt.Errorf("failed to encode YAML batch report: %w", err)
		}
		return encoder.Close()

	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
