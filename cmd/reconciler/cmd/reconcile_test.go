package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

const fixturesJSON = `{
  "obligations": [
    {"id": "ob-ref", "bankAccountId": "acct-1", "wireReference": "ABC123", "fundName": "ALPHA GROWTH FUND", "amountDue": "250000", "dueDate": "2024-01-15T00:00:00Z"},
    {"id": "ob-beta", "bankAccountId": "acct-1", "fundName": "BETA INCOME FUND", "amountDue": "1000", "dueDate": "2024-01-20T00:00:00Z"}
  ],
  "payments": [
    {"id": "pay-1", "payerId": "payer-1", "obligationId": "ob-ref", "amount": "250000", "status": "COMPLETED", "settledAt": "2024-01-16T00:00:00Z"}
  ]
}`

const januaryStatement = `ACME BANK STATEMENT
01/05/2024 WIRE ABC123 ALPHA 250000.00 CR
01/10/2024 BETA INCOME FUND 1000.00
01/12/2024 UNKNOWN VENDOR 77.77
`

const wireMessage = `{1:F01BANKBEBBAXXX0000000000}{2:I103BANKDEFFXXXXN}{4:
:20:ABC123
:32A:240115EUR250000,00
:50K:/12345678
JOHN DOE
:59:/DE89370400440532013000
ALPHA GROWTH FUND
-}`

// resetFlags restores every flag to its default so commands can run repeatedly
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func testLogger() logger.Logger {
	log, _ := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: logger.TextFormat, Writer: io.Discard})
	return log
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func decodeJSON(t *testing.T, out string) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
	return decoded
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := writeTestFile(t, tmpDir, "jan.txt", januaryStatement)

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{"valid file", validFile, false},
		{"empty path", "", true},
		{"non-existent file", "/non/existent/jan.txt", true},
		{"directory instead of file", tmpDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "statement file")
			if tt.expectError && !errors.HasCategory(err, errors.CategoryValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestReconcileCommand_SingleStatement(t *testing.T) {
	dir := t.TempDir()
	fixtures := writeTestFile(t, dir, "fixtures.json", fixturesJSON)
	statement := writeTestFile(t, dir, "jan.txt", januaryStatement)

	out, err := execute(t, "", "reconcile",
		"--statement", statement, "--account", "acct-1",
		"--start", "2024-01-01", "--end", "2024-01-31",
		"--fixtures", fixtures, "--output-format", "json")
	if err != nil {
		t.Fatalf("reconcile error = %v", err)
	}

	report := decodeJSON(t, out)
	if report["totalTransactions"] != float64(3) || report["matchedCount"] != float64(2) || report["unmatchedCount"] != float64(1) {
		t.Errorf("report counts = %v/%v/%v, want 3/2/1", report["totalTransactions"], report["matchedCount"], report["unmatchedCount"])
	}
	if report["droppedLines"] != float64(1) {
		t.Errorf("droppedLines = %v, want 1", report["droppedLines"])
	}
}

func TestReconcileCommand_OutputFile(t *testing.T) {
	dir := t.TempDir()
	fixtures := writeTestFile(t, dir, "fixtures.json", fixturesJSON)
	statement := writeTestFile(t, dir, "jan.txt", januaryStatement)
	outputPath := filepath.Join(dir, "report.csv")

	if _, err := execute(t, "", "reconcile",
		"-s", statement, "-a", "acct-1", "--start", "2024-01-01", "--end", "2024-01-31",
		"--fixtures", fixtures, "-f", "csv", "-o", outputPath); err != nil {
		t.Fatalf("reconcile error = %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "Status,Date,Description") {
		t.Errorf("csv output = %q", string(data))
	}
}

func TestReconcileCommand_Batch(t *testing.T) {
	dir := t.TempDir()
	fixtures := writeTestFile(t, dir, "fixtures.json", fixturesJSON)
	jan := writeTestFile(t, dir, "jan.txt", januaryStatement)
	dup := writeTestFile(t, dir, "jan-copy.txt", "01/05/2024 WIRE ABC123 ALPHA 250000.00 CR\n")

	out, err := execute(t, "", "reconcile",
		"-s", jan, "-s", dup, "--account", "acct-1",
		"--start", "2024-01-01", "--end", "2024-01-31",
		"--fixtures", fixtures, "--output-format", "json")
	if err != nil {
		t.Fatalf("reconcile error = %v", err)
	}

	result := decodeJSON(t, out)
	if result["succeeded"] != float64(2) || result["failed"] != float64(0) {
		t.Errorf("batch = %v", result)
	}
	if got := len(result["statements"].([]interface{})); got != 2 {
		t.Errorf("statements = %d, want 2", got)
	}
}

func TestReconcileCommand_Validation(t *testing.T) {
	dir := t.TempDir()
	statement := writeTestFile(t, dir, "jan.txt", januaryStatement)

	tests := []struct {
		name string
		args []string
	}{
		{"period reversed", []string{"-s", statement, "-a", "acct-1", "--start", "2024-02-01", "--end", "2024-01-01"}},
		{"bad date", []string{"-s", statement, "-a", "acct-1", "--start", "01/01/2024", "--end", "2024-01-31"}},
		{"unknown format", []string{"-s", statement, "-a", "acct-1", "--start", "2024-01-01", "--end", "2024-01-31", "-f", "xml"}},
		{"missing statement", []string{"-s", filepath.Join(dir, "absent.txt"), "-a", "acct-1", "--start", "2024-01-01", "--end", "2024-01-31"}},
		{"missing output dir", []string{"-s", statement, "-a", "acct-1", "--start", "2024-01-01", "--end", "2024-01-31", "-o", filepath.Join(dir, "nope", "out.json")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", append([]string{"reconcile"}, tt.args...)...)
			if !errors.HasCategory(err, errors.CategoryValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}

	if _, err := execute(t, "", "reconcile", "-s", statement); err == nil || !strings.Contains(err.Error(), "required flag") {
		t.Errorf("error = %v, want missing required flags", err)
	}
}

func TestParseMessageCommand(t *testing.T) {
	out, err := execute(t, wireMessage, "parse-message")
	if err != nil {
		t.Fatalf("parse-message error = %v", err)
	}
	msg := decodeJSON(t, out)
	if msg["senderReference"] != "ABC123" || msg["amount"] != "250000" {
		t.Errorf("message = %v", msg)
	}

	out, err = execute(t, wireMessage, "parse-message", "--print", "yaml")
	if err != nil {
		t.Fatalf("parse-message yaml error = %v", err)
	}
	if !strings.Contains(out, "senderreference: ABC123") {
		t.Errorf("yaml output = %q", out)
	}

	if _, err := execute(t, ":32A:240115EUR1,00\n", "parse-message"); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("error = %v, want missing field", err)
	}
}

func TestParseStatementCommand(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "jan.txt", januaryStatement)

	out, err := execute(t, "", "parse-statement", "--file", path)
	if err != nil {
		t.Fatalf("parse-statement error = %v", err)
	}
	parsed := decodeJSON(t, out)
	if got := len(parsed["transactions"].([]interface{})); got != 3 {
		t.Errorf("transactions = %d, want 3", got)
	}
	stats := parsed["stats"].(map[string]interface{})
	if stats["droppedLines"] != float64(1) {
		t.Errorf("droppedLines = %v, want 1", stats["droppedLines"])
	}
}

func TestMatchMessageCommand(t *testing.T) {
	fixtures := writeTestFile(t, t.TempDir(), "fixtures.json", fixturesJSON)

	out, err := execute(t, wireMessage, "match-message", "--account", "acct-1", "--fixtures", fixtures)
	if err != nil {
		t.Fatalf("match-message error = %v", err)
	}
	outcome := decodeJSON(t, out)
	if outcome["claimed"] != true {
		t.Errorf("outcome = %v", outcome)
	}

	if _, err := execute(t, wireMessage, "match-message"); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("error = %v, want missing account", err)
	}
}

func TestAssessCommand(t *testing.T) {
	fixtures := writeTestFile(t, t.TempDir(), "fixtures.json", fixturesJSON)

	out, err := execute(t, "", "assess", "pay-1", "--fixtures", fixtures)
	if err != nil {
		t.Fatalf("assess error = %v", err)
	}
	assessment := decodeJSON(t, out)
	if assessment["riskScore"] != 0.3 {
		t.Errorf("riskScore = %v, want 0.3", assessment["riskScore"])
	}

	if _, err := execute(t, "", "assess", "missing", "--fixtures", fixtures); !errors.HasCategory(err, errors.CategoryNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestMigrateCommand_RequiresPostgres(t *testing.T) {
	if _, err := execute(t, "", "migrate"); !errors.HasCategory(err, errors.CategoryConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc", "2024-02-01")
	defer SetVersionInfo("dev", "unknown", "unknown")

	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "reconciler 1.2.3 (commit abc") {
		t.Errorf("version output = %q", out)
	}
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestFile(t, dir, "reconciler.yaml", "report:\n  format: yaml\n")
	fixtures := writeTestFile(t, dir, "fixtures.json", fixturesJSON)
	statement := writeTestFile(t, dir, "jan.txt", januaryStatement)

	out, err := execute(t, "", "--config", cfgPath, "reconcile",
		"-s", statement, "-a", "acct-1", "--start", "2024-01-01", "--end", "2024-01-31", "--fixtures", fixtures)
	if err != nil {
		t.Fatalf("reconcile error = %v", err)
	}
	if !strings.Contains(out, "summary:") || !strings.Contains(out, "transactions:") {
		t.Errorf("expected yaml report, got %q", out)
	}

	bad := writeTestFile(t, dir, "bad.yaml", "matching:\n  accept_threshold: 2\n")
	if _, err := execute(t, "", "--config", bad, "version"); !errors.HasCategory(err, errors.CategoryConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestWatchMatchingConfig(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "reconciler.yaml", "matching:\n  accept_threshold: 0.7\n")

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := config.Load(v); err != nil {
		t.Fatalf("load error = %v", err)
	}

	engine := matcher.NewMatchingEngine(nil)
	watchMatchingConfig(v, engine, testLogger())

	// give the watcher time to start before rewriting the file
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("matching:\n  accept_threshold: 0.85\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if engine.GetConfiguration().AcceptThreshold == 0.85 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("AcceptThreshold = %v after reload, want 0.85", engine.GetConfiguration().AcceptThreshold)
}

func TestCLIErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{"nil", nil, 0, ""},
		{"parse", errors.ParseError(errors.CodeMissingField, "20", "", nil), 3, "Parse error help"},
		{"configuration", errors.ConfigurationError(errors.CodeInvalidConfig, "store", nil, nil).WithSuggestion("Set the driver"), 4, "Suggestion: Set the driver"},
		{"not found", errors.NotFoundError("payment", "p-9").WithContext("payment_id", "p-9"), 7, "payment_id: p-9"},
		{"store", errors.StoreError("claim", os.ErrDeadlineExceeded), 6, "Connectivity help"},
		{"missing file", os.ErrNotExist, 2, "File not found"},
		{"flag", errorString("unknown flag: --bogus"), 1, "reconciler --help"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := &CLIErrorHandler{logger: testLogger(), out: &out}

			if code := h.HandleError(tt.err); code != tt.wantCode {
				t.Errorf("HandleError() = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(out.String(), tt.wantText) {
				t.Errorf("output %q does not contain %q", out.String(), tt.wantText)
			}
		})
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func TestSampleData(t *testing.T) {
	dir := filepath.Join("..", "..", "..", "testdata")
	cfgPath := filepath.Join(dir, "reconciler.yaml")
	fixtures := filepath.Join(dir, "fixtures.json")

	out, err := execute(t, "", "--config", cfgPath, "reconcile",
		"-s", filepath.Join(dir, "statement_2024_01.txt"), "-a", "acct-1",
		"--start", "2024-01-01", "--end", "2024-01-31", "--fixtures", fixtures)
	if err != nil {
		t.Fatalf("reconcile error = %v", err)
	}
	report := decodeJSON(t, out)
	if report["matchedCount"] != float64(3) || report["newlyClaimedCount"] != float64(3) {
		t.Errorf("matched/newly claimed = %v/%v, want 3/3", report["matchedCount"], report["newlyClaimedCount"])
	}
	if report["droppedLines"] != float64(4) {
		t.Errorf("droppedLines = %v, want 4", report["droppedLines"])
	}

	out, err = execute(t, "", "match-message", "-a", "acct-1",
		"--file", filepath.Join(dir, "mt103.txt"), "--fixtures", fixtures)
	if err != nil {
		t.Fatalf("match-message error = %v", err)
	}
	outcome := decodeJSON(t, out)
	message := outcome["message"].(map[string]interface{})
	if message["senderReference"] != "CALL2024Q1" || message["remittanceInfo"] != "CAPITAL CALL Q1 2024" {
		t.Errorf("message = %v", message)
	}
	if outcome["claimed"] != true {
		t.Errorf("claimed = %v, want true", outcome["claimed"])
	}
}
