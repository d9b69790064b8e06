package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/extract"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/reporter"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Flags for the reconcile command
var (
	statementFiles []string
	bankAccountID  string
	startDate      string
	endDate        string
	outputFormat   string
	outputFile     string
	fixturesFile   string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile bank statements against outstanding obligations",
	Long: `Reconcile extracts each statement, matches every transaction against the
account's obligations and claims matched obligations exactly once.

A single statement prints its reconciliation report. Several statements are
reconciled concurrently and print a batch summary; a failing statement never
stops the others. Re-running a statement reports the same totals without
claiming anything new.

Examples:
  # Reconcile one statement against fixture obligations
  reconciler reconcile --statement jan.txt --account acct-1 \
    --start 2024-01-01 --end 2024-01-31 --fixtures obligations.json

  # Several statements, JSON batch summary written to a file
  reconciler reconcile -s jan.txt -s feb.txt --account acct-1 \
    --start 2024-01-01 --end 2024-02-29 --output-format json --output-file batch.json`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringSliceVarP(&statementFiles, "statement", "s", []string{}, "statement file to reconcile (repeatable, required)")
	reconcileCmd.Flags().StringVarP(&bankAccountID, "account", "a", "", "bank account the statements belong to (required)")
	reconcileCmd.Flags().StringVar(&startDate, "start", "", "period start date (YYYY-MM-DD, required)")
	reconcileCmd.Flags().StringVar(&endDate, "end", "", "period end date (YYYY-MM-DD, required)")

	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "", "output format: console, json, csv, yaml (default from config)")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().StringVar(&fixturesFile, "fixtures", "", "JSON obligations/payments fixtures for the in-memory store")

	reconcileCmd.MarkFlagRequired("statement")
	reconcileCmd.MarkFlagRequired("account")
	reconcileCmd.MarkFlagRequired("start")
	reconcileCmd.MarkFlagRequired("end")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if len(statementFiles) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "statement", "", nil).
			WithSuggestion("Pass at least one --statement file")
	}
	if bankAccountID == "" {
		return errors.ValidationError(errors.CodeMissingField, "account", "", nil)
	}

	for i, f := range statementFiles {
		if err := validateFileExists(f, fmt.Sprintf("statement file %d", i+1)); err != nil {
			return err
		}
	}
	if fixturesFile != "" {
		if err := validateFileExists(fixturesFile, "fixtures file"); err != nil {
			return err
		}
	}

	if _, err := models.NewPeriod(startDate, endDate); err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, "period", startDate+".."+endDate, err).
			WithSuggestion("Use YYYY-MM-DD dates with start on or before end")
	}

	if outputFormat != "" && !reporter.OutputFormat(outputFormat).IsValid() {
		return errors.ValidationError(errors.CodeInvalidValue, "output-format", outputFormat, nil).
			WithSuggestion("Valid formats: console, json, csv, yaml")
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.ValidationError(errors.CodeInvalidValue, "output-file", outputFile,
					fmt.Errorf("output directory does not exist: %s", dir))
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", nil)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, description, filePath, err).
			WithSuggestion("Check if the file path is correct and the file exists")
	}
	if info.IsDir() {
		return errors.ValidationError(errors.CodeInvalidValue, description, filePath,
			fmt.Errorf("%s is a directory, expected a file", filePath))
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	log := logger.GetGlobalLogger().WithComponent("cli")

	cfg := configWithFixtures()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	period, _ := models.NewPeriod(startDate, endDate)

	reportConfig := cfg.Report.ReportConfig()
	if outputFormat != "" {
		reportConfig.Format = reporter.OutputFormat(outputFormat)
	}

	output, closeOutput, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer closeOutput()

	log.WithFields(logger.Fields{
		"statements":   len(statementFiles),
		"bank_account": bankAccountID,
		"period":       period.String(),
		"format":       reportConfig.Format,
	}).Info("Starting reconciliation")

	if len(statementFiles) == 1 {
		return reconcileOne(ctx, rt.coordinator, period, reportConfig, output)
	}
	return reconcileBatch(ctx, rt.coordinator, period, reportConfig, output)
}

func reconcileOne(ctx context.Context, coordinator *reconciler.Coordinator, period models.Period, reportConfig *reporter.ReportConfig, output io.Writer) error {
	doc, err := extract.LoadDocument(statementFiles[0])
	if err != nil {
		return err
	}

	report, err := coordinator.ReconcileStatement(ctx, doc, bankAccountID, period)
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, nil)
	if err != nil {
		return err
	}
	return generator.GenerateReportSafely(report, output)
}

func reconcileBatch(ctx context.Context, coordinator *reconciler.Coordinator, period models.Period, reportConfig *reporter.ReportConfig, output io.Writer) error {
	items := make([]reconciler.BatchItem, 0, len(statementFiles))
	for _, f := range statementFiles {
		doc, err := extract.LoadDocument(f)
		if err != nil {
			return err
		}
		items = append(items, reconciler.BatchItem{Document: doc, BankAccountID: bankAccountID, Period: period})
	}

	result := reconciler.NewBatchRunner(coordinator).Run(ctx, items)

	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "report", reportConfig.Format, err)
	}
	if err := generator.GenerateBatchReport(result, output); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "batch_report", err)
	}

	if result.Succeeded() == 0 && len(result.Items) > 0 {
		return errors.New(errors.CategoryReconciliation, errors.CodeProcessingError, "every statement in the batch failed").
			WithContext("errors", result.Summary.Error())
	}
	return nil
}

// openOutput returns the command output or the --output-file
func openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	if outputFile == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, errors.ValidationError(errors.CodeInvalidValue, "output-file", outputFile, err)
	}
	return f, func() { f.Close() }, nil
}
