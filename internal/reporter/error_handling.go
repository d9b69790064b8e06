package reporter

import (
	"fmt"
	"io"
	"os"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and a console fallback
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a report, falling back to console output
// when the requested format fails
func (srg *SafeReportGenerator) GenerateReportSafely(report *models.ReconciliationReport, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if err := srg.validateInputs(report, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(report, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	return nil
}

func (srg *SafeReportGenerator) validateInputs(report *models.ReconciliationReport, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(
			errors.CodeInvalidValue,
			"report",
			nil,
			nil,
		).WithSuggestion("Provide a valid reconciliation report")
	}

	if writer == nil {
		return errors.ValidationError(
			errors.CodeInvalidValue,
			"writer",
			nil,
			nil,
		).WithSuggestion("Provide a valid output writer")
	}

	if report.TotalTransactions != report.MatchedCount+report.UnmatchedCount {
		return errors.ValidationError(
			errors.CodeInvalidValue,
			"totalTransactions",
			report.TotalTransactions,
			fmt.Errorf("matched %d + unmatched %d != total", report.MatchedCount, report.UnmatchedCount),
		)
	}

	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(report *models.ReconciliationReport, writer io.Writer) error {
	err := srg.GenerateReport(report, writer)
	if err == nil {
		return nil
	}

	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}

	srg.logger.WithError(err).WithField("fallback_format", FormatConsole).Warn("Primary report generation failed, attempting fallback")

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallbackGenerator, cfgErr := NewReportGenerator(&fallbackConfig)
	if cfgErr != nil {
		return srg.wrapGenerationError(err)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", err)

	if fbErr := fallbackGenerator.GenerateReport(report, writer); fbErr != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, fbErr),
		)
	}

	return nil
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return errors.InternalError(
		errors.CodeProcessingError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
