package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/internal/parsers"
	"payment-reconciliation-engine/pkg/errors"
)

// Flags shared by the inspection commands
var (
	inputFile   string
	printFormat string
)

var parseMessageCmd = &cobra.Command{
	Use:   "parse-message",
	Short: "Parse a wire transfer notification",
	Long: `Parse a tag-delimited wire transfer notification read from --file or
standard input and print the extracted fields.

Example:
  reconciler parse-message --file mt103.txt --print yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd)
		if err != nil {
			return err
		}
		msg, err := parsers.ParseMessage(raw)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), msg)
	},
}

var parseStatementCmd = &cobra.Command{
	Use:   "parse-statement",
	Short: "Parse extracted statement text into transactions",
	Long: `Parse statement text read from --file or standard input. Lines that do
not hold a transaction are dropped and listed with the reason.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(cmd)
		if err != nil {
			return err
		}

		parser, err := parsers.NewStatementParser(&appConfig.Statement)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "statement", nil, err)
		}
		transactions, stats := parser.Parse(text)

		return printValue(cmd.OutOrStdout(), map[string]interface{}{
			"transactions": transactions,
			"stats":        stats,
		})
	},
}

var matchMessageCmd = &cobra.Command{
	Use:   "match-message",
	Short: "Reconcile a wire message against an account's obligations",
	Long: `Parse a wire message and claim the obligation it settles. Processing the
same message again reports the earlier claim instead of claiming twice.

Example:
  reconciler match-message --account acct-1 --file mt103.txt --fixtures obligations.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bankAccountID == "" {
			return errors.ValidationError(errors.CodeMissingField, "account", "", nil)
		}
		raw, err := readInput(cmd)
		if err != nil {
			return err
		}

		ctx := commandContext(cmd)
		rt, err := newRuntime(ctx, configWithFixtures())
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		outcome, err := rt.coordinator.ReconcileMessage(ctx, raw, bankAccountID)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), outcome)
	},
}

var assessCmd = &cobra.Command{
	Use:   "assess PAYMENT_ID",
	Short: "Score a confirmed payment for fraud risk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		rt, err := newRuntime(ctx, configWithFixtures())
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		assessment, err := rt.scorer.Assess(ctx, args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), assessment)
	},
}

func init() {
	for _, c := range []*cobra.Command{parseMessageCmd, parseStatementCmd, matchMessageCmd} {
		c.Flags().StringVar(&inputFile, "file", "", "input file (default: stdin)")
	}
	for _, c := range []*cobra.Command{parseMessageCmd, parseStatementCmd, matchMessageCmd, assessCmd} {
		c.Flags().StringVar(&printFormat, "print", "json", "print format: json, yaml")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{matchMessageCmd, assessCmd} {
		c.Flags().StringVar(&fixturesFile, "fixtures", "", "JSON obligations/payments fixtures for the in-memory store")
	}
	matchMessageCmd.Flags().StringVarP(&bankAccountID, "account", "a", "", "bank account to reconcile against (required)")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// configWithFixtures applies the --fixtures flag to a copy of the config
func configWithFixtures() *config.AppConfig {
	cfg := *appConfig
	if fixturesFile != "" {
		cfg.Store.FixturesPath = fixturesFile
	}
	return &cfg
}

func readInput(cmd *cobra.Command) (string, error) {
	var (
		data []byte
		err  error
	)
	if inputFile != "" {
		data, err = os.ReadFile(inputFile)
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", errors.ValidationError(errors.CodeInvalidValue, "input", inputFile, err).
			WithSuggestion("Pass --file or pipe the input on stdin")
	}
	return string(data), nil
}

func printValue(w io.Writer, v interface{}) error {
	switch printFormat {
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "print_yaml", err)
		}
		return encoder.Close()
	case "json", "":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	default:
		return errors.ValidationError(errors.CodeInvalidValue, "print", printFormat, nil).
			WithSuggestion("Valid print formats: json, yaml")
	}
}
