// Package config loads the reconciler configuration from defaults, an
// optional config file, a .env file and RECONCILER_* environment variables,
// in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"payment-reconciliation-engine/internal/api"
	"payment-reconciliation-engine/internal/fraud"
	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/internal/parsers"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/reporter"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. RECONCILER_STORE_DRIVER
const EnvPrefix = "RECONCILER"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Audit sinks
const (
	SinkLog   = "log"
	SinkMongo = "mongo"
)

// StoreConfig selects where obligations, payments and reports live
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	DatabaseURL  string `mapstructure:"database_url"`
	FixturesPath string `mapstructure:"fixtures_path"`
}

// AuditConfig selects where audit events are published
type AuditConfig struct {
	Sink       string `mapstructure:"sink"`
	MongoURI   string `mapstructure:"mongo_uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// ExtractionConfig points at an optional text extraction service. Without an
// endpoint only plain text documents are accepted.
type ExtractionConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ReportSettings mirrors reporter.ReportConfig with a textual delimiter
type ReportSettings struct {
	Format               string `mapstructure:"format"`
	IncludeMatches       bool   `mapstructure:"include_matches"`
	IncludeDiscrepancies bool   `mapstructure:"include_discrepancies"`
	MaxListItems         int    `mapstructure:"max_list_items"`
	CSVDelimiter         string `mapstructure:"csv_delimiter"`
	CSVHeaders           bool   `mapstructure:"csv_headers"`
	SortByAmount         bool   `mapstructure:"sort_by_amount"`
}

// ReportConfig converts the settings for the reporter
func (rs ReportSettings) ReportConfig() *reporter.ReportConfig {
	delimiter, _ := utf8.DecodeRuneInString(rs.CSVDelimiter)
	if delimiter == utf8.RuneError {
		delimiter = 0
	}
	return &reporter.ReportConfig{
		Format:               reporter.OutputFormat(rs.Format),
		IncludeMatches:       rs.IncludeMatches,
		IncludeDiscrepancies: rs.IncludeDiscrepancies,
		MaxListItems:         rs.MaxListItems,
		CSVDelimiter:         delimiter,
		CSVHeaders:           rs.CSVHeaders,
		SortByAmount:         rs.SortByAmount,
	}
}

// AppConfig is the complete application configuration
type AppConfig struct {
	Logging        logger.Config           `mapstructure:"logging"`
	Matching       matcher.MatchingConfig  `mapstructure:"matching"`
	Statement      parsers.StatementConfig `mapstructure:"statement"`
	Reconciliation reconciler.Config       `mapstructure:"reconciliation"`
	Fraud          fraud.Config            `mapstructure:"fraud"`
	Report         ReportSettings          `mapstructure:"report"`
	Server         api.Config              `mapstructure:"server"`
	Store          StoreConfig             `mapstructure:"store"`
	Audit          AuditConfig             `mapstructure:"audit"`
	Extraction     ExtractionConfig        `mapstructure:"extraction"`
}

// SetDefaults registers every key with its default so that environment
// variables can override keys absent from the config file
func SetDefaults(v *viper.Viper) {
	log := logger.DefaultConfig()
	v.SetDefault("logging.level", string(log.Level))
	v.SetDefault("logging.format", string(log.Format))
	v.SetDefault("logging.output", string(log.Output))
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.disable_timestamp", false)
	v.SetDefault("logging.caller_info", false)

	m := matcher.DefaultMatchingConfig()
	v.SetDefault("matching.accept_threshold", m.AcceptThreshold)
	v.SetDefault("matching.full_score_deviation", m.FullScoreDeviation)
	v.SetDefault("matching.zero_score_deviation", m.ZeroScoreDeviation)
	v.SetDefault("matching.max_candidates", m.MaxCandidates)
	v.SetDefault("matching.weights.text_weight", m.Weights.TextWeight)
	v.SetDefault("matching.weights.amount_weight", m.Weights.AmountWeight)

	st := parsers.DefaultStatementConfig()
	v.SetDefault("statement.date_layouts", st.DateLayouts)
	v.SetDefault("statement.max_line_length", st.MaxLineLength)

	rc := reconciler.DefaultConfig()
	v.SetDefault("reconciliation.lookback_days", rc.LookbackDays)
	v.SetDefault("reconciliation.lookahead_days", rc.LookaheadDays)
	v.SetDefault("reconciliation.extraction_timeout", rc.ExtractionTimeout)
	v.SetDefault("reconciliation.claim_retries", rc.ClaimRetries)
	v.SetDefault("reconciliation.max_concurrent_statements", rc.MaxConcurrentStatements)
	v.SetDefault("reconciliation.progress_interval", rc.ProgressInterval)

	fc := fraud.DefaultConfig()
	v.SetDefault("fraud.velocity_window", fc.VelocityWindow)
	v.SetDefault("fraud.velocity_count", fc.VelocityCount)
	v.SetDefault("fraud.velocity_weight", fc.VelocityWeight)
	v.SetDefault("fraud.novelty_amount", fc.NoveltyAmount)
	v.SetDefault("fraud.novelty_weight", fc.NoveltyWeight)
	v.SetDefault("fraud.discrepancy_ratio", fc.DiscrepancyRatio)
	v.SetDefault("fraud.discrepancy_weight", fc.DiscrepancyWeight)
	v.SetDefault("fraud.overdue_days", fc.OverdueDays)
	v.SetDefault("fraud.staleness_weight", fc.StalenessWeight)

	rep := reporter.DefaultReportConfig()
	v.SetDefault("report.format", string(rep.Format))
	v.SetDefault("report.include_matches", rep.IncludeMatches)
	v.SetDefault("report.include_discrepancies", rep.IncludeDiscrepancies)
	v.SetDefault("report.max_list_items", rep.MaxListItems)
	v.SetDefault("report.csv_delimiter", string(rep.CSVDelimiter))
	v.SetDefault("report.csv_headers", rep.CSVHeaders)
	v.SetDefault("report.sort_by_amount", rep.SortByAmount)

	srv := api.DefaultConfig()
	v.SetDefault("server.addr", srv.Addr)
	v.SetDefault("server.allowed_origins", srv.AllowedOrigins)
	v.SetDefault("server.max_body_bytes", srv.MaxBodyBytes)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.fixtures_path", "")

	v.SetDefault("audit.sink", SinkLog)
	v.SetDefault("audit.mongo_uri", "")
	v.SetDefault("audit.database", "reconciliation")
	v.SetDefault("audit.collection", "audit_events")

	v.SetDefault("extraction.endpoint", "")
	v.SetDefault("extraction.timeout", rc.ExtractionTimeout)
}

// Load reads the configuration into an AppConfig. A config file must already
// be set on v when one is wanted; envFiles are loaded with godotenv and a
// missing file is not an error.
func Load(v *viper.Viper, envFiles ...string) (*AppConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "env_file", f, err)
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config_file", v.ConfigFileUsed(), err).
				WithSuggestion("Check the config file path and syntax")
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the current state of v
func Decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", nil, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section
func (c *AppConfig) Validate() error {
	checks := []struct {
		section string
		check   func() error
	}{
		{"logging", c.Logging.Validate},
		{"matching", c.Matching.Validate},
		{"statement", c.Statement.Validate},
		{"reconciliation", c.Reconciliation.Validate},
		{"fraud", c.Fraud.Validate},
		{"report", c.Report.ReportConfig().Validate},
		{"store", c.Store.Validate},
		{"audit", c.Audit.Validate},
	}

	for _, ch := range checks {
		if err := ch.check(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, ch.section, nil, err).
				WithSuggestion(fmt.Sprintf("Review the %s section of the configuration", ch.section))
		}
	}
	return nil
}

// Validate validates the store selection
func (s StoreConfig) Validate() error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if strings.TrimSpace(s.DatabaseURL) == "" {
			return fmt.Errorf("database_url is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", s.Driver)
	}
}

// Validate validates the audit sink selection
func (a AuditConfig) Validate() error {
	switch a.Sink {
	case SinkLog:
		return nil
	case SinkMongo:
		if strings.TrimSpace(a.MongoURI) == "" {
			return fmt.Errorf("mongo_uri is required for the mongo sink")
		}
		if a.Database == "" || a.Collection == "" {
			return fmt.Errorf("database and collection are required for the mongo sink")
		}
		return nil
	default:
		return fmt.Errorf("unknown audit sink %q", a.Sink)
	}
}
