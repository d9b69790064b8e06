// Package reconciler reconciles extracted bank statements and wire messages
// against outstanding obligations.
//
// For every statement transaction the Coordinator asks the matching engine
// for the best unclaimed obligation of the account, claims it through the
// store's compare-and-set and records the outcome in a ReconciliationReport.
// Claims are keyed by account, raw line and occurrence, so re-running a
// statement reports the same totals without claiming anything new.
//
// Example usage:
//
//	coordinator, err := reconciler.NewCoordinator(reconciler.Dependencies{
//		Obligations: st,
//		Reports:     st,
//		Extractor:   extract.PlainTextExtractor{},
//	}, reconciler.DefaultConfig())
//	report, err := coordinator.ReconcileStatement(ctx, doc, "acct-1", period)
package reconciler

import (
	"fmt"
	"time"
)

// Config holds configuration options for reconciliation runs
type Config struct {
	// LookbackDays widens the obligation window before the period start
	LookbackDays int `json:"lookback_days" mapstructure:"lookback_days"`

	// LookaheadDays widens the obligation window after the period end
	LookaheadDays int `json:"lookahead_days" mapstructure:"lookahead_days"`

	// ExtractionTimeout bounds each call to the text extraction service
	ExtractionTimeout time.Duration `json:"extraction_timeout" mapstructure:"extraction_timeout"`

	// ClaimRetries is how often a lost claim is retried against a reloaded pool
	ClaimRetries int `json:"claim_retries" mapstructure:"claim_retries"`

	// MaxConcurrentStatements bounds the batch runner's worker pool
	MaxConcurrentStatements int `json:"max_concurrent_statements" mapstructure:"max_concurrent_statements"`

	// ProgressInterval is how often the batch runner logs progress
	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`
}

// DefaultConfig returns a default configuration for reconciliation
func DefaultConfig() *Config {
	return &Config{
		LookbackDays:            90,
		LookaheadDays:           30,
		ExtractionTimeout:       30 * time.Second,
		ClaimRetries:            1,
		MaxConcurrentStatements: 4,
		ProgressInterval:        5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.LookbackDays < 0 {
		return fmt.Errorf("lookback days cannot be negative, got %d", c.LookbackDays)
	}

	if c.LookaheadDays < 0 {
		return fmt.Errorf("lookahead days cannot be negative, got %d", c.LookaheadDays)
	}

	if c.ExtractionTimeout <= 0 {
		return fmt.Errorf("extraction timeout must be positive, got %s", c.ExtractionTimeout)
	}

	if c.ClaimRetries < 0 {
		return fmt.Errorf("claim retries cannot be negative, got %d", c.ClaimRetries)
	}

	if c.MaxConcurrentStatements <= 0 {
		return fmt.Errorf("max concurrent statements must be positive, got %d", c.MaxConcurrentStatements)
	}

	return nil
}
