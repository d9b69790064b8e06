// Package fraud scores confirmed payments against weighted risk signals.
//
// Four independent signals are evaluated against a payment, the payer's
// history and the obligation the payment settles:
//
//	velocity     several payments by the payer inside a trailing window
//	novelty      a large first payment by the payer
//	discrepancy  the paid amount deviates from the amount due
//	staleness    the payment settled long after the due date
//
// The risk score is the sum of the triggered weights clamped to 1.0.
package fraud

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the thresholds and weights of every signal
type Config struct {
	// VelocityWindow is the trailing window ending at the payment's settlement
	VelocityWindow time.Duration `json:"velocity_window" mapstructure:"velocity_window"`
	// VelocityCount is how many payments in the window trigger the signal,
	// the assessed payment included
	VelocityCount  int     `json:"velocity_count" mapstructure:"velocity_count"`
	VelocityWeight float64 `json:"velocity_weight" mapstructure:"velocity_weight"`

	// NoveltyAmount is the amount a first completed payment must exceed
	NoveltyAmount float64 `json:"novelty_amount" mapstructure:"novelty_amount"`
	NoveltyWeight float64 `json:"novelty_weight" mapstructure:"novelty_weight"`

	// DiscrepancyRatio is the relative deviation from the amount due that
	// must be exceeded
	DiscrepancyRatio  float64 `json:"discrepancy_ratio" mapstructure:"discrepancy_ratio"`
	DiscrepancyWeight float64 `json:"discrepancy_weight" mapstructure:"discrepancy_weight"`

	// OverdueDays is how many days past the due date a settlement may be
	OverdueDays     int     `json:"overdue_days" mapstructure:"overdue_days"`
	StalenessWeight float64 `json:"staleness_weight" mapstructure:"staleness_weight"`
}

// DefaultConfig returns the standard signal table
func DefaultConfig() *Config {
	return &Config{
		VelocityWindow:    24 * time.Hour,
		VelocityCount:     3,
		VelocityWeight:    0.30,
		NoveltyAmount:     100000,
		NoveltyWeight:     0.30,
		DiscrepancyRatio:  0.10,
		DiscrepancyWeight: 0.25,
		OverdueDays:       60,
		StalenessWeight:   0.25,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("velocity window must be positive, got %s", c.VelocityWindow)
	}
	if c.VelocityCount < 1 {
		return fmt.Errorf("velocity count must be at least 1, got %d", c.VelocityCount)
	}
	if c.NoveltyAmount < 0 {
		return fmt.Errorf("novelty amount cannot be negative, got %f", c.NoveltyAmount)
	}
	if c.DiscrepancyRatio < 0 {
		return fmt.Errorf("discrepancy ratio cannot be negative, got %f", c.DiscrepancyRatio)
	}
	if c.OverdueDays < 0 {
		return fmt.Errorf("overdue days cannot be negative, got %d", c.OverdueDays)
	}

	for name, w := range map[string]float64{
		"velocity":    c.VelocityWeight,
		"novelty":     c.NoveltyWeight,
		"discrepancy": c.DiscrepancyWeight,
		"staleness":   c.StalenessWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0, got %f", name, w)
		}
	}

	return nil
}

// thresholds is the decimal form of a configuration used during scoring
type thresholds struct {
	noveltyAmount    decimal.Decimal
	discrepancyRatio decimal.Decimal
	overdue          time.Duration
}

func (c *Config) thresholds() thresholds {
	return thresholds{
		noveltyAmount:    decimal.NewFromFloat(c.NoveltyAmount),
		discrepancyRatio: decimal.NewFromFloat(c.DiscrepancyRatio),
		overdue:          time.Duration(c.OverdueDays) * 24 * time.Hour,
	}
}
