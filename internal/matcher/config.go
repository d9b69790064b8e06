// Package matcher matches a single candidate (a wire message or a statement
// transaction) against a pool of outstanding obligations.
//
// Matching runs two tiers in strict priority order:
//  1. Reference: a candidate reference token equal to an obligation's wire
//     reference wins outright with confidence 1.0.
//  2. Fuzzy: every unclaimed obligation gets a composite score mixing name
//     similarity and amount closeness; the best score is accepted only when
//     it is strictly above the acceptance threshold.
//
// Ties are broken by the smallest absolute amount deviation, then the
// earliest due date, then the obligation ID.
//
// Example usage:
//
//	engine := matcher.NewMatchingEngine(matcher.DefaultMatchingConfig())
//	result := engine.MatchToObligation(msg, obligations)
//	if result.IsMatch() {
//		fmt.Println(result.ID(), result.Confidence)
//	}
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds the tunable parameters of the fuzzy tier.
// The reference tier has no parameters.
type MatchingConfig struct {
	// AcceptThreshold is the score a fuzzy candidate must strictly exceed
	AcceptThreshold float64 `json:"accept_threshold" mapstructure:"accept_threshold"`

	// FullScoreDeviation is the relative amount deviation still scoring 1.0
	FullScoreDeviation float64 `json:"full_score_deviation" mapstructure:"full_score_deviation"`

	// ZeroScoreDeviation is the relative amount deviation at and beyond which
	// the amount score is 0; the score decays linearly in between
	ZeroScoreDeviation float64 `json:"zero_score_deviation" mapstructure:"zero_score_deviation"`

	// MaxCandidates caps how many ranked candidates FindCandidates returns
	MaxCandidates int `json:"max_candidates" mapstructure:"max_candidates"`

	Weights MatchingWeights `json:"weights" mapstructure:"weights"`
}

// MatchingWeights defines the relative importance of text and amount
type MatchingWeights struct {
	TextWeight   float64 `json:"text_weight" mapstructure:"text_weight"`
	AmountWeight float64 `json:"amount_weight" mapstructure:"amount_weight"`
}

// DefaultMatchingConfig returns the standard 0.7 threshold with equal weights
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AcceptThreshold:    0.7,
		FullScoreDeviation: 0.01,
		ZeroScoreDeviation: 0.10,
		MaxCandidates:      5,
		Weights: MatchingWeights{
			TextWeight:   0.5,
			AmountWeight: 0.5,
		},
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AcceptThreshold:    0.85,
		FullScoreDeviation: 0.0,
		ZeroScoreDeviation: 0.02,
		MaxCandidates:      5,
		Weights: MatchingWeights{
			TextWeight:   0.5,
			AmountWeight: 0.5,
		},
	}
}

// RelaxedMatchingConfig returns a configuration for exploratory matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AcceptThreshold:    0.6,
		FullScoreDeviation: 0.02,
		ZeroScoreDeviation: 0.20,
		MaxCandidates:      10,
		Weights: MatchingWeights{
			TextWeight:   0.4,
			AmountWeight: 0.6,
		},
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.AcceptThreshold < 0.0 || mc.AcceptThreshold >= 1.0 {
		return fmt.Errorf("accept threshold must be in [0.0, 1.0): %f", mc.AcceptThreshold)
	}

	if mc.FullScoreDeviation < 0.0 {
		return fmt.Errorf("full score deviation cannot be negative: %f", mc.FullScoreDeviation)
	}

	if mc.ZeroScoreDeviation <= mc.FullScoreDeviation {
		return fmt.Errorf("zero score deviation (%f) must exceed full score deviation (%f)",
			mc.ZeroScoreDeviation, mc.FullScoreDeviation)
	}

	if mc.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive: %d", mc.MaxCandidates)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	return nil
}

// Validate checks if the matching weights are valid
func (mw *MatchingWeights) Validate() error {
	if mw.TextWeight < 0.0 || mw.TextWeight > 1.0 {
		return fmt.Errorf("text weight must be between 0.0 and 1.0: %f", mw.TextWeight)
	}

	if mw.AmountWeight < 0.0 || mw.AmountWeight > 1.0 {
		return fmt.Errorf("amount weight must be between 0.0 and 1.0: %f", mw.AmountWeight)
	}

	// the composite score must stay within [0,1]
	total := decimal.NewFromFloat(mw.TextWeight).Add(decimal.NewFromFloat(mw.AmountWeight))
	if !total.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("weights must sum to 1.0, got %s", total)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Threshold: %.2f, TextWeight: %.2f, AmountWeight: %.2f, Deviation: %.0f%%..%.0f%%}",
		mc.AcceptThreshold, mc.Weights.TextWeight, mc.Weights.AmountWeight,
		mc.FullScoreDeviation*100, mc.ZeroScoreDeviation*100)
}

// params holds the decimal form of a configuration used during scoring
type params struct {
	threshold    decimal.Decimal
	fullDev      decimal.Decimal
	zeroDev      decimal.Decimal
	textWeight   decimal.Decimal
	amountWeight decimal.Decimal
	maxResults   int
}

func (mc *MatchingConfig) params() *params {
	return &params{
		threshold:    decimal.NewFromFloat(mc.AcceptThreshold),
		fullDev:      decimal.NewFromFloat(mc.FullScoreDeviation),
		zeroDev:      decimal.NewFromFloat(mc.ZeroScoreDeviation),
		textWeight:   decimal.NewFromFloat(mc.Weights.TextWeight),
		amountWeight: decimal.NewFromFloat(mc.Weights.AmountWeight),
		maxResults:   mc.MaxCandidates,
	}
}
