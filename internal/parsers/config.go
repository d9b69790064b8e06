package parsers

import (
	"fmt"
	"strings"
	"time"
)

// StatementConfig holds configuration for statement text parsing
type StatementConfig struct {
	// DateLayouts are tried in order against the leading date token
	DateLayouts   []string `json:"date_layouts" mapstructure:"date_layouts"`
	MaxLineLength int      `json:"max_line_length" mapstructure:"max_line_length"`
}

// DefaultStatementConfig returns the M/D/YYYY configuration
func DefaultStatementConfig() *StatementConfig {
	return &StatementConfig{
		DateLayouts:   []string{"1/2/2006"},
		MaxLineLength: 1024 * 1024,
	}
}

// Validate checks if the statement configuration is valid
func (sc *StatementConfig) Validate() error {
	if len(sc.DateLayouts) == 0 {
		return fmt.Errorf("at least one date layout is required")
	}

	probe := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	for _, layout := range sc.DateLayouts {
		if strings.TrimSpace(layout) == "" {
			return fmt.Errorf("date layout cannot be empty")
		}
		if _, err := time.Parse(layout, probe.Format(layout)); err != nil {
			return fmt.Errorf("date layout %q does not round-trip: %w", layout, err)
		}
	}

	if sc.MaxLineLength <= 0 {
		return fmt.Errorf("max line length must be positive, got %d", sc.MaxLineLength)
	}

	return nil
}
