package matcher

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/logger"
)

// MatchingEngine matches candidates against obligation pools. It keeps no
// state between calls apart from its configuration, which may be swapped
// while matches are running.
type MatchingEngine struct {
	config atomic.Pointer[MatchingConfig]
	logger logger.Logger
}

// CandidateScore is the fuzzy score of one obligation for a candidate
type CandidateScore struct {
	Obligation  *models.Obligation
	Similarity  decimal.Decimal
	AmountScore decimal.Decimal
	Score       decimal.Decimal
	Deviation   decimal.Decimal
	Accepted    bool
}

// String returns a one-line summary of the score
func (cs *CandidateScore) String() string {
	return fmt.Sprintf("%s score=%s (similarity=%s amount=%s deviation=%s accepted=%t)",
		cs.Obligation.ID, cs.Score.StringFixed(4), cs.Similarity.StringFixed(4),
		cs.AmountScore.StringFixed(4), cs.Deviation.StringFixed(2), cs.Accepted)
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	me := &MatchingEngine{
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}
	me.config.Store(config.Clone())
	return me
}

// MatchToObligation returns the best obligation for the candidate.
// Reference matches take priority over fuzzy matches and ignore amounts.
// Reconciled obligations are never matched. An unmatched candidate yields
// MatchedBy none with confidence 0; it is not an error.
func (me *MatchingEngine) MatchToObligation(c models.Candidate, pool []*models.Obligation) *models.MatchResult {
	if c == nil || len(pool) == 0 {
		return models.NoMatch()
	}

	if ob := me.matchReference(c, pool); ob != nil {
		return models.ReferenceMatch(ob.ID)
	}

	scores := me.scoreAll(c, pool)
	if len(scores) == 0 || !scores[0].Accepted {
		return models.NoMatch()
	}

	best := scores[0]
	return models.FuzzyMatch(best.Obligation.ID, best.Score.InexactFloat64())
}

// FindCandidates returns the fuzzy scores of the pool for the candidate,
// best first, capped at MaxCandidates. It ignores the reference tier.
func (me *MatchingEngine) FindCandidates(c models.Candidate, pool []*models.Obligation) []*CandidateScore {
	scores := me.scoreAll(c, pool)
	if limit := me.GetConfiguration().MaxCandidates; len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

// ReferencedObligation returns the first obligation in pool, claimed or not,
// whose wire reference equals one of the candidate's reference tokens
func ReferencedObligation(c models.Candidate, pool []*models.Obligation) *models.Obligation {
	for _, token := range c.ReferenceTokens() {
		for _, ob := range pool {
			if ob.HasReference(token) {
				return ob
			}
		}
	}
	return nil
}

// matchReference returns the unclaimed obligation whose wire reference equals
// the first matching reference token, ties broken deterministically
func (me *MatchingEngine) matchReference(c models.Candidate, pool []*models.Obligation) *models.Obligation {
	amount := c.MatchAmount()

	for _, token := range c.ReferenceTokens() {
		var best *models.Obligation
		for _, ob := range pool {
			if ob.Reconciled || !ob.HasReference(token) {
				continue
			}
			if best == nil || preferred(ob, best, amount) {
				best = ob
			}
		}
		if best != nil {
			me.logger.WithFields(logger.Fields{
				"reference":     token,
				"obligation_id": best.ID,
			}).Debug("Reference match")
			return best
		}
	}
	return nil
}

// scoreAll scores every unclaimed obligation and sorts best first
func (me *MatchingEngine) scoreAll(c models.Candidate, pool []*models.Obligation) []*CandidateScore {
	if c == nil {
		return nil
	}
	p := me.GetConfiguration().params()

	text := c.MatchText()
	amount := c.MatchAmount()

	scores := make([]*CandidateScore, 0, len(pool))
	for _, ob := range pool {
		if ob.Reconciled {
			continue
		}
		scores = append(scores, score(p, text, amount, ob))
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if cmp := scores[i].Score.Cmp(scores[j].Score); cmp != 0 {
			return cmp > 0
		}
		return preferred(scores[i].Obligation, scores[j].Obligation, amount)
	})
	return scores
}

func score(p *params, text string, amount decimal.Decimal, ob *models.Obligation) *CandidateScore {
	sim := similarity(text, ob.FundName)
	amt := amountScore(p, amount, ob)
	composite := p.textWeight.Mul(sim).Add(p.amountWeight.Mul(amt))

	return &CandidateScore{
		Obligation:  ob,
		Similarity:  sim,
		AmountScore: amt,
		Score:       composite,
		Deviation:   ob.AmountDeviation(amount),
		Accepted:    composite.GreaterThan(p.threshold),
	}
}

// amountScore is 1 up to the full-score deviation, decays linearly to 0 at
// the zero-score deviation and stays 0 beyond it
func amountScore(p *params, amount decimal.Decimal, ob *models.Obligation) decimal.Decimal {
	rel, ok := ob.RelativeDeviation(amount)
	if !ok {
		return decimal.Zero
	}
	if rel.LessThanOrEqual(p.fullDev) {
		return decimal.NewFromInt(1)
	}
	if rel.GreaterThanOrEqual(p.zeroDev) {
		return decimal.Zero
	}
	return p.zeroDev.Sub(rel).Div(p.zeroDev.Sub(p.fullDev))
}

// preferred reports whether a wins the tie-break over b: smaller absolute
// amount deviation, then earlier due date, then lower ID
func preferred(a, b *models.Obligation, amount decimal.Decimal) bool {
	if cmp := a.AmountDeviation(amount).Cmp(b.AmountDeviation(amount)); cmp != 0 {
		return cmp < 0
	}
	if !a.DueDate.Equal(b.DueDate) {
		return a.DueDate.Before(b.DueDate)
	}
	return a.ID < b.ID
}

// ValidateConfiguration validates the matching engine configuration
func (me *MatchingEngine) ValidateConfiguration() error {
	return me.GetConfiguration().Validate()
}

// GetConfiguration returns a copy of the current configuration
func (me *MatchingEngine) GetConfiguration() *MatchingConfig {
	return me.config.Load().Clone()
}

// UpdateConfiguration swaps the matching configuration; in-flight matches
// finish with the configuration they started with
func (me *MatchingEngine) UpdateConfiguration(config *MatchingConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	me.config.Store(config.Clone())
	me.logger.WithField("config", config.String()).Info("Matching configuration updated")
	return nil
}
