// Package decision turns a scored assessment and its policy rule outcomes
// into the final lending decision.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

// EngineVersion is stamped on every evaluation.
const EngineVersion = "msmerisk-1.0"

var recommendations = map[domain.RiskTier]string{
	domain.TierLowRisk:      "eligible for preferential terms",
	domain.TierModerateRisk: "higher rate / collateral likely required",
	domain.TierHighRisk:     "high risk, likely requires collateral or rejection",
}

// Recommendation returns the fixed lending guidance for a tier.
func Recommendation(tier domain.RiskTier) string {
	if r, ok := recommendations[tier]; ok {
		return r
	}
	return "no recommendation available"
}

// FormatProbability renders a probability as a percentage with two decimals.
func FormatProbability(pd float64) string {
	return fmt.Sprintf("%.2f%%", pd*100)
}

// Processor aggregates policy rule results into a decision.
type Processor struct {
	// ReferOnReview sets Referral when any rule asks for review.
	// Failing rules always refer.
	ReferOnReview bool

	// ReferOnError sets Referral when a rule could not be evaluated.
	ReferOnError bool
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		ReferOnReview: true,
		ReferOnError:  false,
	}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TenantID    string
	TraceID     string
	Profile     string
	Assessment  domain.Assessment
	RuleResults []domain.RuleResult
	StartTime   time.Time

	// Stage timings measured by the caller.
	IntakeMs  int64
	ScoringMs int64
	RulesMs   int64
}

// Process builds the evaluation for one assessed record. The score, tier and
// probability of default are taken from the assessment unchanged.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Evaluation {
	start := time.Now()

	eval := &domain.Evaluation{
		ID:             uuid.New().String(),
		TenantID:       input.TenantID,
		Profile:        input.Profile,
		Timestamp:      time.Now().UTC(),
		Assessment:     input.Assessment,
		Recommendation: Recommendation(input.Assessment.Tier),
		RuleResults:    input.RuleResults,
	}

	agg := p.aggregate(input.RuleResults)
	eval.Referral = agg.Failures > 0 ||
		(p.ReferOnReview && agg.Reviews > 0) ||
		(p.ReferOnError && agg.Errors > 0)

	eval.Metadata = domain.EvaluationMetadata{
		TraceID:        input.TraceID,
		IntakeMs:       input.IntakeMs,
		ScoringMs:      input.ScoringMs,
		RulesMs:        input.RulesMs,
		RulesEvaluated: len(input.RuleResults),
		RulesTriggered: agg.Triggered(),
		RuleErrors:     agg.Errors,
		ReferralWeight: agg.TriggeredWeight,
		DecisionMs:     time.Since(start).Milliseconds(),
		EngineVersion:  EngineVersion,
	}
	if !input.StartTime.IsZero() {
		eval.Metadata.TotalMs = time.Since(input.StartTime).Milliseconds()
	}

	return eval
}

// AggregateResult counts rule outcomes.
type AggregateResult struct {
	Failures int
	Reviews  int
	Errors   int

	// TriggeredWeight sums the weights of failed and reviewed rules.
	// Unweighted rules count as 1.
	TriggeredWeight float64
}

// Triggered is the number of rules that failed or asked for review.
func (a *AggregateResult) Triggered() int {
	return a.Failures + a.Reviews
}

func (p *Processor) aggregate(results []domain.RuleResult) *AggregateResult {
	agg := &AggregateResult{}

	for _, r := range results {
		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}

		switch r.SubRuleRef {
		case domain.RuleOutcomeFail:
			agg.Failures++
			agg.TriggeredWeight += weight
		case domain.RuleOutcomeReview:
			agg.Reviews++
			agg.TriggeredWeight += weight
		case domain.RuleOutcomeError:
			agg.Errors++
		}
	}

	return agg
}

// IsHighRisk reports whether the evaluation landed in the highest risk tier.
func IsHighRisk(eval *domain.Evaluation) bool {
	return eval.Assessment.Tier == domain.TierHighRisk
}
