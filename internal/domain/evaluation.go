package domain

import (
	"time"
)

// Evaluation is the complete decision for one assessed business.
type Evaluation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Profile   string    `json:"profile"`
	Timestamp time.Time `json:"timestamp"`

	Assessment     Assessment `json:"assessment"`
	Recommendation string     `json:"recommendation"`

	// Referral is set when any policy rule failed or asked for review.
	Referral bool `json:"referral"`

	RuleResults []RuleResult       `json:"rule_results"`
	Metadata    EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID        string `json:"trace_id"`
	IntakeMs       int64  `json:"intake_ms"`
	ScoringMs      int64  `json:"scoring_ms"`
	RulesMs        int64  `json:"rules_ms"`
	DecisionMs     int64  `json:"decision_ms"`
	TotalMs        int64  `json:"total_ms"`
	RulesEvaluated int    `json:"rules_evaluated"`
	RulesTriggered int    `json:"rules_triggered"`
	RuleErrors     int    `json:"rule_errors"`
	EngineVersion  string `json:"engine_version"`

	// ReferralWeight sums the weights of the rules behind a referral.
	ReferralWeight float64 `json:"referral_weight"`
}

// AssessmentResponse is the API body for a completed assessment.
type AssessmentResponse struct {
	EvaluationID         string             `json:"evaluation_id"`
	TenantID             string             `json:"tenant_id"`
	Profile              string             `json:"profile"`
	Score                int                `json:"score"`
	Tier                 RiskTier           `json:"tier"`
	ProbabilityOfDefault string             `json:"probability_of_default"`
	Recommendation       string             `json:"recommendation"`
	SubScores            SubScores          `json:"sub_scores"`
	Referral             bool               `json:"referral"`
	Flags                []string           `json:"flags,omitempty"`
	Metadata             EvaluationMetadata `json:"metadata"`
}

// Flags returns the reasons of every rule that failed or asked for review.
func (e *Evaluation) Flags() []string {
	var flags []string
	for _, r := range e.RuleResults {
		if r.SubRuleRef == RuleOutcomeFail || r.SubRuleRef == RuleOutcomeReview {
			flags = append(flags, r.Reason)
		}
	}
	return flags
}

// ToResponse converts an Evaluation to an API response. formatPD renders
// the probability of default for display.
func (e *Evaluation) ToResponse(formatPD func(float64) string) *AssessmentResponse {
	return &AssessmentResponse{
		EvaluationID:         e.ID,
		TenantID:             e.TenantID,
		Profile:              e.Profile,
		Score:                e.Assessment.Score,
		Tier:                 e.Assessment.Tier,
		ProbabilityOfDefault: formatPD(e.Assessment.ProbabilityOfDefault),
		Recommendation:       e.Recommendation,
		SubScores:            e.Assessment.SubScores,
		Referral:             e.Referral,
		Flags:                e.Flags(),
		Metadata:             e.Metadata,
	}
}
