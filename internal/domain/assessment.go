package domain

// RiskTier is the discrete risk band derived from the final score.
type RiskTier string

const (
	TierLowRisk      RiskTier = "Low Risk"
	TierModerateRisk RiskTier = "Moderate Risk"
	TierHighRisk     RiskTier = "High Risk"
)

// SubScores holds the three category means, each nominally in [0, 1].
type SubScores struct {
	Core        float64 `json:"core" yaml:"core"`
	Alternative float64 `json:"alternative" yaml:"alternative"`
	Metadata    float64 `json:"metadata" yaml:"metadata"`
}

// Assessment is the output of the scoring engine for one record.
type Assessment struct {
	// Score is the truncated final score, bounded to [0, 100].
	Score int `json:"score"`

	// FinalScore is the unrounded weighted score the tier was derived from.
	FinalScore float64 `json:"final_score"`

	Tier                 RiskTier  `json:"tier"`
	ProbabilityOfDefault float64   `json:"probability_of_default"`
	SubScores            SubScores `json:"sub_scores"`
}
