package domain

// RuleConfig defines a lender policy rule evaluated after scoring.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the record fields and the assessment
	Expression string `json:"expression"`

	// Outcome bands for value-to-outcome mapping
	Bands []RuleBand `json:"bands"`

	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
}

// RuleBand maps a value range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // e.g., ".pass", ".fail", ".review"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	TenantID   string  `json:"tenantId"`
	SubRuleRef string  `json:"subRuleRef"` // ".pass", ".fail", ".review", ".err"
	Score      float64 `json:"score"`      // The computed value
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)
