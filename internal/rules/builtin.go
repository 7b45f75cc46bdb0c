package rules

import "github.com/opensource-finance/msme-risk/internal/domain"

func limit(v float64) *float64 { return &v }

// flagBands maps a boolean or 0/1 rule to pass below 1 and outcome at 1.
func flagBands(outcome, reason string) []domain.RuleBand {
	return []domain.RuleBand{
		{UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass, Reason: "within policy"},
		{LowerLimit: limit(1), SubRuleRef: outcome, Reason: reason},
	}
}

// StarterRules returns the policy rules seeded into an empty global rule set.
// They flag applications for manual review and never alter the score.
func StarterRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "policy-001-debt-burden",
			TenantID:    "*",
			Name:        "Debt burden",
			Description: "Debt service exceeds 80% of income",
			Version:     "1.0.0",
			Expression:  "debt_to_income_ratio > 0.8",
			Bands:       flagBands(domain.RuleOutcomeReview, "debt-to-income ratio above 0.8"),
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "policy-002-gst-compliance",
			TenantID:    "*",
			Name:        "GST compliance",
			Description: "GST returns filed more than 60 days late",
			Version:     "1.0.0",
			Expression:  "gst_filing_delay > 60",
			Bands:       flagBands(domain.RuleOutcomeReview, "GST filings more than 60 days late"),
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "policy-003-adverse-media",
			TenantID:    "*",
			Name:        "Adverse media",
			Description: "Five or more negative keywords in public mentions",
			Version:     "1.0.0",
			Expression:  "negative_keywords >= 5",
			Bands:       flagBands(domain.RuleOutcomeReview, "adverse media mentions"),
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "policy-004-overdrawn",
			TenantID:    "*",
			Name:        "Overdrawn account",
			Description: "Minimum monthly balance below zero",
			Version:     "1.0.0",
			Expression:  "min_monthly_balance < 0.0",
			Bands:       flagBands(domain.RuleOutcomeFail, "account overdrawn during the period"),
			Weight:      1.0,
			Enabled:     true,
		},
		{
			ID:          "policy-005-volatile-upi",
			TenantID:    "*",
			Name:        "Volatile UPI inflow",
			Description: "UPI volatility above 0.5 on a thin digital history",
			Version:     "1.0.0",
			Expression:  "upi_volatility > 0.5 && upi_monthly_volume < 1.0",
			Bands:       flagBands(domain.RuleOutcomeReview, "volatile low-volume UPI inflow"),
			Weight:      1.0,
			Enabled:     true,
		},
	}
}
