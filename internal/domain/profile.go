package domain

import "time"

// DefaultProfileName names the profile every deployment starts with.
const DefaultProfileName = "default"

// ScoringProfile is a named, persisted scoring configuration.
type ScoringProfile struct {
	Name        string        `json:"name"`
	TenantID    string        `json:"tenantId"`
	Description string        `json:"description"`
	Version     string        `json:"version"`
	Config      ScoringConfig `json:"config"`
	Enabled     bool          `json:"enabled"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ScoringConfig holds every constant table the scoring engine uses.
type ScoringConfig struct {
	Weights    CategoryWeights   `json:"weights" mapstructure:"weights"`
	Caps       NormalizationCaps `json:"caps" mapstructure:"caps"`
	Thresholds TierThresholds    `json:"thresholds" mapstructure:"thresholds"`
	Industry   IndustryScores    `json:"industry" mapstructure:"industry"`
	Location   LocationScores    `json:"location" mapstructure:"location"`

	// Probability of default is clamped into [PDFloor, PDCeiling].
	PDFloor   float64 `json:"pdFloor" mapstructure:"pd_floor"`
	PDCeiling float64 `json:"pdCeiling" mapstructure:"pd_ceiling"`
}

// CategoryWeights must sum to 1.
type CategoryWeights struct {
	Core        float64 `json:"core" mapstructure:"core"`
	Alternative float64 `json:"alternative" mapstructure:"alternative"`
	Metadata    float64 `json:"metadata" mapstructure:"metadata"`
}

// NormalizationCaps are the divisors and offsets of the per-term formulas.
type NormalizationCaps struct {
	VintageYears       float64 `json:"vintageYears" mapstructure:"vintage_years"`
	DelayPenalty       float64 `json:"delayPenalty" mapstructure:"delay_penalty"`
	AnnualTurnover     float64 `json:"annualTurnover" mapstructure:"annual_turnover"`
	ProfitMarginOffset float64 `json:"profitMarginOffset" mapstructure:"profit_margin_offset"`
	ProfitMarginSpan   float64 `json:"profitMarginSpan" mapstructure:"profit_margin_span"`
	GSTDelayDays       float64 `json:"gstDelayDays" mapstructure:"gst_delay_days"`
	UPIMonthlyVolume   float64 `json:"upiMonthlyVolume" mapstructure:"upi_monthly_volume"`
	SocialRating       float64 `json:"socialRating" mapstructure:"social_rating"`
	AvgMonthlyBalance  float64 `json:"avgMonthlyBalance" mapstructure:"avg_monthly_balance"`
	EcommerceRating    float64 `json:"ecommerceRating" mapstructure:"ecommerce_rating"`
	ReturnRateCeiling  float64 `json:"returnRateCeiling" mapstructure:"return_rate_ceiling"`
	EmployeeCount      float64 `json:"employeeCount" mapstructure:"employee_count"`
}

// TierThresholds are inclusive lower bounds on the 0-100 final score.
type TierThresholds struct {
	LowRisk      float64 `json:"lowRisk" mapstructure:"low_risk"`
	ModerateRisk float64 `json:"moderateRisk" mapstructure:"moderate_risk"`
}

// IndustryScores is the lookup table for industry_risk.
type IndustryScores struct {
	Low    float64 `json:"low" mapstructure:"low"`
	Medium float64 `json:"medium" mapstructure:"medium"`
	High   float64 `json:"high" mapstructure:"high"`
}

// LocationScores is the lookup table for location_type.
type LocationScores struct {
	Urban float64 `json:"urban" mapstructure:"urban"`
	Rural float64 `json:"rural" mapstructure:"rural"`
}
