package domain

import (
	"fmt"
	"strings"
)

// IndustryRisk is the closed set of industry risk categories.
// The zero value is not a valid category.
type IndustryRisk uint8

const (
	IndustryRiskUnknown IndustryRisk = iota
	IndustryRiskLow
	IndustryRiskMedium
	IndustryRiskHigh
)

// IndustryRiskValues lists the accepted spellings in canonical order.
var IndustryRiskValues = []string{"low", "medium", "high"}

// ParseIndustryRisk parses a case-insensitive industry risk category.
func ParseIndustryRisk(s string) (IndustryRisk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return IndustryRiskLow, nil
	case "medium":
		return IndustryRiskMedium, nil
	case "high":
		return IndustryRiskHigh, nil
	}
	return IndustryRiskUnknown, &ValidationError{
		Field:   FieldIndustryRisk,
		Kind:    KindInvalidCategory,
		Value:   s,
		Allowed: IndustryRiskValues,
	}
}

func (r IndustryRisk) String() string {
	switch r {
	case IndustryRiskLow:
		return "low"
	case IndustryRiskMedium:
		return "medium"
	case IndustryRiskHigh:
		return "high"
	}
	return fmt.Sprintf("IndustryRisk(%d)", uint8(r))
}

// Valid reports whether r is one of the known categories.
func (r IndustryRisk) Valid() bool {
	return r >= IndustryRiskLow && r <= IndustryRiskHigh
}

// MarshalText implements encoding.TextMarshaler.
func (r IndustryRisk) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid industry risk %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *IndustryRisk) UnmarshalText(b []byte) error {
	v, err := ParseIndustryRisk(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// LocationType is the closed set of business locations.
type LocationType uint8

const (
	LocationUnknown LocationType = iota
	LocationUrban
	LocationRural
)

// LocationTypeValues lists the accepted spellings in canonical order.
var LocationTypeValues = []string{"urban", "rural"}

// ParseLocationType parses a case-insensitive location type.
func ParseLocationType(s string) (LocationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urban":
		return LocationUrban, nil
	case "rural":
		return LocationRural, nil
	}
	return LocationUnknown, &ValidationError{
		Field:   FieldLocationType,
		Kind:    KindInvalidCategory,
		Value:   s,
		Allowed: LocationTypeValues,
	}
}

func (l LocationType) String() string {
	switch l {
	case LocationUrban:
		return "urban"
	case LocationRural:
		return "rural"
	}
	return fmt.Sprintf("LocationType(%d)", uint8(l))
}

// Valid reports whether l is one of the known locations.
func (l LocationType) Valid() bool {
	return l == LocationUrban || l == LocationRural
}

// MarshalText implements encoding.TextMarshaler.
func (l LocationType) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid location type %d", uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LocationType) UnmarshalText(b []byte) error {
	v, err := ParseLocationType(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Record field names as they appear on the wire.
const (
	FieldBusinessVintage   = "business_vintage"
	FieldExistingLoanCount = "existing_loan_count"
	FieldRepaymentDelays   = "repayment_delays"
	FieldAnnualTurnover    = "annual_turnover"
	FieldProfitMargin      = "profit_margin"
	FieldDebtToIncomeRatio = "debt_to_income_ratio"
	FieldGSTFilingDelay    = "gst_filing_delay"
	FieldUPIMonthlyVolume  = "upi_monthly_volume"
	FieldUPIVolatility     = "upi_volatility"
	FieldSocialMediaRating = "social_media_rating"
	FieldNegativeKeywords  = "negative_keywords"
	FieldAvgMonthlyBalance = "avg_monthly_balance"
	FieldMinMonthlyBalance = "min_monthly_balance"
	FieldEcommerceRating   = "ecommerce_rating"
	FieldReturnRate        = "return_rate"
	FieldIndustryRisk      = "industry_risk"
	FieldBusinessType      = "business_type"
	FieldEmployeeCount     = "employee_count"
	FieldLocationType      = "location_type"
)

// BusinessRecord describes one small business applying for credit.
// It is a value type; construct it through the intake package so that
// every field has been coerced and every category checked.
type BusinessRecord struct {
	// Core financial history.
	BusinessVintage   float64 `json:"business_vintage" yaml:"business_vintage"` // years
	ExistingLoanCount int     `json:"existing_loan_count" yaml:"existing_loan_count"`
	RepaymentDelays   int     `json:"repayment_delays" yaml:"repayment_delays"`
	AnnualTurnover    float64 `json:"annual_turnover" yaml:"annual_turnover"` // lakhs
	ProfitMargin      float64 `json:"profit_margin" yaml:"profit_margin"`
	DebtToIncomeRatio float64 `json:"debt_to_income_ratio" yaml:"debt_to_income_ratio"`

	// Alternative data signals.
	GSTFilingDelay    int          `json:"gst_filing_delay" yaml:"gst_filing_delay"`     // days
	UPIMonthlyVolume  float64      `json:"upi_monthly_volume" yaml:"upi_monthly_volume"` // lakhs
	UPIVolatility     float64      `json:"upi_volatility" yaml:"upi_volatility"`
	SocialMediaRating float64      `json:"social_media_rating" yaml:"social_media_rating"`
	NegativeKeywords  int          `json:"negative_keywords" yaml:"negative_keywords"`
	AvgMonthlyBalance float64      `json:"avg_monthly_balance" yaml:"avg_monthly_balance"` // thousands
	MinMonthlyBalance float64      `json:"min_monthly_balance" yaml:"min_monthly_balance"` // thousands
	EcommerceRating   float64      `json:"ecommerce_rating" yaml:"ecommerce_rating"`
	ReturnRate        float64      `json:"return_rate" yaml:"return_rate"`
	IndustryRisk      IndustryRisk `json:"industry_risk" yaml:"industry_risk"`

	// Descriptive metadata.
	BusinessType  string       `json:"business_type" yaml:"business_type"`
	EmployeeCount int          `json:"employee_count" yaml:"employee_count"`
	LocationType  LocationType `json:"location_type" yaml:"location_type"`
}

// Fields returns the record in its raw wire form, keyed by field name.
// Feeding the result back through intake yields an identical record.
func (r BusinessRecord) Fields() map[string]any {
	return map[string]any{
		FieldBusinessVintage:   r.BusinessVintage,
		FieldExistingLoanCount: r.ExistingLoanCount,
		FieldRepaymentDelays:   r.RepaymentDelays,
		FieldAnnualTurnover:    r.AnnualTurnover,
		FieldProfitMargin:      r.ProfitMargin,
		FieldDebtToIncomeRatio: r.DebtToIncomeRatio,
		FieldGSTFilingDelay:    r.GSTFilingDelay,
		FieldUPIMonthlyVolume:  r.UPIMonthlyVolume,
		FieldUPIVolatility:     r.UPIVolatility,
		FieldSocialMediaRating: r.SocialMediaRating,
		FieldNegativeKeywords:  r.NegativeKeywords,
		FieldAvgMonthlyBalance: r.AvgMonthlyBalance,
		FieldMinMonthlyBalance: r.MinMonthlyBalance,
		FieldEcommerceRating:   r.EcommerceRating,
		FieldReturnRate:        r.ReturnRate,
		FieldIndustryRisk:      r.IndustryRisk.String(),
		FieldBusinessType:      r.BusinessType,
		FieldEmployeeCount:     r.EmployeeCount,
		FieldLocationType:      r.LocationType.String(),
	}
}
