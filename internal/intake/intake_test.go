package intake

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

func rawRecord() map[string]any {
	return map[string]any{
		"business_vintage":     "3.0",
		"existing_loan_count":  "2",
		"repayment_delays":     1,
		"annual_turnover":      50.0,
		"profit_margin":        "0.15",
		"debt_to_income_ratio": 0.3,
		"gst_filing_delay":     "0",
		"upi_monthly_volume":   2,
		"upi_volatility":       "0.2",
		"social_media_rating":  4.5,
		"negative_keywords":    "1",
		"avg_monthly_balance":  "50",
		"min_monthly_balance":  10,
		"ecommerce_rating":     "4.2",
		"return_rate":          0.08,
		"industry_risk":        "Medium",
		"business_type":        "retail",
		"employee_count":       5.0,
		"location_type":        "URBAN",
	}
}

func TestParse_CoercesFields(t *testing.T) {
	rec, err := Parse(rawRecord())
	require.NoError(t, err)

	assert.Equal(t, 3.0, rec.BusinessVintage)
	assert.Equal(t, 2, rec.ExistingLoanCount)
	assert.Equal(t, 1, rec.RepaymentDelays)
	assert.Equal(t, 0.15, rec.ProfitMargin)
	assert.Equal(t, 2.0, rec.UPIMonthlyVolume)
	assert.Equal(t, 1, rec.NegativeKeywords)
	assert.Equal(t, 50.0, rec.AvgMonthlyBalance)
	assert.Equal(t, 4.2, rec.EcommerceRating)
	assert.Equal(t, domain.IndustryRiskMedium, rec.IndustryRisk)
	assert.Equal(t, "retail", rec.BusinessType)
	assert.Equal(t, 5, rec.EmployeeCount)
	assert.Equal(t, domain.LocationUrban, rec.LocationType)
}

func TestParse_TruncatesFractionalIntegers(t *testing.T) {
	raw := rawRecord()
	raw["employee_count"] = 7.9
	raw["gst_filing_delay"] = " 08 "

	rec, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.EmployeeCount)
	assert.Equal(t, 8, rec.GSTFilingDelay)
}

func TestParse_LargeIntegers(t *testing.T) {
	raw := rawRecord()
	raw["annual_turnover"] = 5e12
	raw["existing_loan_count"] = 3e9
	raw["employee_count"] = -4.7

	rec, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 3000000000, rec.ExistingLoanCount)
	assert.Equal(t, -4, rec.EmployeeCount)

	raw["existing_loan_count"] = 1e19
	_, err = Parse(raw)
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)
}

func TestParse_TypeMismatch(t *testing.T) {
	tests := []struct {
		field string
		value any
	}{
		{"business_vintage", "three"},
		{"repayment_delays", "1.5"},
		{"annual_turnover", true},
		{"profit_margin", "NaN"},
		{"employee_count", []any{1}},
		{"industry_risk", 3},
		{"location_type", false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			raw := rawRecord()
			raw[tt.field] = tt.value

			_, err := Parse(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			assert.True(t, errors.Is(err, domain.ErrTypeMismatch))

			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, domain.KindTypeMismatch, ve.Kind)
		})
	}
}

func TestParse_InvalidCategory(t *testing.T) {
	raw := rawRecord()
	raw["industry_risk"] = "extreme"

	_, err := Parse(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCategory))

	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "industry_risk", ve.Field)
	assert.Equal(t, []string{"low", "medium", "high"}, ve.Allowed)
	assert.Contains(t, err.Error(), "extreme")
}

func TestParse_InvalidLocation(t *testing.T) {
	raw := rawRecord()
	raw["location_type"] = "suburban"

	_, err := Parse(raw)
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "location_type", ve.Field)
	assert.Equal(t, domain.KindInvalidCategory, ve.Kind)
	assert.Equal(t, []string{"urban", "rural"}, ve.Allowed)
}

func TestParse_ReportsEveryField(t *testing.T) {
	raw := rawRecord()
	delete(raw, "return_rate")
	raw["business_vintage"] = "n/a"
	raw["industry_risk"] = "severe"

	_, err := Parse(raw)
	require.Error(t, err)

	var errs domain.ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Equal(t, []string{"business_vintage", "return_rate", "industry_risk"}, errs.Fields())
	assert.True(t, errors.Is(err, domain.ErrMissingField))
}

func TestParse_Idempotent(t *testing.T) {
	first, err := Parse(rawRecord())
	require.NoError(t, err)

	second, err := Parse(first.Fields())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	body, err := json.Marshal(first)
	require.NoError(t, err)
	third, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestDecode(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		body, err := json.Marshal(rawRecord())
		require.NoError(t, err)

		rec, err := Decode(body)
		require.NoError(t, err)
		assert.Equal(t, domain.IndustryRiskMedium, rec.IndustryRisk)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := Decode([]byte(`{"business_vintage":`))
		assert.ErrorIs(t, err, ErrMalformedBody)

		_, err = Decode([]byte(`null`))
		assert.ErrorIs(t, err, ErrMalformedBody)
	})

	t.Run("schema violations", func(t *testing.T) {
		raw := rawRecord()
		delete(raw, "employee_count")
		raw["annual_turnover"] = map[string]any{"value": 50}

		body, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = Decode(body)
		var errs domain.ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.Equal(t, []string{"annual_turnover", "employee_count"}, errs.Fields())
		assert.Equal(t, domain.KindTypeMismatch, errs[0].Kind)
		assert.Equal(t, domain.KindMissingField, errs[1].Kind)
	})
}

func TestRequestSchema_RequiresEveryField(t *testing.T) {
	schema := RequestSchema()
	assert.Len(t, schema["required"], 19)
	assert.Equal(t, FieldNames(), schema["required"])
}
