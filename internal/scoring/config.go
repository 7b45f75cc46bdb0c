package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

// weightTolerance bounds the rounding error accepted when weights are summed.
const weightTolerance = 0.001

// ErrInvalidConfig is returned by NewEngine for unusable tables.
var ErrInvalidConfig = errors.New("invalid scoring config")

// Validate checks that cfg can drive an engine.
func Validate(cfg domain.ScoringConfig) error {
	var errs []error

	w := cfg.Weights
	for name, v := range map[string]float64{"core": w.Core, "alternative": w.Alternative, "metadata": w.Metadata} {
		if v < 0 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("weight %s must be non-negative, got %v", name, v))
		}
	}
	if sum := w.Core + w.Alternative + w.Metadata; math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("weights must sum to 1, got %.4f", sum))
	}

	c := cfg.Caps
	positive := []struct {
		name string
		v    float64
	}{
		{"vintageYears", c.VintageYears},
		{"annualTurnover", c.AnnualTurnover},
		{"profitMarginSpan", c.ProfitMarginSpan},
		{"gstDelayDays", c.GSTDelayDays},
		{"upiMonthlyVolume", c.UPIMonthlyVolume},
		{"socialRating", c.SocialRating},
		{"avgMonthlyBalance", c.AvgMonthlyBalance},
		{"ecommerceRating", c.EcommerceRating},
		{"employeeCount", c.EmployeeCount},
	}
	for _, p := range positive {
		if !(p.v > 0) {
			errs = append(errs, fmt.Errorf("cap %s must be positive, got %v", p.name, p.v))
		}
	}
	if c.DelayPenalty < 0 {
		errs = append(errs, fmt.Errorf("cap delayPenalty must be non-negative, got %v", c.DelayPenalty))
	}
	if c.ReturnRateCeiling < 0 || c.ReturnRateCeiling > 1 {
		errs = append(errs, fmt.Errorf("cap returnRateCeiling must be within [0,1], got %v", c.ReturnRateCeiling))
	}

	t := cfg.Thresholds
	if !(t.ModerateRisk < t.LowRisk) {
		errs = append(errs, fmt.Errorf("threshold moderateRisk (%v) must be below lowRisk (%v)", t.ModerateRisk, t.LowRisk))
	}

	if !(cfg.PDFloor >= 0 && cfg.PDFloor < cfg.PDCeiling && cfg.PDCeiling <= 1) {
		errs = append(errs, fmt.Errorf("pd bounds must satisfy 0 <= floor < ceiling <= 1, got [%v, %v]", cfg.PDFloor, cfg.PDCeiling))
	}

	for name, v := range map[string]float64{
		"industry.low": cfg.Industry.Low, "industry.medium": cfg.Industry.Medium, "industry.high": cfg.Industry.High,
		"location.urban": cfg.Location.Urban, "location.rural": cfg.Location.Rural,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("lookup %s must be within [0,1], got %v", name, v))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
