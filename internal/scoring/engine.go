// Package scoring computes the multi-factor credit risk score of a business.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

// Term is one named, normalized contribution to a category sub-score.
type Term struct {
	Name  string
	Value float64
}

// Engine scores validated business records. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	cfg domain.ScoringConfig
}

// NewEngine creates an engine over the given tables.
func NewEngine(cfg domain.ScoringConfig) (*Engine, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// NewDefaultEngine creates an engine over the reference tables.
func NewDefaultEngine() *Engine {
	return &Engine{cfg: domain.DefaultScoringConfig()}
}

// Config returns the tables the engine was built with.
func (e *Engine) Config() domain.ScoringConfig {
	return e.cfg
}

// Assess scores a record. It fails only when a categorical value has no
// lookup entry, which cannot happen for records produced by intake.
func (e *Engine) Assess(rec domain.BusinessRecord) (domain.Assessment, error) {
	meta, err := e.MetadataTerms(rec)
	if err != nil {
		return domain.Assessment{}, err
	}

	sub := domain.SubScores{
		Core:        Mean(e.CoreTerms(rec)),
		Alternative: Mean(e.AlternativeTerms(rec)),
		Metadata:    Mean(meta),
	}

	w := e.cfg.Weights
	final := (sub.Core*w.Core + sub.Alternative*w.Alternative + sub.Metadata*w.Metadata) * 100

	return domain.Assessment{
		Score:                truncateScore(final),
		FinalScore:           final,
		Tier:                 e.Classify(final),
		ProbabilityOfDefault: e.ProbabilityOfDefault(final),
		SubScores:            sub,
	}, nil
}

// CoreTerms returns the core financial history terms in aggregation order.
func (e *Engine) CoreTerms(rec domain.BusinessRecord) []Term {
	c := e.cfg.Caps
	return []Term{
		{"vintage", clamp01(rec.BusinessVintage / c.VintageYears)},
		{"loan_history", math.Max(0, 1-float64(rec.RepaymentDelays)*c.DelayPenalty)},
		{"turnover", clamp01(rec.AnnualTurnover / c.AnnualTurnover)},
		// Not clamped: margins outside [-0.2, 0.2] leave [0, 1].
		{"profit", (rec.ProfitMargin + c.ProfitMarginOffset) / c.ProfitMarginSpan},
		{"debt", math.Max(0, 1-rec.DebtToIncomeRatio)},
	}
}

// AlternativeTerms returns the alternative data terms in aggregation order.
func (e *Engine) AlternativeTerms(rec domain.BusinessRecord) []Term {
	c := e.cfg.Caps
	return []Term{
		{"gst", clamp01(1 - float64(rec.GSTFilingDelay)/c.GSTDelayDays)},
		{"upi", clamp01(rec.UPIMonthlyVolume / c.UPIMonthlyVolume)},
		{"social", clamp01(rec.SocialMediaRating / c.SocialRating)},
		{"cashflow", clamp01(rec.AvgMonthlyBalance / c.AvgMonthlyBalance)},
		{"ecommerce", clamp01((rec.EcommerceRating / c.EcommerceRating) * (1 - math.Min(c.ReturnRateCeiling, rec.ReturnRate)))},
	}
}

// MetadataTerms returns the descriptive metadata terms in aggregation order.
func (e *Engine) MetadataTerms(rec domain.BusinessRecord) ([]Term, error) {
	industry, err := e.industryScore(rec.IndustryRisk)
	if err != nil {
		return nil, err
	}
	location, err := e.locationScore(rec.LocationType)
	if err != nil {
		return nil, err
	}
	return []Term{
		{"industry", industry},
		{"location", location},
		{"size", clamp01(float64(rec.EmployeeCount) / e.cfg.Caps.EmployeeCount)},
	}, nil
}

// Classify maps an unrounded final score to its tier. Bounds are inclusive
// and checked from the safest tier down.
func (e *Engine) Classify(final float64) domain.RiskTier {
	switch {
	case final >= e.cfg.Thresholds.LowRisk:
		return domain.TierLowRisk
	case final >= e.cfg.Thresholds.ModerateRisk:
		return domain.TierModerateRisk
	default:
		return domain.TierHighRisk
	}
}

// ProbabilityOfDefault derives the bounded default proxy from a final score.
func (e *Engine) ProbabilityOfDefault(final float64) float64 {
	return math.Min(e.cfg.PDCeiling, math.Max(e.cfg.PDFloor, 1-final/100))
}

// Mean is the arithmetic mean of the term values, summed in order.
func Mean(terms []Term) float64 {
	if len(terms) == 0 {
		return 0
	}
	var sum float64
	for _, t := range terms {
		sum += t.Value
	}
	return sum / float64(len(terms))
}

func (e *Engine) industryScore(r domain.IndustryRisk) (float64, error) {
	switch r {
	case domain.IndustryRiskLow:
		return e.cfg.Industry.Low, nil
	case domain.IndustryRiskMedium:
		return e.cfg.Industry.Medium, nil
	case domain.IndustryRiskHigh:
		return e.cfg.Industry.High, nil
	}
	return 0, &domain.UnknownLookupKeyError{Field: domain.FieldIndustryRisk, Value: r.String()}
}

func (e *Engine) locationScore(l domain.LocationType) (float64, error) {
	switch l {
	case domain.LocationUrban:
		return e.cfg.Location.Urban, nil
	case domain.LocationRural:
		return e.cfg.Location.Rural, nil
	}
	return 0, &domain.UnknownLookupKeyError{Field: domain.FieldLocationType, Value: l.String()}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// truncateScore drops the fractional part and bounds the result to [0, 100].
// The unclamped profit term can push final outside that range.
func truncateScore(final float64) int {
	s := math.Trunc(final)
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return int(s)
}

// String implements fmt.Stringer for log output.
func (t Term) String() string {
	return fmt.Sprintf("%s=%.4f", t.Name, t.Value)
}
