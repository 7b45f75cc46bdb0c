// Package metrics declares the Prometheus collectors of the risk service.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

// Assessment sources.
const (
	SourceHTTP   = "http"
	SourceWorker = "worker"
	SourceCLI    = "cli"
)

var (
	AssessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msmerisk_assessments_total",
			Help: "Total number of completed assessments",
		},
		[]string{"tier", "profile"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msmerisk_validation_failures_total",
			Help: "Total number of rejected record fields",
		},
		[]string{"kind"},
	)

	AssessmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msmerisk_assessment_duration_seconds",
			Help:    "Duration of a full assessment pipeline run in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"},
	)

	RuleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msmerisk_rule_outcomes_total",
			Help: "Total number of policy rule outcomes",
		},
		[]string{"outcome"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "msmerisk_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// ObserveAssessment records one successful evaluation.
func ObserveAssessment(source string, eval *domain.Evaluation, elapsed time.Duration) {
	AssessmentsTotal.WithLabelValues(string(eval.Assessment.Tier), eval.Profile).Inc()
	AssessmentDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	for _, r := range eval.RuleResults {
		RuleOutcomes.WithLabelValues(r.SubRuleRef).Inc()
	}
}

// ObserveRejection counts every field of a validation failure by kind.
func ObserveRejection(err error) {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			ValidationFailures.WithLabelValues(string(e.Kind)).Inc()
		}
		return
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		ValidationFailures.WithLabelValues(string(verr.Kind)).Inc()
	}
}
