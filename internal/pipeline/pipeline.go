// Package pipeline runs one business record through intake, scoring,
// policy rules and the decision processor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/msme-risk/internal/decision"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/intake"
	"github.com/opensource-finance/msme-risk/internal/metrics"
	"github.com/opensource-finance/msme-risk/internal/profile"
	"github.com/opensource-finance/msme-risk/internal/rules"
)

var tracer = otel.Tracer("msmerisk-pipeline")

// ErrNoRecord is returned for an Input carrying neither Raw nor Record.
var ErrNoRecord = errors.New("no record to assess")

// Input is one assessment request. Raw is validated by intake; a Record
// is trusted as already validated.
type Input struct {
	TenantID string
	TraceID  string
	Profile  string
	Source   string

	Raw    map[string]any
	Record *domain.BusinessRecord
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	registry  *profile.Registry
	rules     *rules.Engine
	processor *decision.Processor
}

// New creates a pipeline. rulesEngine may be nil to skip policy rules.
func New(registry *profile.Registry, rulesEngine *rules.Engine, processor *decision.Processor) *Pipeline {
	if processor == nil {
		processor = decision.NewProcessor()
	}
	return &Pipeline{
		registry:  registry,
		rules:     rulesEngine,
		processor: processor,
	}
}

// Run assesses one record. Validation failures are returned as
// domain.ValidationErrors; an unknown profile wraps profile.ErrProfileNotFound.
func (p *Pipeline) Run(ctx context.Context, in *Input) (*domain.Evaluation, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", in.TenantID),
		attribute.String("profile", in.Profile),
		attribute.String("source", in.Source),
	)

	fail := func(err error) (*domain.Evaluation, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// 1. Intake
	var rec domain.BusinessRecord
	switch {
	case in.Record != nil:
		rec = *in.Record
	case in.Raw != nil:
		var err error
		rec, err = intake.Validate(in.Raw)
		if err != nil {
			metrics.ObserveRejection(err)
			return fail(err)
		}
	default:
		return fail(ErrNoRecord)
	}
	intakeDone := time.Now()

	// 2. Score
	engine, prof, err := p.registry.Resolve(ctx, in.TenantID, in.Profile)
	if err != nil {
		return fail(err)
	}
	assessment, err := engine.Assess(rec)
	if err != nil {
		return fail(fmt.Errorf("scoring failed: %w", err))
	}
	scoringDone := time.Now()

	// 3. Policy rules
	var results []domain.RuleResult
	if p.rules != nil {
		results, err = p.rules.EvaluateAll(ctx, &rules.EvaluateInput{
			TenantID:   in.TenantID,
			Record:     rec,
			Assessment: assessment,
		})
		if err != nil {
			return fail(fmt.Errorf("rule evaluation failed: %w", err))
		}
	}
	rulesDone := time.Now()

	// 4. Decision
	eval := p.processor.Process(ctx, &decision.DecisionInput{
		TenantID:    in.TenantID,
		TraceID:     in.TraceID,
		Profile:     prof.Name,
		Assessment:  assessment,
		RuleResults: results,
		StartTime:   start,
		IntakeMs:    intakeDone.Sub(start).Milliseconds(),
		ScoringMs:   scoringDone.Sub(intakeDone).Milliseconds(),
		RulesMs:     rulesDone.Sub(scoringDone).Milliseconds(),
	})

	span.SetAttributes(
		attribute.Int("score", assessment.Score),
		attribute.String("tier", string(assessment.Tier)),
		attribute.Bool("referral", eval.Referral),
	)
	metrics.ObserveAssessment(in.Source, eval, time.Since(start))

	return eval, nil
}
