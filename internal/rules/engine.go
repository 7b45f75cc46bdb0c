// Package rules provides the CEL-Go based policy rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

// Engine is the CEL-based policy rule evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(variables()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// variables declares every name a rule expression may reference.
func variables() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),

		cel.Variable(domain.FieldBusinessVintage, cel.DoubleType),
		cel.Variable(domain.FieldExistingLoanCount, cel.IntType),
		cel.Variable(domain.FieldRepaymentDelays, cel.IntType),
		cel.Variable(domain.FieldAnnualTurnover, cel.DoubleType),
		cel.Variable(domain.FieldProfitMargin, cel.DoubleType),
		cel.Variable(domain.FieldDebtToIncomeRatio, cel.DoubleType),
		cel.Variable(domain.FieldGSTFilingDelay, cel.IntType),
		cel.Variable(domain.FieldUPIMonthlyVolume, cel.DoubleType),
		cel.Variable(domain.FieldUPIVolatility, cel.DoubleType),
		cel.Variable(domain.FieldSocialMediaRating, cel.DoubleType),
		cel.Variable(domain.FieldNegativeKeywords, cel.IntType),
		cel.Variable(domain.FieldAvgMonthlyBalance, cel.DoubleType),
		cel.Variable(domain.FieldMinMonthlyBalance, cel.DoubleType),
		cel.Variable(domain.FieldEcommerceRating, cel.DoubleType),
		cel.Variable(domain.FieldReturnRate, cel.DoubleType),
		cel.Variable(domain.FieldIndustryRisk, cel.StringType),
		cel.Variable(domain.FieldBusinessType, cel.StringType),
		cel.Variable(domain.FieldEmployeeCount, cel.IntType),
		cel.Variable(domain.FieldLocationType, cel.StringType),

		// Assessment outputs
		cel.Variable("score", cel.IntType),
		cel.Variable("final_score", cel.DoubleType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("probability_of_default", cel.DoubleType),
		cel.Variable("core_score", cel.DoubleType),
		cel.Variable("alternative_score", cel.DoubleType),
		cel.Variable("metadata_score", cel.DoubleType),
	}
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnloadRule removes a rule from the engine. Unknown ids are ignored.
func (e *Engine) UnloadRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiledRules, ruleID)
}

// EvaluateInput holds one scored record for rule evaluation.
type EvaluateInput struct {
	TenantID   string
	Record     domain.BusinessRecord
	Assessment domain.Assessment
}

// activation binds the CEL variables for one input.
func (in *EvaluateInput) activation() map[string]any {
	vars := in.Record.Fields()

	record := make(map[string]any, len(vars))
	for k, v := range vars {
		// CEL integers are int64.
		if n, ok := v.(int); ok {
			v = int64(n)
		}
		vars[k] = v
		record[k] = v
	}
	vars["record"] = record

	a := in.Assessment
	vars["score"] = int64(a.Score)
	vars["final_score"] = a.FinalScore
	vars["tier"] = string(a.Tier)
	vars["probability_of_default"] = a.ProbabilityOfDefault
	vars["core_score"] = a.SubScores.Core
	vars["alternative_score"] = a.SubScores.Alternative
	vars["metadata_score"] = a.SubScores.Metadata

	return vars
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered by rule id.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	activation := input.activation()

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(ctx, r, activation, input.TenantID)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any, tenantID string) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:   rule.Config.ID,
		TenantID: tenantID,
		Weight:   rule.Config.Weight,
	}

	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	score := toScore(out)
	result.Score = score

	result.SubRuleRef, result.Reason = matchBand(score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the first band containing score.
// Lower bounds are inclusive, upper bounds exclusive; a nil bound is open.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		if band.LowerLimit != nil && score < *band.LowerLimit {
			continue
		}
		if band.UpperLimit != nil && score >= *band.UpperLimit {
			continue
		}
		return band.SubRuleRef, band.Reason
	}

	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules atomically replaces all loaded rules.
// Nothing changes when any enabled rule fails to compile.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations ordered by id.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
