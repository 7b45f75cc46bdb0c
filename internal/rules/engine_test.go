package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

func testInput() *EvaluateInput {
	return &EvaluateInput{
		TenantID: "tenant-001",
		Record: domain.BusinessRecord{
			BusinessVintage:   3.0,
			ExistingLoanCount: 2,
			RepaymentDelays:   1,
			AnnualTurnover:    50.0,
			ProfitMargin:      0.15,
			DebtToIncomeRatio: 0.3,
			UPIMonthlyVolume:  2.0,
			UPIVolatility:     0.2,
			SocialMediaRating: 4.5,
			AvgMonthlyBalance: 50.0,
			MinMonthlyBalance: 10.0,
			EcommerceRating:   4.2,
			ReturnRate:        0.08,
			IndustryRisk:      domain.IndustryRiskMedium,
			BusinessType:      "retail",
			EmployeeCount:     5,
			LocationType:      domain.LocationUrban,
		},
		Assessment: domain.Assessment{
			Score:                59,
			FinalScore:           59.32,
			Tier:                 domain.TierModerateRisk,
			ProbabilityOfDefault: 0.4068,
			SubScores:            domain.SubScores{Core: 0.555, Alternative: 0.67456, Metadata: 0.5667},
		},
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "annual_turnover > 100.0",
		Weight:     1.0,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}

	engine.UnloadRule("test-rule-001")
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules after unload, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := map[string]string{
		"syntax":        "this is not valid CEL !!!",
		"unknown var":   "transaction_amount > 5.0",
		"string result": "industry_risk",
	}

	for name, expr := range tests {
		t.Run(name, func(t *testing.T) {
			err := engine.ValidateRule(&domain.RuleConfig{ID: "invalid-rule", Expression: expr, Enabled: true})
			if err == nil {
				t.Errorf("expected error for expression %q", expr)
			}
		})
	}

	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestEvaluateRecordFields(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "small-urban",
		Expression: `location_type == "urban" && employee_count < 10 && industry_risk == "medium"`,
		Bands:      flagBands(domain.RuleOutcomeReview, "small urban business"),
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	ctx := context.Background()
	input := testInput()

	results, err := engine.EvaluateAll(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score != 1.0 || results[0].SubRuleRef != domain.RuleOutcomeReview {
		t.Errorf("expected review with score 1, got %s with %.2f", results[0].SubRuleRef, results[0].Score)
	}
	if results[0].TenantID != "tenant-001" {
		t.Errorf("expected tenant-001, got %s", results[0].TenantID)
	}

	input.Record.EmployeeCount = 40
	results, _ = engine.EvaluateAll(ctx, input)
	if results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected pass for larger business, got %s", results[0].SubRuleRef)
	}
}

func TestEvaluateAssessmentVariables(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "pd-grade",
		Expression: "probability_of_default > 0.5 ? 2.0 : (tier == 'Moderate Risk' && score < 60 ? 1.0 : 0.0)",
		Bands: []domain.RuleBand{
			{UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass, Reason: "acceptable"},
			{LowerLimit: limit(1), UpperLimit: limit(2), SubRuleRef: domain.RuleOutcomeReview, Reason: "borderline moderate"},
			{LowerLimit: limit(2), SubRuleRef: domain.RuleOutcomeFail, Reason: "default probability above 50%"},
		},
		Enabled: true,
	}
	engine.LoadRule(rule)

	ctx := context.Background()
	input := testInput()

	results, _ := engine.EvaluateAll(ctx, input)
	if results[0].SubRuleRef != domain.RuleOutcomeReview {
		t.Errorf("expected review, got %s (%s)", results[0].SubRuleRef, results[0].Reason)
	}

	input.Assessment.ProbabilityOfDefault = 0.7
	results, _ = engine.EvaluateAll(ctx, input)
	if results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected fail, got %s", results[0].SubRuleRef)
	}

	input.Assessment = domain.Assessment{Score: 82, Tier: domain.TierLowRisk, ProbabilityOfDefault: 0.18}
	results, _ = engine.EvaluateAll(ctx, input)
	if results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected pass, got %s", results[0].SubRuleRef)
	}
}

func TestEvaluateRecordMap(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "map-access",
		Expression: `record["business_type"] == "retail" && record["repayment_delays"] == 1`,
		Enabled:    true,
	})

	results, _ := engine.EvaluateAll(context.Background(), testInput())
	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0, got %.2f (%s)", results[0].Score, results[0].Reason)
	}
}

func TestParallelExecutionOrdered(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 9; i >= 0; i-- {
		rule := &domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%d", i),
			Expression: "annual_turnover > 0.0",
			Weight:     1.0,
			Enabled:    true,
		}
		engine.LoadRule(rule)
	}

	if engine.RulesCount() != 10 {
		t.Fatalf("expected 10 rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), testInput())
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}

	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}

	for i, r := range results {
		if want := fmt.Sprintf("rule-%d", i); r.RuleID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, r.RuleID)
		}
		if r.Score != 1.0 {
			t.Errorf("rule %d: expected score 1.0, got %.2f", i, r.Score)
		}
	}
}

func TestEvaluateCancelled(t *testing.T) {
	engine, _ := NewEngine(2)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "r", Expression: "score > 0", Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.EvaluateAll(ctx, testInput()); err == nil {
		t.Error("expected context error")
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "score > 0", Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "a", Expression: "score > 10", Enabled: true},
		{ID: "b", Expression: "score > 20", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "a" {
		t.Errorf("expected only rule a, got %v", loaded)
	}

	err = engine.ReloadRules([]*domain.RuleConfig{{ID: "bad", Expression: "score >", Enabled: true}})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if engine.RulesCount() != 1 {
		t.Errorf("failed reload must keep previous rules, got %d", engine.RulesCount())
	}
}

func TestMatchBand(t *testing.T) {
	bands := []domain.RuleBand{
		{UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "low"},
		{LowerLimit: limit(0.5), UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomeReview, Reason: "mid"},
		{LowerLimit: limit(1), SubRuleRef: domain.RuleOutcomeFail, Reason: "high"},
	}

	tests := []struct {
		score float64
		want  string
	}{
		{-3, domain.RuleOutcomePass},
		{0.49, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomeReview},
		{0.99, domain.RuleOutcomeReview},
		{1, domain.RuleOutcomeFail},
		{7, domain.RuleOutcomeFail},
	}
	for _, tt := range tests {
		if got, _ := matchBand(tt.score, bands); got != tt.want {
			t.Errorf("matchBand(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}

	if got, reason := matchBand(5, nil); got != domain.RuleOutcomePass || reason != "no matching band" {
		t.Errorf("expected default pass, got %s (%s)", got, reason)
	}
}

func TestStarterRulesCompile(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.LoadRules(StarterRules()); err != nil {
		t.Fatalf("starter rules must compile: %v", err)
	}

	input := testInput()
	results, _ := engine.EvaluateAll(context.Background(), input)
	for _, r := range results {
		if r.SubRuleRef != domain.RuleOutcomePass {
			t.Errorf("rule %s: expected pass for healthy record, got %s", r.RuleID, r.SubRuleRef)
		}
	}

	input.Record.MinMonthlyBalance = -4
	input.Record.NegativeKeywords = 8
	results, _ = engine.EvaluateAll(context.Background(), input)

	outcomes := map[string]string{}
	for _, r := range results {
		outcomes[r.RuleID] = r.SubRuleRef
	}
	if outcomes["policy-003-adverse-media"] != domain.RuleOutcomeReview {
		t.Errorf("expected adverse media review, got %s", outcomes["policy-003-adverse-media"])
	}
	if outcomes["policy-004-overdrawn"] != domain.RuleOutcomeFail {
		t.Errorf("expected overdrawn fail, got %s", outcomes["policy-004-overdrawn"])
	}
}
