package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/msme-risk/internal/bus"
	"github.com/opensource-finance/msme-risk/internal/cache"
	"github.com/opensource-finance/msme-risk/internal/decision"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/pipeline"
	"github.com/opensource-finance/msme-risk/internal/profile"
	"github.com/opensource-finance/msme-risk/internal/repository"
	"github.com/opensource-finance/msme-risk/internal/rules"
)

func referenceRecord() map[string]any {
	return map[string]any{
		"business_vintage": 3.0, "existing_loan_count": 2, "repayment_delays": 1,
		"annual_turnover": 50.0, "profit_margin": 0.15, "debt_to_income_ratio": 0.3,
		"gst_filing_delay": 0, "upi_monthly_volume": 2.0, "upi_volatility": 0.2,
		"social_media_rating": 4.5, "negative_keywords": 1, "avg_monthly_balance": 50.0,
		"min_monthly_balance": 10.0, "ecommerce_rating": 4.2, "return_rate": 0.08,
		"industry_risk": "medium", "business_type": "retail", "employee_count": 5,
		"location_type": "urban",
	}
}

type testEnv struct {
	server *Server
	repo   *repository.SQLRepository
	bus    *bus.ChannelBus
	engine *rules.Engine
}

// newTestEnv builds a server over sqlite, the LRU cache and the channel bus.
func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(1000)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	if err := engine.LoadRules(rules.StarterRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	reg, err := profile.NewRegistry(repo, c, time.Minute, domain.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     30,
		WriteTimeout:    30,
		RateLimit:       rateLimit,
		RateLimitWindow: 60,
	}

	server := NewServer(cfg, Dependencies{
		Repo:     repo,
		Cache:    c,
		Bus:      eventBus,
		Rules:    engine,
		Profiles: reg,
		Pipeline: pipeline.New(reg, engine, decision.NewProcessor()),
		Version:  "test-v1",
	})

	return &testEnv{server: server, repo: repo, bus: eventBus, engine: engine}
}

func (e *testEnv) do(t *testing.T, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}

	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func TestAssessEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("ReferenceRecord", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/assess", "tenant-001", referenceRecord())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.AssessmentResponse
		decodeBody(t, rr, &resp)

		if resp.Score != 59 {
			t.Errorf("expected score 59, got %d", resp.Score)
		}
		if resp.Tier != domain.TierModerateRisk {
			t.Errorf("expected Moderate Risk, got %s", resp.Tier)
		}
		if resp.ProbabilityOfDefault != "40.68%" {
			t.Errorf("expected PD 40.68%%, got %s", resp.ProbabilityOfDefault)
		}
		if resp.Recommendation != "higher rate / collateral likely required" {
			t.Errorf("unexpected recommendation %q", resp.Recommendation)
		}
		if resp.EvaluationID == "" {
			t.Error("expected evaluation_id in response")
		}
		if resp.TenantID != "tenant-001" {
			t.Errorf("expected tenant-001, got %s", resp.TenantID)
		}
		if resp.Referral {
			t.Error("reference record should not be referred")
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected trace_id in metadata")
		}
	})

	t.Run("PublishesCompleted", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		sub, err := env.bus.Subscribe(context.Background(), "tenant-pub", domain.TopicAssessmentCompleted, func(_ context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		rr := env.do(t, http.MethodPost, "/assess", "tenant-pub", referenceRecord())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		select {
		case msg := <-received:
			var eval domain.Evaluation
			if err := json.Unmarshal(msg.Payload, &eval); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if eval.Assessment.Score != 59 {
				t.Errorf("expected published score 59, got %d", eval.Assessment.Score)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("completed event not published")
		}
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		cases := []struct {
			name  string
			edit  func(map[string]any)
			field string
			kind  domain.ValidationKind
		}{
			{"MissingField", func(r map[string]any) { delete(r, "annual_turnover") }, "annual_turnover", domain.KindMissingField},
			{"InvalidCategory", func(r map[string]any) { r["industry_risk"] = "extreme" }, "industry_risk", domain.KindInvalidCategory},
			{"TypeMismatch", func(r map[string]any) { r["employee_count"] = "five" }, "employee_count", domain.KindTypeMismatch},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rec := referenceRecord()
				tc.edit(rec)

				rr := env.do(t, http.MethodPost, "/assess", "tenant-001", rec)
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
				}

				var resp ValidationResponse
				decodeBody(t, rr, &resp)
				if resp.Error != "validation failed" {
					t.Errorf("unexpected error %q", resp.Error)
				}
				if len(resp.Errors) != 1 || resp.Errors[0].Field != tc.field || resp.Errors[0].Kind != tc.kind {
					t.Errorf("expected one %s error on %s, got %s", tc.kind, tc.field, rr.Body.String())
				}
			})
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/assess", "tenant-001", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/assess", "", referenceRecord())
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/assess?profile=nope", "tenant-001", referenceRecord())
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/assess", "tenant-001", referenceRecord())
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header")
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
	})
}

func TestAssessRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodPost, "/assess", "tenant-limited", referenceRecord())
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rr.Code)
		}
	}

	rr := env.do(t, http.MethodPost, "/assess", "tenant-limited", referenceRecord())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected no remaining requests, got %q", rr.Header().Get("X-RateLimit-Remaining"))
	}

	// Other tenants keep their own budget.
	rr = env.do(t, http.MethodPost, "/assess", "tenant-other", referenceRecord())
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 for another tenant, got %d", rr.Code)
	}
}

func TestAssessAsync(t *testing.T) {
	env := newTestEnv(t, 0)

	received := make(chan *domain.Message, 1)
	sub, err := env.bus.Subscribe(context.Background(), "tenant-001", domain.TopicAssessmentRequested, func(_ context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	rr := env.do(t, http.MethodPost, "/assess/async?profile=default", "tenant-001", referenceRecord())
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["request_id"] == "" || resp["status"] != "queued" {
		t.Fatalf("unexpected response %v", resp)
	}

	select {
	case msg := <-received:
		var req domain.AssessmentRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if req.RequestID != resp["request_id"] {
			t.Errorf("expected request id %s, got %s", resp["request_id"], req.RequestID)
		}
		if req.Profile != "default" {
			t.Errorf("expected profile default, got %s", req.Profile)
		}
		if len(req.Record) != len(referenceRecord()) {
			t.Errorf("expected the full record, got %d fields", len(req.Record))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("assessment request not published")
	}
}

func TestAssessAsync_NoBus(t *testing.T) {
	reg, err := profile.NewRegistry(nil, nil, 0, domain.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	server := NewServer(domain.ServerConfig{Port: 8080}, Dependencies{
		Profiles: reg,
		Pipeline: pipeline.New(reg, nil, nil),
	})

	req := httptest.NewRequest(http.MethodPost, "/assess/async", strings.NewReader("{}"))
	req.Header.Set(TenantIDHeader, "tenant-001")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("List", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/rules", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, rr, &resp)
		if resp.Count != len(rules.StarterRules()) {
			t.Errorf("expected %d rules, got %d", len(rules.StarterRules()), resp.Count)
		}
	})

	t.Run("CreateGetDelete", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", "tenant-001", CreateRuleRequest{
			ID:         "policy-100",
			Name:       "Young business",
			Expression: "business_vintage < 1.0 ? 1.0 : 0.0",
			Bands:      flagBands(domain.RuleOutcomeReview, "business younger than one year"),
			Weight:     1,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		stored, err := env.repo.GetRuleConfig(context.Background(), GlobalTenantID, "policy-100")
		if err != nil {
			t.Fatalf("rule not persisted: %v", err)
		}
		if stored.Version != "1.0.0" || !stored.Enabled {
			t.Errorf("unexpected stored rule %+v", stored)
		}

		rr = env.do(t, http.MethodGet, "/rules/policy-100", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rec := referenceRecord()
		rec["business_vintage"] = 0.5
		rr = env.do(t, http.MethodPost, "/assess", "tenant-001", rec)
		var resp domain.AssessmentResponse
		decodeBody(t, rr, &resp)
		if !resp.Referral {
			t.Error("new rule should refer a young business")
		}

		rr = env.do(t, http.MethodDelete, "/rules/policy-100", "tenant-001", nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rr.Code)
		}
		rr = env.do(t, http.MethodGet, "/rules/policy-100", "tenant-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", rr.Code)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", "tenant-001", CreateRuleRequest{
			ID:         "policy-bad",
			Name:       "Broken",
			Expression: "no_such_field > 1.0",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", "tenant-001", CreateRuleRequest{ID: "x"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("DeleteUnknown", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/rules/unknown", "tenant-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rule := rules.StarterRules()[0]
		rule.TenantID = GlobalTenantID
		if err := env.repo.SaveRuleConfig(context.Background(), GlobalTenantID, rule); err != nil {
			t.Fatalf("failed to seed rule: %v", err)
		}

		rr := env.do(t, http.MethodPost, "/rules/reload", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if env.engine.RulesCount() != 1 {
			t.Errorf("expected 1 rule after reload, got %d", env.engine.RulesCount())
		}
	})
}

func flagBands(outcome, reason string) []domain.RuleBand {
	one := 1.0
	return []domain.RuleBand{
		{UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass},
		{LowerLimit: &one, SubRuleRef: outcome, Reason: reason},
	}
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	lenient := domain.DefaultScoringConfig()
	lenient.Thresholds = domain.TierThresholds{LowRisk: 55, ModerateRisk: 30}

	rr := env.do(t, http.MethodPost, "/profiles", "bank-a", domain.ScoringProfile{Name: "lenient", Config: lenient})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/profiles/lenient", "bank-a", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/assess?profile=lenient", "bank-a", referenceRecord())
	var resp domain.AssessmentResponse
	decodeBody(t, rr, &resp)
	if resp.Tier != domain.TierLowRisk || resp.Profile != "lenient" {
		t.Errorf("expected Low Risk under lenient, got %s (%s)", resp.Tier, resp.Profile)
	}

	rr = env.do(t, http.MethodGet, "/profiles/lenient", "bank-b", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("profile should not leak across tenants, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/profiles", "bank-a", nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rr, &list)
	if list.Count != 2 {
		t.Errorf("expected default and lenient, got %d profiles", list.Count)
	}

	bad := domain.DefaultScoringConfig()
	bad.Weights.Core = 0.9
	rr = env.do(t, http.MethodPost, "/profiles", "bank-a", domain.ScoringProfile{Name: "bad", Config: bad})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad weights, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/profiles/reload", "bank-a", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 on reload, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/profiles/lenient", "bank-a", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, "/profiles/lenient", "bank-a", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 on second delete, got %d", rr.Code)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("Health", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/health", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Status  string            `json:"status"`
			Version string            `json:"version"`
			Checks  map[string]string `json:"checks"`
		}
		decodeBody(t, rr, &resp)
		if resp.Status != "healthy" || resp.Version != "test-v1" {
			t.Errorf("unexpected health %+v", resp)
		}
		for _, name := range []string{"repository", "cache", "event_bus"} {
			if resp.Checks[name] != "ok" {
				t.Errorf("expected %s ok, got %q", name, resp.Checks[name])
			}
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(t, http.MethodPost, "/assess", "tenant-001", referenceRecord())

		rr := env.do(t, http.MethodGet, "/metrics", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "msmerisk_assessments_total") {
			t.Error("expected assessment counter in metrics output")
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		rr := env.do(t, http.MethodOptions, "/assess", "", nil)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
	})
}
