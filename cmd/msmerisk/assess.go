package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/msme-risk/internal/decision"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/intake"
	"github.com/opensource-finance/msme-risk/internal/metrics"
	"github.com/opensource-finance/msme-risk/internal/pipeline"
	"github.com/opensource-finance/msme-risk/internal/profile"
	"github.com/opensource-finance/msme-risk/internal/rules"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"

	// cliTenant owns assessments made outside the server.
	cliTenant = "cli"
)

const (
	fileFlagName    = "file"
	formatFlagName  = "format"
	noRulesFlagName = "no-rules"
)

func noRulesFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  noRulesFlagName,
		Usage: "Skips the starter policy rules",
	}
}

func newAssessCmd() *cli.Command {
	return &cli.Command{
		Name:  "assess",
		Usage: "Scores one business record and prints the report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     fileFlagName,
				Aliases:  []string{"f"},
				Usage:    "Path to a business record (.json, .yaml or .yml)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  formatFlagName,
				Usage: "Output format [text, json, yaml]",
				Value: formatText,
			},
			noRulesFlag(),
		},
		Action: runAssess,
	}
}

// report is the machine readable form of an assessment.
type report struct {
	Score                int              `json:"score" yaml:"score"`
	Tier                 domain.RiskTier  `json:"tier" yaml:"tier"`
	ProbabilityOfDefault string           `json:"probability_of_default" yaml:"probability_of_default"`
	Recommendation       string           `json:"recommendation" yaml:"recommendation"`
	SubScores            domain.SubScores `json:"sub_scores" yaml:"sub_scores"`
	Referral             bool             `json:"referral" yaml:"referral"`
	Flags                []string         `json:"flags,omitempty" yaml:"flags,omitempty"`
}

func newReport(eval *domain.Evaluation) report {
	return report{
		Score:                eval.Assessment.Score,
		Tier:                 eval.Assessment.Tier,
		ProbabilityOfDefault: decision.FormatProbability(eval.Assessment.ProbabilityOfDefault),
		Recommendation:       eval.Recommendation,
		SubScores:            eval.Assessment.SubScores,
		Referral:             eval.Referral,
		Flags:                eval.Flags(),
	}
}

func runAssess(ctx context.Context, cmd *cli.Command) error {
	format := strings.ToLower(cmd.String(formatFlagName))
	switch format {
	case formatText, formatJSON, formatYAML:
	case "yml":
		format = formatYAML
	default:
		return fmt.Errorf("unsupported format %q", format)
	}

	raw, err := readRecordFile(cmd.String(fileFlagName))
	if err != nil {
		return err
	}

	p, err := offlinePipeline(getConfig(cmd), !cmd.Bool(noRulesFlagName))
	if err != nil {
		return err
	}

	eval, err := p.Run(ctx, &pipeline.Input{
		TenantID: cliTenant,
		Source:   metrics.SourceCLI,
		Raw:      raw,
	})
	if err != nil {
		return fmt.Errorf("assessment failed: %w", err)
	}

	return writeReport(writer(cmd), format, eval)
}

func writeReport(w io.Writer, format string, eval *domain.Evaluation) error {
	switch format {
	case formatJSON:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(newReport(eval))
	case formatYAML:
		return yaml.NewEncoder(w).Encode(newReport(eval))
	}

	r := newReport(eval)
	fmt.Fprintln(w, "\n=== MSME Credit Risk Assessment Report ===")
	fmt.Fprintf(w, "\nCredit Risk Score: %d/100\n", r.Score)
	fmt.Fprintf(w, "Risk Tier: %s\n", r.Tier)
	fmt.Fprintf(w, "Probability of Default: %s\n", r.ProbabilityOfDefault)
	fmt.Fprintf(w, "\nRecommendation: %s\n", r.Recommendation)
	if len(r.Flags) > 0 {
		fmt.Fprintln(w, "\nReferred for review:")
		for _, f := range r.Flags {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	return nil
}

// readRecordFile decodes a JSON or YAML record by file extension.
func readRecordFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", intake.ErrMalformedBody, err)
		}
		if raw == nil {
			return nil, fmt.Errorf("%w: expected a mapping", intake.ErrMalformedBody)
		}
		return raw, nil
	default:
		return intake.DecodeRaw(b)
	}
}

// offlinePipeline scores with the configured default profile and, when
// withRules is set, the starter policy rules. Nothing is persisted.
func offlinePipeline(cfg *domain.Config, withRules bool) (*pipeline.Pipeline, error) {
	registry, err := profile.NewRegistry(nil, nil, 0, cfg.Scoring)
	if err != nil {
		return nil, err
	}

	var engine *rules.Engine
	if withRules {
		engine, err = rules.NewEngine(cfg.Rules.MaxWorkers)
		if err != nil {
			return nil, err
		}
		if err := engine.LoadRules(rules.StarterRules()); err != nil {
			return nil, err
		}
	}

	return pipeline.New(registry, engine, decision.NewProcessor()), nil
}
