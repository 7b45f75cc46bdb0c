package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/msme-risk/internal/api"
	"github.com/opensource-finance/msme-risk/internal/domain"
)

const (
	urlFlagName     = "url"
	tenantFlagName  = "tenant"
	labelFlagName   = "label"
	cutoffFlagName  = "cutoff"
	limitFlagName   = "limit"
	profileFlagName = "profile"
	verboseFlagName = "verbose"
)

func newBenchCmd() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Replays labelled loan outcomes against a running server and reports precision and recall",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     csvFlagName,
				Usage:    "CSV of records with an outcome column",
				Required: true,
			},
			&cli.StringFlag{
				Name:  urlFlagName,
				Usage: "Base URL of the server",
				Value: "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:  tenantFlagName,
				Usage: "Tenant ID for requests",
				Value: "benchmark-test",
			},
			&cli.StringFlag{
				Name:  profileFlagName,
				Usage: "Scoring profile to assess with (optional)",
			},
			&cli.StringFlag{
				Name:  labelFlagName,
				Usage: "Column holding the observed default (1/true/yes)",
				Value: "defaulted",
			},
			&cli.IntFlag{
				Name:  cutoffFlagName,
				Usage: "Scores below the cutoff count as predicted defaults",
				Value: 40,
			},
			&cli.IntFlag{
				Name:  limitFlagName,
				Usage: "Maximum records to replay (0 = all)",
			},
			&cli.IntFlag{
				Name:  workersFlagName,
				Usage: "Number of concurrent requests",
				Value: 10,
			},
			&cli.BoolFlag{
				Name:  verboseFlagName,
				Usage: "Prints each record result",
			},
		},
		Action: runBench,
	}
}

// labelledRecord is a record with its observed outcome.
type labelledRecord struct {
	row       int
	record    map[string]any
	defaulted bool
}

// benchStats accumulates the confusion matrix of one replay.
type benchStats struct {
	TruePositives  atomic.Int64 // defaulted, predicted default
	FalsePositives atomic.Int64
	TrueNegatives  atomic.Int64
	FalseNegatives atomic.Int64 // defaulted, predicted repayment

	Processed atomic.Int64
	Rejected  atomic.Int64
	Errors    atomic.Int64

	LatencyMs atomic.Int64
}

type benchClient struct {
	http    *http.Client
	baseURL string
	tenant  string
	profile string
}

func runBench(ctx context.Context, cmd *cli.Command) error {
	workers := cmd.Int(workersFlagName)
	if workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", workers)
	}

	in, err := os.Open(cmd.String(csvFlagName))
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	records, err := readLabelledCSV(in, cmd.String(labelFlagName), cmd.Int(limitFlagName))
	if err != nil {
		return err
	}

	client := &benchClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(cmd.String(urlFlagName), "/"),
		tenant:  cmd.String(tenantFlagName),
		profile: cmd.String(profileFlagName),
	}

	if err := client.checkHealth(ctx); err != nil {
		return fmt.Errorf("server not reachable at %s: %w", client.baseURL, err)
	}

	w := writer(cmd)
	fmt.Fprintf(w, "Replaying %d records against %s with %d workers\n", len(records), client.baseURL, workers)

	start := time.Now()
	stats := replay(ctx, client, records, workers, cmd.Int(cutoffFlagName), verboseOutput(cmd, w))
	printBenchResults(w, stats, time.Since(start))
	return nil
}

func verboseOutput(cmd *cli.Command, w io.Writer) io.Writer {
	if cmd.Bool(verboseFlagName) {
		return w
	}
	return io.Discard
}

// readLabelledCSV reads records like batch does and splits off the label column.
func readLabelledCSV(r io.Reader, label string, limit int) ([]labelledRecord, error) {
	raw, err := readCSV(r)
	if err != nil {
		return nil, err
	}

	var out []labelledRecord
	for i, rec := range raw {
		v, ok := rec[label]
		if !ok {
			return nil, fmt.Errorf("row %d: missing label column %q", i+1, label)
		}
		delete(rec, label)

		out = append(out, labelledRecord{row: i + 1, record: rec, defaulted: truthy(fmt.Sprint(v))})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func replay(ctx context.Context, client *benchClient, records []labelledRecord, workers, cutoff int, verbose io.Writer) *benchStats {
	stats := &benchStats{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, rec := range records {
		g.Go(func() error {
			start := time.Now()
			resp, status, err := client.assess(gctx, rec.record)
			stats.LatencyMs.Add(time.Since(start).Milliseconds())
			stats.Processed.Add(1)

			switch {
			case err != nil:
				stats.Errors.Add(1)
				fmt.Fprintf(verbose, "ERROR row %d: %v\n", rec.row, err)
				return nil
			case status == http.StatusBadRequest:
				stats.Rejected.Add(1)
				fmt.Fprintf(verbose, "REJECTED row %d\n", rec.row)
				return nil
			}

			predicted := resp.Score < cutoff
			switch {
			case predicted && rec.defaulted:
				stats.TruePositives.Add(1)
			case predicted && !rec.defaulted:
				stats.FalsePositives.Add(1)
			case !predicted && !rec.defaulted:
				stats.TrueNegatives.Add(1)
			default:
				stats.FalseNegatives.Add(1)
			}

			mark := "ok"
			if predicted != rec.defaulted {
				mark = "xx"
			}
			fmt.Fprintf(verbose, "%s row %-5d | score %3d | %-13s | defaulted %v\n", mark, rec.row, resp.Score, resp.Tier, rec.defaulted)
			return nil
		})
	}
	_ = g.Wait()

	return stats
}

func (c *benchClient) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *benchClient) assess(ctx context.Context, record map[string]any) (*domain.AssessmentResponse, int, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, 0, err
	}

	target := c.baseURL + "/assess"
	if c.profile != "" {
		target += "?profile=" + url.QueryEscape(c.profile)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, c.tenant)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, resp.StatusCode, nil
	default:
		return nil, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.AssessmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// benchSummary holds the derived rates of a replay.
type benchSummary struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

func summarize(s *benchStats) benchSummary {
	tp, fp := float64(s.TruePositives.Load()), float64(s.FalsePositives.Load())
	tn, fn := float64(s.TrueNegatives.Load()), float64(s.FalseNegatives.Load())

	var out benchSummary
	if tp+fp > 0 {
		out.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		out.Recall = tp / (tp + fn)
	}
	if out.Precision+out.Recall > 0 {
		out.F1 = 2 * out.Precision * out.Recall / (out.Precision + out.Recall)
	}
	if total := tp + fp + tn + fn; total > 0 {
		out.Accuracy = (tp + tn) / total
	}
	return out
}

func printBenchResults(w io.Writer, s *benchStats, duration time.Duration) {
	sum := summarize(s)

	fmt.Fprintln(w, "\n=== BENCHMARK RESULTS ===")

	fmt.Fprintln(w, "\nDATASET")
	fmt.Fprintf(w, "   Processed:  %d\n", s.Processed.Load())
	fmt.Fprintf(w, "   Rejected:   %d\n", s.Rejected.Load())
	fmt.Fprintf(w, "   Errors:     %d\n", s.Errors.Load())

	fmt.Fprintln(w, "\nCONFUSION MATRIX")
	fmt.Fprintln(w, "                       Predicted")
	fmt.Fprintln(w, "                   default    repay")
	fmt.Fprintf(w, "   Actual  default  %7d  %7d   (TP, FN)\n", s.TruePositives.Load(), s.FalseNegatives.Load())
	fmt.Fprintf(w, "           repay    %7d  %7d   (FP, TN)\n", s.FalsePositives.Load(), s.TrueNegatives.Load())

	fmt.Fprintln(w, "\nMETRICS")
	fmt.Fprintf(w, "   Precision:  %.4f\n", sum.Precision)
	fmt.Fprintf(w, "   Recall:     %.4f\n", sum.Recall)
	fmt.Fprintf(w, "   F1-Score:   %.4f\n", sum.F1)
	fmt.Fprintf(w, "   Accuracy:   %.4f\n", sum.Accuracy)

	fmt.Fprintln(w, "\nPERFORMANCE")
	fmt.Fprintf(w, "   Duration:   %v\n", duration.Round(time.Millisecond))
	if n := s.Processed.Load(); n > 0 {
		fmt.Fprintf(w, "   Avg Latency: %.2f ms\n", float64(s.LatencyMs.Load())/float64(n))
		fmt.Fprintf(w, "   Throughput:  %.2f req/sec\n", float64(n)/duration.Seconds())
	}
	fmt.Fprintln(w)
}
