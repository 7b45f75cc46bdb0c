package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/msme-risk/internal/decision"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/metrics"
	"github.com/opensource-finance/msme-risk/internal/pipeline"
)

const (
	csvFlagName     = "csv"
	outFlagName     = "out"
	workersFlagName = "workers"
)

func newBatchCmd() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Scores every row of a CSV file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     csvFlagName,
				Usage:    "Input CSV with a header row of record field names",
				Required: true,
			},
			&cli.StringFlag{
				Name:  outFlagName,
				Usage: "Output CSV path (optional, default: stdout)",
			},
			&cli.IntFlag{
				Name:  workersFlagName,
				Usage: "Number of records scored concurrently",
				Value: 4,
			},
			noRulesFlag(),
		},
		Action: runBatch,
	}
}

var batchHeader = []string{"row", "score", "tier", "probability_of_default", "recommendation", "referral", "error"}

func runBatch(ctx context.Context, cmd *cli.Command) error {
	workers := cmd.Int(workersFlagName)
	if workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", workers)
	}

	in, err := os.Open(cmd.String(csvFlagName))
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	records, err := readCSV(in)
	if err != nil {
		return err
	}

	p, err := offlinePipeline(getConfig(cmd), !cmd.Bool(noRulesFlagName))
	if err != nil {
		return err
	}

	rows := scoreAll(ctx, p, records, workers)

	out := writer(cmd)
	if path := cmd.String(outFlagName); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write(batchHeader); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}

	slog.Info("batch complete", "records", len(records))
	return nil
}

// readCSV maps each data row onto the header. Empty cells are left out so
// that they are reported as missing fields.
func readCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("input CSV is empty")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]any
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(records)+1, err)
		}

		rec := make(map[string]any, len(header))
		for i, cell := range row {
			if cell = strings.TrimSpace(cell); cell != "" && i < len(header) {
				rec[header[i]] = cell
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// scoreAll assesses records with at most workers in flight and returns one
// output row per record, in input order.
func scoreAll(ctx context.Context, p *pipeline.Pipeline, records []map[string]any, workers int) [][]string {
	rows := make([][]string, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, raw := range records {
		g.Go(func() error {
			rows[i] = scoreRow(gctx, p, i+1, raw)
			return nil
		})
	}
	_ = g.Wait()

	return rows
}

func scoreRow(ctx context.Context, p *pipeline.Pipeline, n int, raw map[string]any) []string {
	row := strconv.Itoa(n)

	eval, err := p.Run(ctx, &pipeline.Input{
		TenantID: cliTenant,
		Source:   metrics.SourceCLI,
		Raw:      raw,
	})
	if err != nil {
		msg := err.Error()
		var verrs domain.ValidationErrors
		if errors.As(err, &verrs) {
			msg = strings.Join(errorMessages(verrs), "; ")
		}
		return []string{row, "", "", "", "", "", msg}
	}

	return []string{
		row,
		strconv.Itoa(eval.Assessment.Score),
		string(eval.Assessment.Tier),
		decision.FormatProbability(eval.Assessment.ProbabilityOfDefault),
		eval.Recommendation,
		strconv.FormatBool(eval.Referral),
		"",
	}
}

func errorMessages(errs domain.ValidationErrors) []string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return msgs
}
