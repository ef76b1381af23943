package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"anime-identifier-go/internal/actionable"
	"anime-identifier-go/internal/aggregator"
	"anime-identifier-go/internal/dataset"
	"anime-identifier-go/internal/processor"
)

type batchReport struct {
	Manifest dataset.Summary         `json:"manifest"`
	Results  []processor.Result      `json:"results"`
	Summary  aggregator.Summary      `json:"summary"`
	Actions  []actionable.ActionCard `json:"actions"`
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var noProgress bool
	var limit int
	var timeoutSec int

	cmd := &cobra.Command{
		Use:   "batch <manifest.xlsx>",
		Short: "Identify every image listed in a spreadsheet manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := dataset.Load(args[0])
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			if limit > 0 && len(samples) > limit {
				samples = samples[:limit]
			}
			proc, err := ctx.processor(cmd)
			if err != nil {
				return err
			}

			var progress func(processor.Result)
			if !noProgress {
				bar := progressbar.NewOptions(len(samples),
					progressbar.OptionSetDescription("identifying"),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
				progress = func(processor.Result) { _ = bar.Add(1) }
				defer func() { _ = bar.Finish() }()
			}

			results := proc.ProcessBatch(cmd.Context(), samples, time.Duration(timeoutSec)*time.Second, progress)
			summary := aggregator.Aggregate(results)
			report := batchReport{
				Manifest: dataset.Summarize(samples, 5),
				Results:  results,
				Summary:  summary,
				Actions:  actionable.Generate(summary),
			}
			if asJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderBatch(report, newPainter(cmd.OutOrStdout())))
			}
			if err := cmd.Context().Err(); err != nil {
				return fmt.Errorf("batch interrupted after %d of %d samples: %w", len(results), len(samples), err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Process at most this many samples")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Per-image pipeline timeout in seconds (0 uses the configured value)")
	return cmd
}

func renderBatch(r batchReport, p painter) string {
	var b strings.Builder

	rows := make([][]string, 0, len(r.Results))
	for i, res := range r.Results {
		status, character, anime := p.ok("ok"), "", ""
		if res.Failed() {
			status = p.bad(res.ErrorKind)
		} else {
			character, anime = res.Character.Name, res.Character.AnimeName
			if res.VideosDegraded {
				status = p.warn("ok, no videos")
			}
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(res.Source, 40),
			res.Expected,
			character,
			anime,
			status,
		})
	}
	b.WriteString(renderTable([]string{"#", "Source", "Expected", "Character", "Anime", "Status"}, rows, []columnAlignment{alignRight}))
	b.WriteString("\n")

	s := r.Summary
	summaryRows := [][]string{
		{"Processed", fmt.Sprintf("%d", s.Total)},
		{"Succeeded", fmt.Sprintf("%d", s.Succeeded)},
		{"Failed", fmt.Sprintf("%d", s.Failed)},
		{"Videos degraded", fmt.Sprintf("%d", s.VideosDegraded)},
		{"Average duration", (time.Duration(s.AvgDurationMs) * time.Millisecond).String()},
	}
	if s.WithExpected > 0 {
		summaryRows = append(summaryRows, []string{"Expected matched", fmt.Sprintf("%d/%d (%.0f%%)", s.Matched, s.WithExpected, s.MatchRate*100)})
	}
	for _, kind := range sortedKeys(s.FailuresByKind) {
		summaryRows = append(summaryRows, []string{"Failures: " + kind, fmt.Sprintf("%d", s.FailuresByKind[kind])})
	}
	b.WriteString(renderTable([]string{"Metric", "Value"}, summaryRows, []columnAlignment{alignLeft, alignRight}))
	b.WriteString("\n")

	actionRows := make([][]string, 0, len(r.Actions))
	for _, a := range r.Actions {
		actionRows = append(actionRows, []string{a.Insight, a.Action, a.Impact})
	}
	b.WriteString(renderTable([]string{"Insight", "Action", "Impact"}, actionRows, nil))
	b.WriteString("\n")
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
