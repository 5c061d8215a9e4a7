package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/evaluation"
	"github.com/fyrsmithlabs/docqa/internal/report"
)

var (
	evalLabels  string
	evalJSON    bool
	evalVerbose bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Replay labeled questions and report answer quality",
	Long: `Replay a JSON file of labeled questions through the pipeline and report the
hallucination rate, answer similarity, retrieval precision and recall, and
latency. Without labels every metric is reported as n/a.

Examples:
  docqa evaluate --labels labels.json
  docqa evaluate --labels labels.json --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app) error {
			path := evalLabels
			if path == "" {
				path = a.cfg.Evaluation.LabelsPath
			}
			return runEvaluate(ctx, cmd, a.evaluator, path)
		})
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalLabels, "labels", "", "labels file (overrides evaluation.labels_path)")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print the report as JSON")
	evaluateCmd.Flags().BoolVarP(&evalVerbose, "verbose", "v", false, "list every question")
}

// reportRunner is the part of evaluation.Harness the command uses.
type reportRunner interface {
	Run(ctx context.Context, labels []evaluation.Label) (*evaluation.Report, error)
}

func runEvaluate(ctx context.Context, cmd *cobra.Command, h reportRunner, path string) error {
	labels, err := evaluation.LoadLabels(path)
	if err != nil && !errors.Is(err, evaluation.ErrNoLabels) {
		return fmt.Errorf("loading labels: %w", err)
	}

	rep := &evaluation.Report{Summary: evaluation.EmptySummary()}
	if len(labels) > 0 {
		if rep, err = h.Run(ctx, labels); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if evalJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if evalVerbose {
			return enc.Encode(rep)
		}
		return enc.Encode(rep.Summary)
	}
	fmt.Fprint(out, report.Evaluation(rep, evalVerbose))
	return nil
}
