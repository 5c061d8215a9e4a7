package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/evaluation"
	"github.com/fyrsmithlabs/docqa/internal/report"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the ingested documents",
	Long: `Answer a question using the ingested corpus. The answer cites the chunks it
relies on; with --json the full pipeline response is printed.

Examples:
  docqa ask "What is the termination notice period?"
  docqa ask --json "Who owns the deliverables?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app) error {
			return runAsk(ctx, cmd, a.executor, strings.Join(args, " "))
		})
	},
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
}

// runAsk prints the response even when the pipeline failed part way, then
// returns the error.
func runAsk(ctx context.Context, cmd *cobra.Command, asker evaluation.Asker, question string) error {
	resp, err := asker.Ask(ctx, question)
	if resp != nil {
		out := cmd.OutOrStdout()
		if askJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(resp); encErr != nil {
				return encErr
			}
		} else {
			fmt.Fprint(out, report.Answer(resp))
		}
	}
	return err
}
