package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

var analyzeFollow bool

// analyzeCmd runs the live analyzer over a transcript file without a server
var analyzeCmd = &cobra.Command{
	Use:   "analyze <transcript.jsonl>",
	Short: "Print live coaching feedback for a transcript",
	Long: `Run the live conversation analyzer over a JSONL transcript and print
each feedback event as it would appear to the rep.

Examples:
  # Analyze a finished call
  coachctl analyze call.jsonl

  # Follow a transcript while it is being written
  coachctl analyze --follow live.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVarP(&analyzeFollow, "follow", "f", false, "keep reading as the file grows")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]
	a := analyzer.New(path)
	out := cmd.OutOrStdout()

	if !analyzeFollow {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open transcript %s: %w", path, err)
		}
		defer f.Close()

		us, err := transcript.ParseJSONL(f)
		if err != nil {
			return fmt.Errorf("failed to parse transcript: %w", err)
		}
		printEvents(out, a.ProcessAll(us))
		printSummary(out, a.Summary())
		return nil
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := transcript.NewTailer(path, zap.NewNop()).Run(ctx, func(us []transcript.Utterance) {
		printEvents(out, a.ProcessAll(us))
	})
	printSummary(out, a.Summary())
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printEvents(w io.Writer, events []analyzer.FeedbackEvent) {
	for _, e := range events {
		fmt.Fprintf(w, "[%s] %-22s %s\n", severityMark(e.Severity), e.Kind, e.Message)
	}
}

func printSummary(w io.Writer, s analyzer.Summary) {
	fmt.Fprintf(w, "\nObjections: %d raised, %d outstanding\n", len(s.Objections), len(s.Outstanding))
	fmt.Fprintf(w, "Peak commitment: %s\n", s.Stats.PeakCommitment)
	if s.Trend != "" {
		fmt.Fprintf(w, "Trend: %s\n", s.Trend)
	}
}

func severityMark(s analyzer.Severity) string {
	switch s {
	case analyzer.SeverityGood:
		return "+"
	case analyzer.SeverityNeedsImprovement:
		return "!"
	default:
		return "-"
	}
}
