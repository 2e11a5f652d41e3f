package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/dealcoach/internal/http"
	"github.com/fyrsmithlabs/dealcoach/internal/observer"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

var (
	gradeFile     string
	gradeWatch    bool
	watchDeadline time.Duration
)

// gradeCmd starts grading for a session
var gradeCmd = &cobra.Command{
	Use:   "grade <session-id>",
	Short: "Start grading a session",
	Long: `Start grading a session on the dealcoach server.

Examples:
  # Upload a transcript and grade it
  coachctl grade --file call.jsonl call-42

  # Grade and follow the run until results are in
  coachctl grade --watch call-42`,
	Args: cobra.ExactArgs(1),
	RunE: runGrade,
}

// observeCmd follows a grading run
var observeCmd = &cobra.Command{
	Use:   "observe <session-id>",
	Short: "Follow a grading run until every result section is available",
	Args:  cobra.ExactArgs(1),
	RunE:  runObserve,
}

func init() {
	gradeCmd.Flags().StringVar(&gradeFile, "file", "", "JSONL transcript to upload before grading")
	gradeCmd.Flags().BoolVarP(&gradeWatch, "watch", "w", false, "follow the grading run")
	gradeCmd.Flags().DurationVar(&watchDeadline, "deadline", 3*time.Minute, "give up following after this long")
	observeCmd.Flags().DurationVar(&watchDeadline, "deadline", 3*time.Minute, "give up following after this long")
}

func runGrade(cmd *cobra.Command, args []string) error {
	id := args[0]
	out := cmd.OutOrStdout()

	if gradeFile != "" {
		accepted, err := uploadTranscript(id, gradeFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Uploaded %d utterance(s)\n", accepted)
	}

	var resp httpapi.GradeResponse
	if err := doJSON(http.MethodPost, "/grade/"+url.PathEscape(id), nil, http.StatusAccepted, &resp, 2*time.Minute); err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s: %s\n", resp.SessionID, resp.Status)
	for _, p := range resp.Phases {
		fmt.Fprintf(out, "  %-14s %s\n", p.Phase, p.Status)
	}

	if !gradeWatch {
		return nil
	}
	return observe(cmd, id)
}

func runObserve(cmd *cobra.Command, args []string) error {
	return observe(cmd, args[0])
}

func uploadTranscript(id, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	defer f.Close()

	us, err := transcript.ParseJSONL(f)
	if err != nil {
		return 0, fmt.Errorf("failed to parse transcript: %w", err)
	}
	if len(us) == 0 {
		return 0, fmt.Errorf("no utterances in %s", path)
	}

	var resp httpapi.UtterancesResponse
	err = doJSON(http.MethodPost, "/session/"+url.PathEscape(id)+"/utterances",
		httpapi.UtterancesRequest{Utterances: us}, http.StatusOK, &resp, 30*time.Second)
	if err != nil {
		return 0, err
	}
	return resp.Accepted, nil
}

func observe(cmd *cobra.Command, id string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := observer.DefaultConfig()
	cfg.Deadline = watchDeadline
	obs := observer.New(observer.NewHTTPFetcher(serverURL, nil), cfg, nil)
	defer obs.Stop()

	out := cmd.OutOrStdout()
	var shown observer.Completed
	for st := range obs.Observe(ctx, id) {
		for _, s := range st.Completed {
			if shown.Has(s) {
				continue
			}
			shown = append(shown, s)
			renderSection(out, s, st.Record)
		}
		if !st.Done {
			continue
		}
		if st.Failure != nil {
			fmt.Fprintf(out, "Grading incomplete (%s): %s\n", st.Failure.Cause, st.Failure.Message)
			if st.Failure.Recovery == observer.RecoveryRetry {
				return fmt.Errorf("grading %s failed: %s", id, st.Failure.Cause)
			}
			return nil
		}
		if st.TimedOut {
			fmt.Fprintln(out, "Stopped waiting; showing partial results")
		} else if st.Partial {
			fmt.Fprintln(out, "Deep analysis unavailable; showing partial results")
		}
		return nil
	}
	return ctx.Err()
}

func renderSection(w io.Writer, s observer.Section, rec *session.Record) {
	if rec == nil {
		return
	}
	switch s {
	case observer.SectionSummary:
		fmt.Fprintf(w, "== Summary ==\n")
		if g := rec.Grade; g != nil {
			fmt.Fprintf(w, "Sale closed: %t\n", g.SaleClosed)
			if g.SaleClosed {
				fmt.Fprintf(w, "Virtual earnings: $%.2f\n", g.VirtualEarnings)
			}
		} else {
			fmt.Fprintf(w, "Status: %s\n", rec.Status)
		}
	case observer.SectionScores:
		fmt.Fprintf(w, "== Scores ==\n")
		if g := rec.Grade; g != nil {
			sc := g.Scores
			fmt.Fprintf(w, "Overall %d | Rapport %d | Discovery %d | Objections %d | Closing %d\n",
				sc.Overall, sc.Rapport, sc.Discovery, sc.ObjectionHandling, sc.Closing)
		}
	case observer.SectionFeedback:
		fmt.Fprintf(w, "== Feedback ==\n")
		if a := rec.Analytics; a != nil {
			if a.Feedback.Narrative != "" {
				fmt.Fprintln(w, a.Feedback.Narrative)
			}
			writeList(w, "Strengths", a.Feedback.Strengths)
			writeList(w, "Improvements", a.Feedback.Improvements)
		}
	case observer.SectionObjectionAnalysis:
		fmt.Fprintf(w, "== Objection analysis ==\n")
		if a := rec.Analytics; a != nil {
			fmt.Fprintf(w, "%d objection(s) reviewed\n", len(a.ObjectionAnalysis))
		}
	case observer.SectionCoachingPlan:
		fmt.Fprintf(w, "== Coaching plan ==\n")
		if a := rec.Analytics; a != nil {
			fmt.Fprintf(w, "%d item(s)\n", len(a.CoachingPlan))
		}
	}
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", strings.TrimSpace(it))
	}
}
