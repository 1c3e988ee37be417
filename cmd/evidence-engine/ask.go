// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/events"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question and stream the journey to the terminal",
	Long: `Ask routes the question, researches it when the tier calls for it, and
streams the answer. Progress goes to stderr and the answer to stdout.
With --json every event envelope is written to stdout as one JSON line.

Interrupting with Ctrl-C cancels the journey and keeps the partial answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	req, err := requestFromFlags(cmd, args)
	if err != nil {
		return err
	}

	a, err := newApp(buildOptions{dryRun: dryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := a.engine.Run(ctx, req)
	if jsonOutput {
		return streamJSON(os.Stdout, stream)
	}
	return streamText(os.Stdout, os.Stderr, stream)
}

func requestFromFlags(cmd *cobra.Command, args []string) (types.Request, error) {
	historyFile, _ := cmd.Flags().GetString("history")
	profileFile, _ := cmd.Flags().GetString("profile")
	userID, _ := cmd.Flags().GetString("user")
	lang, _ := cmd.Flags().GetString("lang")

	req := types.Request{Query: strings.Join(args, " "), UserID: userID, Language: lang}
	if historyFile != "" {
		if err := readYAML(historyFile, &req.ConversationHistory); err != nil {
			return req, fmt.Errorf("reading history: %w", err)
		}
	}
	if profileFile != "" {
		req.Profile = &types.HealthProfile{}
		if err := readYAML(profileFile, req.Profile); err != nil {
			return req, fmt.Errorf("reading profile: %w", err)
		}
	}
	return req, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// streamJSON writes one envelope per line.
func streamJSON(w io.Writer, stream <-chan events.Envelope) error {
	enc := json.NewEncoder(w)
	var failed *events.Error
	for env := range stream {
		if err := enc.Encode(env); err != nil {
			return err
		}
		if e, ok := env.Payload.(events.Error); ok {
			failed = &e
		}
	}
	if failed != nil {
		return fmt.Errorf("%s", failed.Message)
	}
	return nil
}

// streamText prints the answer to out and a progress log to log.
func streamText(out, log io.Writer, stream <-chan events.Envelope) error {
	var failed *events.Error
	for env := range stream {
		switch ev := env.Payload.(type) {
		case events.TierSelected:
			fmt.Fprintf(log, "tier: %s (confidence %.2f) %s\n", ev.TierName, ev.Confidence, ev.Reasoning)
		case events.PlanningComplete:
			fmt.Fprintf(log, "plan: %s, focus on %s\n", ev.Plan.Strategy, strings.Join(ev.Plan.FocusAreas, ", "))
		case events.RoundStarted:
			fmt.Fprintf(log, "round %d (%s): %s\n", ev.Round, ev.Purpose, strings.Join(ev.Providers, ", "))
		case events.APICompleted:
			if !ev.Success {
				fmt.Fprintf(log, "  %s failed: %s\n", ev.Provider, ev.Error)
			}
		case events.RoundComplete:
			fmt.Fprintf(log, "round %d %s: %d new, %d total\n", ev.Round, ev.Status, ev.SourceCount, ev.CumulativeSources)
		case events.StoppingEvaluated:
			if ev.Decision.ShouldStop {
				fmt.Fprintf(log, "stopping: %s\n", ev.Decision.Reason)
			}
		case events.SourceSelectionComplete:
			fmt.Fprintf(log, "selected %d of %d sources\n", ev.Selected, ev.TotalEvaluated)
		case events.Token:
			fmt.Fprint(out, ev.Content)
		case events.VerificationComplete:
			printVerification(log, ev.Verification)
		case events.Complete:
			fmt.Fprintln(out)
			printSources(out, ev.Sources)
			if ev.ResearchSummary != nil && len(ev.ResearchSummary.Degradations) > 0 {
				fmt.Fprintf(log, "degraded: %s\n", strings.Join(ev.ResearchSummary.Degradations, "; "))
			}
			if s := ev.Metadata.Summary; s != nil {
				fmt.Fprintf(log, "%s in %s, %d tokens, $%.4f\n", s.Tier, s.TotalDuration.Round(1e6), s.TotalTokens, s.TotalCostUSD)
			}
		case events.Error:
			if ev.Partial {
				fmt.Fprintln(out)
				printSources(out, ev.Sources)
				if rs := ev.ResearchSummary; rs != nil {
					fmt.Fprintf(log, "partial answer from %d round(s), %d sources\n", rs.Rounds, rs.TotalSources)
				}
			}
			failed = &ev
		}
	}
	if failed != nil {
		return fmt.Errorf("%s", failed.Message)
	}
	return nil
}

func printSources(w io.Writer, refs []events.SourceRef) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, r := range refs {
		line := fmt.Sprintf("[%d] %s", r.Index, r.Title)
		if r.Year > 0 {
			line += fmt.Sprintf(" (%d)", r.Year)
		}
		if r.URL != "" {
			line += " " + r.URL
		}
		fmt.Fprintln(w, line)
	}
}

func printVerification(w io.Writer, v types.CitationVerification) {
	if !v.Available {
		fmt.Fprintf(w, "citation check unavailable: %s\n", v.Error)
		return
	}
	fmt.Fprintf(w, "citation accuracy %.2f over %d citation(s)\n", v.Score, len(v.Checks))
}

func init() {
	askCmd.Flags().String("history", "", "YAML file with prior conversation turns (role, content)")
	askCmd.Flags().String("profile", "", "YAML file with a health profile (conditions, medications, age, sex)")
	askCmd.Flags().String("user", "", "user id recorded with the journey")
	askCmd.Flags().String("lang", "", "answer language hint (e.g. en, tr)")
	askCmd.Flags().Bool("json", false, "write event envelopes as JSON lines")
	askCmd.Flags().Bool("dry-run", false, "use the scripted offline model instead of a real backend")

	rootCmd.AddCommand(askCmd)
}
