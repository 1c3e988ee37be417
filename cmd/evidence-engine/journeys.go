// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/journey"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

var journeysCmd = &cobra.Command{
	Use:   "journeys",
	Short: "Inspect recorded journeys (list, show, export, providers)",
	Long: `Journeys reads the SQLite journey store written by ask and serve.
Each journey records routing, plan, rounds, provider calls, reflections,
stopping decisions, ranking, synthesis, and citation verification.`,
}

// --- list subcommand ---

var journeysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent journeys, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.List(context.Background(), journey.ListOptions{
			UserID: userID,
			Status: types.JourneyStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No journeys recorded.")
			return nil
		}

		fmt.Fprintf(os.Stdout, "%-36s  %-10s  %-9s  %-40s  %6s  %7s  %s\n",
			"Request", "Tier", "Status", "Query", "Rounds", "Sources", "Duration")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 130))
		for _, e := range entries {
			q := e.Query
			if len(q) > 40 {
				q = q[:37] + "..."
			}
			fmt.Fprintf(os.Stdout, "%-36s  %-10s  %-9s  %-40s  %6d  %7d  %s\n",
				e.RequestID, e.Tier, e.Status, q, e.Rounds, e.Sources, e.Duration.Round(1e6))
		}
		fmt.Fprintf(os.Stdout, "\n%d journeys\n", len(entries))
		return nil
	},
}

// --- show subcommand ---

var journeysShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show a journey's summary, bottlenecks, and recommendations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		j, err := store.Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		s := journey.Summarize(j)

		fmt.Printf("Request:   %s\n", s.RequestID)
		fmt.Printf("Query:     %s\n", j.Query.Text)
		fmt.Printf("Tier:      %s\n", s.Tier)
		fmt.Printf("Status:    %s\n", j.Status)
		fmt.Printf("Duration:  %s\n", s.TotalDuration.Round(1e6))
		fmt.Printf("Cost:      $%.4f (%d tokens)\n", s.TotalCostUSD, s.TotalTokens)
		fmt.Printf("Rounds:    %d (%d calls, %d failed)\n", s.Rounds, s.APICalls, s.FailedAPICalls)
		fmt.Printf("Sources:   %d collected, %d selected\n", s.Sources, s.SelectedSources)
		if s.CitationScore >= 0 {
			fmt.Printf("Citations: %.2f accuracy\n", s.CitationScore)
		}
		for _, b := range s.Bottlenecks {
			fmt.Printf("Bottleneck [%s]: %s\n", b.Stage, b.Detail)
		}
		for _, r := range s.Recommendations {
			fmt.Printf("Recommend: %s\n", r)
		}
		return nil
	},
}

// --- export subcommand ---

var journeysExportCmd = &cobra.Command{
	Use:   "export <request-id>",
	Short: "Export a journey to YAML, JSON, or CSL-YAML (selected sources)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		j, err := store.Get(context.Background(), args[0])
		if err != nil {
			return err
		}

		w := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}
		if err := journey.Write(w, j, format); err != nil {
			return err
		}
		if output != "" {
			fmt.Fprintf(os.Stderr, "Exported to %s\n", output)
		}
		return nil
	},
}

// --- providers subcommand ---

var journeysProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show per-provider call counts, failures, and mean latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.ProviderStats(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%-18s  %6s  %8s  %s\n", "Provider", "Calls", "Failures", "Avg latency")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 52))
		for _, p := range stats {
			fmt.Fprintf(os.Stdout, "%-18s  %6d  %8d  %.0fms\n", p.Provider, p.Calls, p.Failures, p.AvgLatencyMS)
		}
		return nil
	},
}

func init() {
	journeysListCmd.Flags().String("user", "", "filter by user id")
	journeysListCmd.Flags().String("status", "", "filter by status: completed, partial, failed, cancelled, timed_out")
	journeysListCmd.Flags().Int("limit", 0, "maximum journeys (0 = default)")
	journeysListCmd.Flags().Bool("json", false, "output as JSON")

	journeysExportCmd.Flags().String("format", journey.FormatYAML, "export format: yaml, json, or csl")
	journeysExportCmd.Flags().String("output", "", "write to a file instead of stdout")

	journeysCmd.AddCommand(journeysListCmd)
	journeysCmd.AddCommand(journeysShowCmd)
	journeysCmd.AddCommand(journeysExportCmd)
	journeysCmd.AddCommand(journeysProvidersCmd)

	rootCmd.AddCommand(journeysCmd)
}
