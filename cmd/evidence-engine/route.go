// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

var routeCmd = &cobra.Command{
	Use:   "route [question]",
	Short: "Classify a question into a processing tier without answering it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		a, err := newApp(buildOptions{dryRun: dryRun, noStore: true})
		if err != nil {
			return err
		}
		defer a.Close()

		q := types.Query{
			ID:         uuid.NewString(),
			Text:       strings.TrimSpace(req.Query),
			Language:   req.Language,
			History:    req.ConversationHistory,
			ReceivedAt: time.Now(),
		}
		d, err := a.router.Route(context.Background(), q)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(d)
	},
}

func init() {
	routeCmd.Flags().String("history", "", "YAML file with prior conversation turns (role, content)")
	routeCmd.Flags().String("profile", "", "YAML file with a health profile")
	routeCmd.Flags().String("user", "", "user id")
	routeCmd.Flags().String("lang", "", "language hint")
	routeCmd.Flags().Bool("json", false, "output the decision as JSON")
	routeCmd.Flags().Bool("dry-run", false, "use the scripted offline model")

	rootCmd.AddCommand(routeCmd)
}
