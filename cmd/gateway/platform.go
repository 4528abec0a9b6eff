package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamline/gateway/internal/config"
	"github.com/streamline/gateway/internal/platform"
)

var platformJSONOutput bool

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Inspect configured streaming platform adapters",
	Long:  "List registered platform adapters and their rate-limit/circuit-breaker configuration without starting the server.",
}

func init() {
	platformCmd.PersistentFlags().BoolVar(&platformJSONOutput, "json", false, "Output in JSON format")
	platformCmd.AddCommand(platformListCmd)
}

var platformListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured platforms",
	Args:  cobra.NoArgs,
	RunE:  runPlatformList,
}

func runPlatformList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The platform set is closed (internal/platform.AllPlatformIDs), so
	// listing it needs no adapters built and no registry populated —
	// unlike the teacher's store subcommand, which had to enumerate
	// whatever store ids happened to exist on disk.
	ids := platform.AllPlatformIDs()
	registered := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := cfg.Platforms[string(id)]; ok {
			registered = append(registered, string(id))
		}
	}
	sort.Strings(registered)

	if platformJSONOutput {
		items := make([]map[string]any, len(registered))
		for i, id := range registered {
			pc := cfg.Platforms[id]
			items[i] = map[string]any{
				"id":                id,
				"base_url":          pc.BaseURL,
				"rate_quota":        pc.RateLimit.Quota,
				"rate_window":       time.Duration(pc.RateLimit.Window).String(),
				"breaker_threshold": pc.Breaker.FailureThreshold,
				"breaker_cooldown":  time.Duration(pc.Breaker.Cooldown).String(),
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"platforms": items,
			"total":     len(items),
		})
	}

	if len(registered) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No platforms configured.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tBASE URL\tQUOTA/WINDOW\tBREAKER THRESHOLD\tCOOLDOWN")
	for _, id := range registered {
		pc := cfg.Platforms[id]
		fmt.Fprintf(w, "%s\t%s\t%d/%s\t%d\t%s\n",
			id, pc.BaseURL, pc.RateLimit.Quota, time.Duration(pc.RateLimit.Window).String(),
			pc.Breaker.FailureThreshold, time.Duration(pc.Breaker.Cooldown).String())
	}
	w.Flush()

	return nil
}

// printJSON marshals v to JSON and writes it indented to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
