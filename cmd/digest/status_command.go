package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"digest/internal/registry"
)

const (
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every item in the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := registry.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var filter []registry.Status
			if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
				parsed, ok := registry.ParseStatus(trimmed)
				if !ok {
					return fmt.Errorf("unknown status %q", trimmed)
				}
				filter = append(filter, parsed)
			}

			items, err := store.List(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.ItemID,
					item.Source,
					statusLabel(item.Status, colorize),
					fmt.Sprintf("%d", item.Attempts),
					truncate(item.ErrorMessage, 48),
				})
			}

			fmt.Fprintln(out, renderTable(
				[]string{"ITEM", "SOURCE", "STATUS", "ATTEMPTS", "ERROR"},
				rows,
				4,
			))
			fmt.Fprintf(out, "%d items: %d pending, %d scraped, %d queued, %d summarizing, %d completed, %d failed, %d cancelled\n",
				stats.Total, stats.Pending, stats.Scraped, stats.Queued, stats.Summarizing,
				stats.Completed, stats.Failed, stats.Cancelled)
			return nil
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Only show items with this status")
	return cmd
}

func statusLabel(status registry.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	switch status {
	case registry.StatusCompleted:
		return ansiGreen + label + ansiReset
	case registry.StatusFailed:
		return ansiRed + label + ansiReset
	case registry.StatusSummarizing, registry.StatusQueued:
		return ansiYellow + label + ansiReset
	default:
		return label
	}
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
