package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"digest/internal/registry"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var itemID string

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print stored summaries as JSON",
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

			data, err := store.SummarizedData(cmd.Context())
			if err != nil {
				return err
			}

			if itemID != "" {
				summary, ok := data[itemID]
				if !ok {
					return fmt.Errorf("no summary stored for item %q", itemID)
				}
				data = map[string]json.RawMessage{itemID: summary}
			}

			encoded, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return fmt.Errorf("encode summaries: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVarP(&itemID, "item", "i", "", "Only print the summary for one item")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <item-id>...",
		Short: "Cancel items that have not finished summarizing",
		Args:  cobra.MinimumNArgs(1),
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

			out := cmd.OutOrStdout()
			for _, id := range args {
				cancelled, err := store.CancelPending(cmd.Context(), id)
				if err != nil {
					return err
				}
				if cancelled {
					fmt.Fprintf(out, "cancelled %s\n", id)
					continue
				}
				requested, err := store.RequestCancel(cmd.Context(), id)
				if err != nil {
					return err
				}
				if requested {
					fmt.Fprintf(out, "cancel requested for %s (summarization in flight)\n", id)
				} else {
					fmt.Fprintf(out, "%s cannot be cancelled (already terminal or unknown)\n", id)
				}
			}
			return nil
		},
	}
}
