package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"digest/internal/logging"
	"digest/internal/pipeline"
	"digest/internal/registry"
	"digest/internal/scheduler"
)

// manifest describes one batch of pre-scraped items.
type manifest struct {
	BatchID       string         `json:"batch_id"`
	ExpectedKinds []string       `json:"expected_kinds"`
	Items         []manifestItem `json:"items"`
}

type manifestItem struct {
	ID            string                     `json:"id"`
	Source        string                     `json:"source"`
	Contributions map[string]json.RawMessage `json:"contributions"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	var outputPath string

	cmd := &cobra.Command{
		Use:   "run <manifest.json>",
		Short: "Summarize a batch of scraped items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			batch, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			if len(batch.Items) == 0 {
				return fmt.Errorf("manifest %s contains no items", args[0])
			}

			lock := flock.New(filepath.Join(cfg.Paths.DataDir, "digest.lock"))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire run lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another digest run is already using %s", cfg.Paths.DataDir)
			}
			defer lock.Unlock()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			batchID := strings.TrimSpace(batch.BatchID)
			if batchID == "" {
				batchID = uuid.NewString()
			}

			out := cmd.OutOrStdout()
			p, err := pipeline.New(cfg,
				pipeline.WithLogger(logger),
				pipeline.WithBatchID(batchID),
				pipeline.WithExpectedKinds(batch.ExpectedKinds...),
				pipeline.WithProgressFunc(func(event scheduler.Event) {
					if event.Status == registry.StatusCompleted || event.Status == registry.StatusFailed {
						fmt.Fprintf(out, "%-12s %s\n", event.Status, event.ItemID)
					}
				}),
			)
			if err != nil {
				return err
			}
			defer p.Close()

			ids := make([]string, 0, len(batch.Items))
			sources := make(map[string]string, len(batch.Items))
			for _, item := range batch.Items {
				ids = append(ids, item.ID)
				if source := strings.TrimSpace(item.Source); source != "" {
					sources[item.ID] = source
				}
			}
			if err := p.RegisterExpectedItems(cmd.Context(), ids, sources); err != nil {
				return err
			}
			if err := p.Start(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(out, "Batch %s: %d items\n", batchID, len(batch.Items))
			for _, item := range batch.Items {
				kinds := make([]string, 0, len(item.Contributions))
				for kind := range item.Contributions {
					kinds = append(kinds, kind)
				}
				sort.Strings(kinds)
				for _, kind := range kinds {
					if err := p.OnPartial(cmd.Context(), item.ID, kind, item.Contributions[kind]); err != nil {
						return fmt.Errorf("submit %s/%s: %w", item.ID, kind, err)
					}
				}
				if err := p.MarkNoMoreExpected(item.ID); err != nil {
					return fmt.Errorf("release %s: %w", item.ID, err)
				}
			}

			done, err := p.WaitForCompletion(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if !done {
				return fmt.Errorf("batch did not finish within %s; run `digest status` to inspect", timeout)
			}

			stats, err := p.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Done: %d completed, %d failed, %d cancelled\n", stats.Completed, stats.Failed, stats.Cancelled)

			if outputPath != "" {
				if err := writeResults(cmd.Context(), p, outputPath); err != nil {
					return err
				}
				fmt.Fprintf(out, "Summaries written to %s\n", outputPath)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait for the batch")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write completed summaries to a JSON file")
	return cmd
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var batch manifest
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for i, item := range batch.Items {
		if strings.TrimSpace(item.ID) == "" {
			return nil, fmt.Errorf("manifest item %d has no id", i)
		}
	}
	return &batch, nil
}

func writeResults(ctx context.Context, p *pipeline.Pipeline, path string) error {
	data, err := p.SummarizedData(ctx)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summaries: %w", err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summaries: %w", err)
	}
	return nil
}
