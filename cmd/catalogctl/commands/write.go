package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/catalogops/catalog"
)

func newProgressCmd(flags *globalFlags) *cobra.Command {
	var (
		rec  catalog.ProgressRecord
		file string
	)
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Record listening progress",
		Long: `Record listening progress for one item (flags) or many (--file, a JSON
array of progress records, "-" for stdin). Records are coalesced into one
write and flushed before the command exits.`,
		Example: `  catalogctl progress --id p1 --item li_42 --time 1830 --duration 36000 --progress 0.05
  catalogctl progress --file progress.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var records []catalog.ProgressRecord
			if file != "" {
				if err := readJSON(cmd.InOrStdin(), file, &records); err != nil {
					return err
				}
			} else {
				records = []catalog.ProgressRecord{rec}
			}

			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				for _, r := range records {
					if err := a.svc.SyncProgress(ctx, r); err != nil {
						return fmt.Errorf("progress %s: %w", r.ID, err)
					}
				}
				if err := a.svc.FlushProgress(ctx); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, map[string]any{"written": len(records)})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&rec.ID, "id", "", "progress record id")
	f.StringVar(&rec.LibraryItemID, "item", "", "library item id")
	f.StringVar(&rec.EpisodeID, "episode", "", "episode id for podcasts")
	f.Float64Var(&rec.CurrentTime, "time", 0, "playback position in seconds")
	f.Float64Var(&rec.Duration, "duration", 0, "item duration in seconds")
	f.Float64Var(&rec.Progress, "progress", 0, "fraction complete (0-1)")
	f.BoolVar(&rec.IsFinished, "finished", false, "mark the item finished")
	f.StringVar(&file, "file", "", "JSON file of progress records (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("file", "id")
	cmd.MarkFlagsOneRequired("file", "id")
	return cmd
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <items.json>",
		Short: "Write library items in bulk",
		Long: `Write a JSON array of library items ("-" for stdin). The write is
all-or-nothing and invalidates cached listings, counts and searches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []catalog.Item
			if err := readJSON(cmd.InOrStdin(), args[0], &items); err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				if err := a.svc.BulkWrite(ctx, items); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, map[string]any{"written": len(items)})
			})
		},
	}
}

// readJSON decodes path, or stdin when path is "-", into v.
func readJSON(stdin io.Reader, path string, v any) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
