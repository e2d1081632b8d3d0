package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/catalogops/catalog"
)

// filterFlags binds the listing filter flags.
type filterFlags struct {
	mediaType string
	finished  string
	series    string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mediaType, "media-type", "", "only items of this media type (book|podcast)")
	cmd.Flags().StringVar(&f.finished, "finished", "", "only finished (true) or unfinished (false) items")
	cmd.Flags().StringVar(&f.series, "series", "", "only items whose series matches")
}

func (f *filterFlags) filter() (catalog.Filter, error) {
	out := catalog.Filter{MediaType: f.mediaType, Series: f.series}
	if f.finished != "" {
		b, err := strconv.ParseBool(f.finished)
		if err != nil {
			return catalog.Filter{}, fmt.Errorf("--finished: %w", err)
		}
		out.IsFinished = &b
	}
	return out, nil
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var (
		q  catalog.ListQuery
		ff filterFlags
	)
	cmd := &cobra.Command{
		Use:   "list <library-id>",
		Short: "List one page of a library's items",
		Example: `  catalogctl list lib_main --limit 20 --sort title
  catalogctl list lib_main --finished=false --desc -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			q.LibraryID = args[0]
			q.Filter = filter
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				page, err := a.svc.ListItems(ctx, q)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, pageView{Page: page})
			})
		},
	}
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "number of items to skip")
	cmd.Flags().IntVar(&q.Limit, "limit", catalog.DefaultListLimit, "page size")
	cmd.Flags().StringVar(&q.Sort, "sort", catalog.SortAddedAt, "sort field (addedAt|title|author|duration)")
	cmd.Flags().BoolVar(&q.Desc, "desc", false, "sort descending")
	ff.bind(cmd)
	return cmd
}

func newCountCmd(flags *globalFlags) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "count <library-id>",
		Short: "Count a library's items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				n, err := a.svc.ItemCount(ctx, args[0], filter)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, map[string]any{"library_id": args[0], "count": n})
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var q catalog.SearchQuery
	cmd := &cobra.Command{
		Use:   "search <library-id> <query>",
		Short: "Search a library by title, author, series, narrator or genre",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.LibraryID = args[0]
			q.Query = args[1]
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				results, err := a.svc.Search(ctx, q)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, searchTable(results))
			})
		},
	}
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "number of results to skip")
	cmd.Flags().IntVar(&q.Limit, "limit", catalog.DefaultSearchLimit, "maximum results")
	return cmd
}

func newRecentCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recently played items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				items, err := a.svc.RecentlyPlayed(ctx, limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, itemTable(items))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", catalog.DefaultRecentlyPlayedLimit, "maximum items")
	return cmd
}

func newFetchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <item-id>...",
		Short: "Fetch items by id, in the order given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				items, err := a.svc.BatchFetch(ctx, args)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, itemTable(items))
			})
		},
	}
}
