package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitabwire/entitystore/model"
)

var (
	watchSearch   string
	watchFilters  []string
	watchSort     string
	watchPage     int
	watchPageSize int
	watchSeed     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <entity>",
	Short: "Follow a live list query",
	Long: `Watch drives a list store with a live query and prints every state
transition until interrupted. With a shared change feed (redis) it shows
changes made by other processes.

Example:
  entitystore watch tasks --filter completed=false
  entitystore watch products --q vitamin --sort -price --json`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchSearch, "q", "", "free-text search over searchable fields")
	watchCmd.Flags().StringArrayVar(&watchFilters, "filter", nil, "field filter as field=value (repeatable)")
	watchCmd.Flags().StringVar(&watchSort, "sort", "", "sort expression such as -price,name")
	watchCmd.Flags().IntVar(&watchPage, "page", 1, "page number")
	watchCmd.Flags().IntVar(&watchPageSize, "page-size", 0, "page size (default from metadata)")
	watchCmd.Flags().BoolVar(&watchSeed, "seed", false, "insert demo data first")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if watchSeed {
		if _, err := seedDemo(ctx, a, defaultSeedCount); err != nil {
			return err
		}
	}

	e, err := a.entity(ctx, args[0])
	if err != nil {
		return err
	}
	q, err := watchQuery(e.Metadata())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	unsubscribe := e.List.Subscribe(func(st model.ListState) {
		printListState(out, st)
	})
	defer unsubscribe()

	cancel, err := e.List.LiveQuery(ctx, &q, nil)
	if err != nil {
		return err
	}
	defer cancel()

	<-ctx.Done()
	return nil
}

func watchQuery(meta model.EntityMetadata) (model.QueryModel, error) {
	q := meta.InitialQuery()
	if watchPage > 0 {
		q.Page = watchPage
	}
	if watchPageSize > 0 {
		q.PageSize = watchPageSize
	}
	if watchSort != "" {
		q.Sort = model.ParseSort(watchSort)
	}
	q.SearchText = watchSearch
	for _, f := range watchFilters {
		field, value, ok := strings.Cut(f, "=")
		if !ok || field == "" {
			return q, fmt.Errorf("filter %q must be field=value", f)
		}
		if q.Filters == nil {
			q.Filters = make(map[string]any)
		}
		q.Filters[field] = value
	}
	q.Live = true
	return q, nil
}

type stateLine struct {
	model.ListState
	Error string `json:"error,omitempty"`
}

func printListState(out io.Writer, st model.ListState) {
	if flagJSON {
		line := stateLine{ListState: st}
		if st.Err != nil {
			line.Error = st.Err.Error()
		}
		b, _ := json.Marshal(line)
		fmt.Fprintln(out, string(b))
		return
	}

	switch {
	case st.Err != nil:
		fmt.Fprintf(out, "error: %v\n", st.Err)
		return
	case st.Loading:
		fmt.Fprintln(out, "loading...")
		return
	}

	fmt.Fprintf(out, "page %d (size %d), %d total\n", st.Page, st.PageSize, st.Total)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, it := range st.Items {
		fmt.Fprintf(tw, "  %s\t%s\n", it.ID(), summary(it))
	}
	_ = tw.Flush()
}

// summary renders the non-id fields of an entity in key order.
func summary(e model.Entity) string {
	fields := e.Clone()
	delete(fields, model.IDField)
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprint(map[string]any(fields))
	}
	return string(b)
}
