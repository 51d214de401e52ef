package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pocketdb/internal/config"
	"pocketdb/internal/snapshot"
	"pocketdb/pkg/workspace"
)

type rootOptions struct {
	configPath string
	driver     string
	path       string
	dsn        string
	format     string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "pocketdb",
		Short:         "Inspect pocketdb snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.format)
			}
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&opts.driver, "driver", "", "snapshot driver (file|sqlite|postgres|s3|badger)")
	flags.StringVar(&opts.path, "path", "", "snapshot file, sqlite database or badger directory")
	flags.StringVar(&opts.dsn, "dsn", "", "postgres DSN")
	flags.StringVar(&opts.format, "format", "text", "output format (text|json)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(newTypesCommand(opts), newDumpCommand(opts), newResetCommand(opts))
	return cmd
}

// open resolves configuration (file, environment, then flags) and opens a
// workspace without registering any type, so every table stays raw. strict
// turns unreadable snapshots into errors.
func (o *rootOptions) open(ctx context.Context, strict bool) (*workspace.Workspace, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.driver != "" {
		cfg.Driver = snapshot.Driver(o.driver)
	}
	if o.path != "" {
		cfg.Path = o.path
	}
	if o.dsn != "" {
		cfg.DSN = o.dsn
	}
	cfg.AsyncCommit = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := zap.NewNop()
	if o.verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	wopts := []workspace.Option{workspace.WithLogger(log)}
	if strict {
		wopts = append(wopts, workspace.WithStrictReload())
	}
	return workspace.OpenConfig(ctx, cfg, wopts...)
}

type typeSummary struct {
	Name    string `json:"name"`
	Rows    int    `json:"rows"`
	Counter int    `json:"counter"`
}

func newTypesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List stored types with row counts and identity counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer w.Close()
			snap, err := w.Snapshot()
			if err != nil {
				return err
			}
			var out []typeSummary
			for name, rows := range snap.Tables {
				out = append(out, typeSummary{Name: name, Rows: len(rows), Counter: snap.Counters[name]})
			}
			slices.SortFunc(out, func(a, b typeSummary) int { return cmp.Compare(a.Name, b.Name) })
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tROWS\tCOUNTER")
			for _, s := range out {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Name, s.Rows, s.Counter)
			}
			return tw.Flush()
		},
	}
}

type dumpRow struct {
	ID  int             `json:"id"`
	Row json.RawMessage `json:"row"`
}

func newDumpCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump TYPE",
		Short: "Print the stored rows of one type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer w.Close()
			snap, err := w.Snapshot()
			if err != nil {
				return err
			}
			rows, ok := snap.Tables[args[0]]
			if !ok {
				return fmt.Errorf("no rows stored for type %q", args[0])
			}
			ids := make([]int, 0, len(rows))
			for id := range rows {
				ids = append(ids, id)
			}
			slices.Sort(ids)
			out := make([]dumpRow, 0, len(ids))
			for _, id := range ids {
				out = append(out, dumpRow{ID: id, Row: rows[id]})
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			for _, r := range out {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", r.ID, r.Row)
			}
			return nil
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove the stored snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return errors.New("reset deletes every stored row; pass --force to confirm")
			}
			w, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer w.Close()
			if err := w.ResetDatabase(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "snapshot removed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
