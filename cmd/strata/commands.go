package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/internal/demo"
	"github.com/ajitpratap0/strata/pkg/archive"
	"github.com/ajitpratap0/strata/pkg/arrowexport"
	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/json"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/segment"
)

func newDemoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Write the users demo table and read it back",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			seg, err := demo.WriteUsers(ctx, a.store)
			if err != nil {
				return err
			}
			a.log.Info("demo segment published", zap.String("segment", seg.ID))

			d, err := a.store.OpenSegment(ctx, demo.UsersTable, seg.ID)
			if err != nil {
				return err
			}
			defer d.Close()
			return printRows(cmd.OutOrStdout(), d, nil)
		},
	}
}

func newTablesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.store.Tables()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tCOLUMNS\tSEGMENTS\tROWS")
			for _, name := range names {
				meta, err := a.store.Table(name)
				if err != nil {
					a.log.Warn("skipping unreadable table", zap.String("table", name), zap.Error(err))
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", name, len(meta.Columns), len(meta.Segments), meta.TotalRows())
			}
			return tw.Flush()
		},
	}
}

func newInspectCommand(a *app) *cobra.Command {
	var layout string
	cmd := &cobra.Command{
		Use:   "inspect <table>",
		Short: "Print a table catalog, or the physical layout of one segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := a.store.Table(args[0])
			if err != nil {
				return err
			}
			if layout == "" {
				return json.MarshalToWriter(cmd.OutOrStdout(), meta, true)
			}
			file, l, err := meta.Layout(layout)
			if err != nil {
				return err
			}
			return json.MarshalToWriter(cmd.OutOrStdout(), map[string]interface{}{
				"file":   file,
				"layout": l,
			}, true)
		},
	}
	cmd.Flags().StringVar(&layout, "layout", "", "Segment id whose physical layout to print")
	return cmd
}

func newReadCommand(a *app) *cobra.Command {
	var columns []string
	cmd := &cobra.Command{
		Use:   "read <table> <segment> [column...]",
		Short: "Print the rows of a segment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.store.OpenSegment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			defer d.Close()
			return printRows(cmd.OutOrStdout(), d, append(args[2:], columns...))
		},
	}
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to print (default all)")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var out, format, codec string
	cmd := &cobra.Command{
		Use:   "export <table> <segment>",
		Short: "Export a segment as an Arrow IPC or Parquet file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			timer := metrics.NewTimer(metrics.OpExport)
			defer func() { timer.ObserveDuration(err) }()

			algo, err := compression.ParseAlgorithm(codec)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("%s-%s.%s", args[0], args[1], format)
			}

			d, err := a.store.OpenSegment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			defer d.Close()

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()

			switch strings.ToLower(format) {
			case "arrow", "ipc":
				err = arrowexport.WriteIPC(f, d)
			case "parquet":
				err = arrowexport.WriteParquet(f, d, algo)
			default:
				err = fmt.Errorf("unknown export format %q", format)
			}
			if err != nil {
				_ = os.Remove(out)
				return err
			}
			a.log.Info("segment exported", zap.String("path", out), zap.String("format", format))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default <table>-<segment>.<format>)")
	cmd.Flags().StringVarP(&format, "format", "f", "arrow", "Output format (arrow, parquet)")
	cmd.Flags().StringVar(&codec, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd, lz4)")
	return cmd
}

func newColumnsCommand(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "columns <table> <segment>",
		Short: "Write one plain file per column of a segment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.store.OpenSegment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			defer d.Close()
			if out == "" {
				out = filepath.Join(".", args[0]+"-"+args[1])
			}
			files, err := segment.ExportColumnFiles(d, out)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (default ./<table>-<segment>)")
	return cmd
}

func newArchiveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy segments to and from object storage",
	}
	archiver := func(cmd *cobra.Command) (*archive.Archiver, func(), error) {
		store, err := archive.NewStore(cmd.Context(), a.cfg.Archive)
		if err != nil {
			return nil, nil, err
		}
		comps, err := compression.NewCompressorPool(a.cfg.CompressionConfig())
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		arc, err := archive.New(a.store, store, comps, archive.WithLogger(a.log))
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return arc, func() { _ = store.Close() }, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "push <table> <segment>",
		Short: "Upload a published segment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arc, done, err := archiver(cmd)
			if err != nil {
				return err
			}
			defer done()
			key, err := arc.Push(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pull <table> <segment>",
		Short: "Restore an archived segment into the data directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arc, done, err := archiver(cmd)
			if err != nil {
				return err
			}
			defer done()
			return arc.Pull(cmd.Context(), args[0], args[1])
		},
	})
	return cmd
}

// columnNames returns the requested columns, or all of them.
func columnNames(table *catalog.TableMetadata, want []string) []string {
	if len(want) > 0 {
		return want
	}
	names := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		names[i] = c.Name
	}
	return names
}
