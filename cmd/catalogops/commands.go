package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nainya/catalogops/pkg/bulk"
	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/catalog/remote"
	"github.com/nainya/catalogops/pkg/export"
	"github.com/nainya/catalogops/pkg/filter"
	"github.com/nainya/catalogops/pkg/ingest"
	"github.com/nainya/catalogops/pkg/workspace"
)

// sortOrderStep spaces imported records so later inserts fit between them
const sortOrderStep = 10

type filterFlags struct {
	status   string
	itemType string
	from     string
	to       string
	search   string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "all, active or inactive")
	cmd.Flags().StringVar(&f.itemType, "type", "", "Item type, or all")
	cmd.Flags().StringVar(&f.from, "from", "", "Created on or after (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "Created on or before (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVarP(&f.search, "search", "q", "", "Free-text search")
}

func (f *filterFlags) criteria() (filter.Criteria, error) {
	v := url.Values{}
	for key, value := range map[string]string{
		"status": f.status,
		"type":   f.itemType,
		"from":   f.from,
		"to":     f.to,
		"q":      f.search,
	} {
		if value != "" {
			v.Set(key, value)
		}
	}
	return filter.ParseQuery(v)
}

// filteredWorkspace opens a workspace and applies the filter flags
func (a *app) filteredWorkspace(ctx context.Context, f *filterFlags, opts ...workspace.Option) (*workspace.Workspace, func(), error) {
	c, err := f.criteria()
	if err != nil {
		return nil, nil, err
	}
	w, closeFn, err := a.openWorkspace(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	if _, err := w.SetCriteria(c); err != nil {
		closeFn()
		return nil, nil, err
	}
	return w, closeFn, nil
}

func printRecords(out io.Writer, records []catalog.Record) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tCODE\tNAME\tTYPE\tSTATUS\tORDER\tCREATED")
	for i, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			i, r.ID, r.Code, r.Name, r.ItemType, r.StatusLabel(), r.SortOrder,
			r.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

func writePayload(dir string, p export.Payload) (string, error) {
	path := filepath.Join(dir, p.Filename)
	if err := os.WriteFile(path, p.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json|->",
		Short: "Insert or update records from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Backend.Address != "" {
				return errRemoteUnsupported
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var records []catalog.Record
			if err := json.NewDecoder(in).Decode(&records); err != nil {
				return fmt.Errorf("failed to decode records: %w", err)
			}

			ctx := cmd.Context()
			store, err := a.openLocal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			next, err := store.NextSortOrder(ctx, sortOrderStep)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			for i := range records {
				r := &records[i]
				if r.ID == "" {
					r.ID = uuid.NewString()
				}
				t, err := catalog.ParseItemType(string(r.ItemType))
				if err != nil {
					return fmt.Errorf("record %d (%s): %w", i, r.Code, err)
				}
				r.ItemType = t
				if r.SortOrder == 0 {
					r.SortOrder = next
					next += sortOrderStep
				}
				if r.CreatedAt.IsZero() {
					r.CreatedAt = now
				}
			}

			if err := store.Upsert(ctx, records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records\n", len(records))
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	var (
		f      filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the filtered item list in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, closeFn, err := a.filteredWorkspace(cmd.Context(), &f)
			if err != nil {
				return err
			}
			defer closeFn()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(w.Visible())
			}
			return printRecords(cmd.OutOrStdout(), w.Visible())
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func newBulkCommand(a *app) *cobra.Command {
	var (
		f      filterFlags
		all    bool
		span   string
		yes    bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "bulk <activate|deactivate|delete|export> [id...]",
		Short: "Apply an action to selected records",
		Long: "Selects the given ids (every visible record with --all, or a visible span with\n" +
			"--range) and applies the action.\n" +
			"Ids hidden by the filters are dropped from the selection. Delete needs --yes.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := bulk.ParseAction(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			w, closeFn, err := a.filteredWorkspace(ctx, &f)
			if err != nil {
				return err
			}
			defer closeFn()

			switch {
			case all:
				w.SelectAllVisible()
			case span != "":
				fromID, toID, ok := strings.Cut(span, ":")
				if !ok || !w.SelectRange(fromID, toID) {
					return fmt.Errorf("invalid range %q: want <from-id>:<to-id>, both visible", span)
				}
			default:
				visible := catalog.Index(w.Visible())
				for _, id := range args[1:] {
					if _, ok := visible[id]; !ok {
						fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: not in the filtered list\n", id)
						continue
					}
					if !w.Toggle(id) {
						w.Toggle(id)
					}
				}
			}

			if w.AllVisibleSelected() {
				fmt.Fprintf(cmd.ErrOrStderr(), "all %d visible records selected\n", len(w.Visible()))
			}

			res, err := w.RunBulk(ctx, kind, yes)
			if errors.Is(err, workspace.ErrConfirmationRequired) {
				return fmt.Errorf("%w: pass --yes to delete %d records", err, len(w.Selected()))
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Export != nil {
				path, err := writePayload(outDir, *res.Export)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s\n", path)
			}
			fmt.Fprintf(out, "%s: %s\n", kind, res.Summary())
			for _, failure := range res.Failed {
				fmt.Fprintf(out, "  %s: %v\n", failure.ID, failure.Err)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d records failed", len(res.Failed))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Select every visible record")
	cmd.Flags().StringVar(&span, "range", "", "Select the visible records between two ids, as <from-id>:<to-id>")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm destructive actions")
	cmd.Flags().StringVar(&outDir, "out", ".", "Directory for export files")
	return cmd
}

func newReorderCommand(a *app) *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "reorder <from> <to>",
		Short: "Move a record within the filtered list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid source index %q", args[0])
			}
			dst, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid destination index %q", args[1])
			}

			ctx := cmd.Context()
			w, closeFn, err := a.filteredWorkspace(ctx, &f)
			if err != nil {
				return err
			}
			defer closeFn()

			res, done, err := w.Reorder(ctx, src, dst)
			if err != nil {
				return err
			}
			if err := printRecords(cmd.OutOrStdout(), w.Visible()); err != nil {
				return err
			}

			// The list above is already committed; wait only to report the write
			if err := <-done; err != nil {
				return fmt.Errorf("new order shown but not saved (%d changes): %w", len(res.Deltas), err)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var (
		f      filterFlags
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the filtered list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format == "" {
				format = a.cfg.Bulk.ExportFormat
			}
			fmtKind, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			w, closeFn, err := a.filteredWorkspace(cmd.Context(), &f)
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := w.Export(fmtKind)
			if err != nil {
				return err
			}
			path, err := writePayload(outDir, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records to %s\n", len(w.Visible()), path)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&format, "format", "", "csv or spreadsheet (default from bulk.export_format)")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	return cmd
}

func newImageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "image <id> <path>",
		Short: "Attach an image file to a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Backend.Address != "" {
				return errRemoteUnsupported
			}

			file, err := ingest.OpenFile(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			w, closeFn, err := a.openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			enc, err := w.AttachImage(ctx, args[0], file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Attached %s (%s, %d bytes) to %s\n",
				file.Name(), enc.MIMEType, enc.Size, args[0])
			return nil
		},
	}
}

func newScanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Read scanner input from stdin and select matching records",
		Long: "Feeds stdin to the scan classifier one character at a time. Scanner\n" +
			"bursts search for the code and select an exact barcode or code match;\n" +
			"other lines are applied as debounced search text.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			w, closeFn, err := a.openWorkspace(cmd.Context(),
				workspace.WithScanHandler(func(code string, match *catalog.Record) {
					if match == nil {
						fmt.Fprintf(out, "%s: no exact match\n", code)
						return
					}
					fmt.Fprintf(out, "%s: selected %s %s\n", code, match.Code, match.Name)
				}),
			)
			if err != nil {
				return err
			}
			defer closeFn()

			// Keys also go to the search text, as they would in a focused search box
			var line []rune
			r := bufio.NewReader(cmd.InOrStdin())
			for {
				ch, _, err := r.ReadRune()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				if ch != '\n' && ch != '\r' {
					w.HandleKey(string(ch), time.Now())
					line = append(line, ch)
					w.SetSearchText(string(line))
					continue
				}

				if !w.HandleKey("Enter", time.Now()) && len(line) > 0 {
					if _, err := w.FlushSearch(); err != nil {
						return err
					}
					fmt.Fprintf(out, "search %q: %d visible\n", string(line), len(w.Visible()))
				}
				line = line[:0]
			}

			if sel := w.Selected(); len(sel) > 0 {
				fmt.Fprintf(out, "Selected: %s\n", strings.Join(sel, ", "))
			}
			return nil
		},
	}
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show uptime and per-method call counts of a remote item service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := a.cfg.Backend.Address
			if addr == "" {
				return errors.New("stats needs --backend")
			}
			client, conn, err := remote.Dial(addr, a.clientConfig(), a.log)
			if err != nil {
				return err
			}
			defer conn.Close()

			uptime, counts, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}

			methods := make([]string, 0, len(counts))
			for m := range counts {
				methods = append(methods, m)
			}
			sort.Strings(methods)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uptime: %s\n", uptime.Round(time.Second))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tCALLS")
			for _, m := range methods {
				fmt.Fprintf(tw, "%s\t%d\n", m, counts[m])
			}
			return tw.Flush()
		},
	}
}
