package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/importdoc"
	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/store"
	"github.com/c0deZ3R0/listsync/synckit"
)

func newImportCmd(app *App) *cobra.Command {
	var (
		mode     string
		strategy string
		format   string
		dryRun   bool
		d        decider
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge an import document into the local store",
		Long: `Merge an import document into the local store.

Every field that differs from the local copy is a conflict, because an
import carries no common baseline. Conflicts are asked about one by one
unless --prefer, --strategy or --yes settle them. Use "-" to read stdin
together with --format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := d.validate(); err != nil {
				return err
			}
			mm := reconcile.MergeMode(mode)
			if mm != reconcile.MergeModeMerge && mm != reconcile.MergeModeReplace {
				return errors.WrapOpComponentKind(fmt.Errorf("--mode must be merge or replace, got %q", mode),
					string(errors.OpConfig), "cli", errors.KindInvalid)
			}

			doc, err := readDocument(cmd.InOrStdin(), args[0], format)
			if err != nil {
				return err
			}

			opts := []synckit.Option{synckit.WithLogger(app.Logger)}
			if strategy != "" {
				opts = append(opts, synckit.WithStrategyName(strategy))
			}

			return app.withStore(cmd.Context(), func(st store.Store) error {
				im, err := synckit.NewImporter(st, opts...)
				if err != nil {
					return err
				}
				session, err := im.PlanDocument(cmd.Context(), doc, mm)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				renderPreview(out, session.Preview())
				if dryRun {
					return nil
				}

				d.in, d.out = cmd.InOrStdin(), out
				resp, err := d.respond(session.Plan.Pending())
				if err != nil {
					return err
				}
				res, err := session.Respond(cmd.Context(), resp)
				if errors.IsKind(err, errors.KindCancelled) {
					fmt.Fprintln(out, dim("Import cancelled, nothing changed."))
					return nil
				}
				if err != nil {
					return err
				}
				renderApplied(out, res)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(reconcile.MergeModeMerge), "merge keeps local-only entities, replace archives or removes them")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Resolve conflicts with lastWriteWins, serverWins or clientWins instead of asking")
	cmd.Flags().StringVar(&format, "format", "", "Document format (json|yaml); default from the file extension")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the plan without applying it")
	cmd.Flags().StringVar(&d.prefer, "prefer", "", "Settle every conflict for one side (local|incoming)")
	cmd.Flags().BoolVarP(&d.yes, "yes", "y", false, "Apply without asking; open conflicts fall back to last write wins")
	return cmd
}

func readDocument(stdin io.Reader, path, format string) (*importdoc.Document, error) {
	f, err := documentFormat(path, format)
	if err != nil {
		return nil, err
	}
	if path == "-" {
		return importdoc.Decode(stdin, f)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewValidationError(errors.OpImport, err)
	}
	defer file.Close()
	return importdoc.Decode(file, f)
}

func documentFormat(path, format string) (importdoc.Format, error) {
	switch importdoc.Format(format) {
	case importdoc.FormatJSON, importdoc.FormatYAML:
		return importdoc.Format(format), nil
	case "":
		if path == "-" {
			return importdoc.FormatJSON, nil
		}
		return importdoc.FormatFromPath(path)
	}
	return "", errors.WrapOpComponentKind(fmt.Errorf("--format must be json or yaml, got %q", format),
		string(errors.OpConfig), "cli", errors.KindInvalid)
}
