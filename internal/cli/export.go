package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/importdoc"
	"github.com/c0deZ3R0/listsync/store"
)

func newExportCmd(app *App) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the local store as an import document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := documentFormat(path, format)
			if err != nil {
				return err
			}

			return app.withStore(cmd.Context(), func(st store.Store) error {
				snap, err := st.Snapshot(cmd.Context())
				if err != nil {
					return errors.NewStorageError(errors.OpExport, err)
				}
				doc := importdoc.FromSnapshot(snap, time.Now().UTC())

				if path == "-" {
					return importdoc.Encode(cmd.OutOrStdout(), doc, f)
				}
				file, err := os.Create(path)
				if err != nil {
					return errors.New(errors.OpExport, err)
				}
				if err := importdoc.Encode(file, doc, f); err != nil {
					file.Close()
					return err
				}
				if err := file.Close(); err != nil {
					return errors.New(errors.OpExport, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s exported %d list(s), %d item(s), %d image(s) to %s\n",
					success("✓"), len(snap.Lists), len(snap.Items), len(snap.Images), path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Document format (json|yaml); default from the file extension")
	return cmd
}
