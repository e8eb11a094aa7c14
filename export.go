package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/plot"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the cached project to a plot file",
		Long: `Write the project's cached local copy as an exchange-format JSON
document. Pass "-" to write to stdout.

The export reflects the local copy, including edits that have not been
pushed yet. Use --project to export something other than the active
project.`,
		Args: cobra.ExactArgs(1),
		RunE: runExport,
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	target := args[0]

	store, err := openStore(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	projectID, err := resolveProjectID(ctx, cc, store, nil)
	if err != nil {
		return err
	}

	row, err := store.LoadProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}

	if row == nil {
		return fmt.Errorf("no cached copy of %s; run 'plotsync pull' first", projectID)
	}

	p, err := row.Project()
	if err != nil {
		return fmt.Errorf("decode cached copy: %w", err)
	}

	if target == "-" {
		return plot.Encode(os.Stdout, p)
	}

	if err := writePlotFile(target, p); err != nil {
		return err
	}

	cc.Statusf("Exported %s (v%d) to %s.", p.Name, row.Version, target)

	return nil
}

// writePlotFile encodes to target.partial and renames into place, so a
// watching editor or daemon only ever sees complete documents.
func writePlotFile(target string, p *plot.Project) error {
	partial := target + ".partial"

	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("creating %q: %w", partial, err)
	}

	if err := plot.Encode(f, p); err != nil {
		f.Close()
		os.Remove(partial)

		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(partial)

		return fmt.Errorf("writing %q: %w", partial, err)
	}

	if err := os.Rename(partial, target); err != nil {
		return fmt.Errorf("renaming export to %q: %w", target, err)
	}

	return nil
}
