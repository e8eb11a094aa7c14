package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/internal/sync"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a plot file as the local copy and push it",
		Long: `Read an exchange-format JSON document, adopt it as the project's local
copy, and push it to the server. Pass "-" to read from stdin.

The file names its own project: a project already cached or on the
server is updated in place, an unknown one is created. The import is
saved locally first; if the server is unreachable the push stays
queued.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	imported, err := readPlotFile(args[0])
	if err != nil {
		return err
	}

	rig, err := newSyncRig(ctx, cc)
	if err != nil {
		return err
	}
	defer rig.shutdown(ctx)

	row, err := rig.store.LoadProject(ctx, imported.ID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", imported.ID, err)
	}

	created := row == nil

	// Nothing cached, but the server may still know the project. Probing
	// first keeps an import on a fresh machine an update, not a fork. An
	// unreachable server reads as a create; the queued push reconciles
	// once it comes back.
	if created {
		if _, _, probeErr := rig.client.GetProject(ctx, imported.ID); probeErr == nil {
			created = false
		}
	}

	if created {
		if err := seedImportedProject(ctx, rig, imported); err != nil {
			return err
		}
	}

	// The file is about to replace the local copy either way, so any
	// recovery decision settles on the server base: pushing from there
	// cannot collide.
	if _, err := loadProject(ctx, rig, imported.ID, false, true); err != nil {
		return err
	}

	sum := plot.Diff(rig.mgr.Project(), imported)

	changed, err := adoptImported(ctx, rig, imported)
	if err != nil {
		return err
	}

	switch {
	case created:
		cc.Statusf("Imported %s as new project %s.", args[0], imported.Name)
	case !changed:
		cc.Statusf("%s already matches the local copy of %s; nothing to import.", args[0], imported.Name)

		return nil
	default:
		cc.Statusf("Imported %s into %s: %d added, %d modified, %d removed.",
			args[0], imported.Name, sum.Added, sum.Modified, sum.Removed)
	}

	if err := rig.mgr.Sync(ctx); err != nil {
		return reportSyncFailure(ctx, cc, rig, imported.ID, err)
	}

	if rig.mgr.Paused() {
		cc.Statusf("Sync is paused; the import stays queued. Run 'plotsync resume' to push it.")

		return nil
	}

	if reportOfflineQueue(ctx, cc, rig) {
		return nil
	}

	cc.Statusf("Pushed %s; server now at v%d.", imported.Name, rig.mgr.Project().Version)

	return nil
}

// readPlotFile decodes an exchange-format document from a path or, for
// "-", from stdin.
func readPlotFile(path string) (*plot.Project, error) {
	var r io.Reader = os.Stdin

	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", path, err)
		}
		defer f.Close()

		r = f
	}

	p, err := plot.Decode(r)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// seedImportedProject writes the imported snapshot as a dirty version 0
// cache row so the manager has a local copy to adopt. Version 0 makes
// the first push a create.
func seedImportedProject(ctx context.Context, r *syncRig, imported *plot.Project) error {
	seed := imported.Clone()
	seed.Version = 0

	row, err := sync.NewCachedProject(seed, true)
	if err != nil {
		return err
	}

	if err := r.store.SaveProject(ctx, row); err != nil {
		return fmt.Errorf("caching imported project: %w", err)
	}

	return nil
}

// adoptImported replaces the loaded project's content with an imported
// snapshot and commits it. The cached version stays authoritative; the
// file's version field is whatever the export happened to capture.
// Returns false when the import matches the live copy and nothing was
// committed.
func adoptImported(ctx context.Context, r *syncRig, imported *plot.Project) (bool, error) {
	live := r.mgr.Project()
	if live == nil {
		return false, errors.New("no project loaded")
	}

	if imported.ID != live.ID {
		return false, fmt.Errorf("file holds project %s, but %s is loaded", imported.ID, live.ID)
	}

	if imported.Name == live.Name && plot.Diff(live, imported).Empty() {
		return false, nil
	}

	next := imported.Clone()
	next.Version = live.Version
	next.CreatedAt = live.CreatedAt
	next.UpdatedAt = plot.NowNano()
	*live = *next

	if err := r.mgr.MarkDirty(ctx); err != nil {
		return false, err
	}

	return true, nil
}
