package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/sync"
)

func newResolveCmd() *cobra.Command {
	var (
		acceptServer bool
		keepLocal    bool
	)

	cmd := &cobra.Command{
		Use:   "resolve [conflict-id]",
		Short: "Settle a version conflict",
		Long: `Settle an open version conflict one of two ways:

  --accept-server  Adopt the server copy; local edits are discarded.
  --keep-local     Force-push the local copy over the server's (last
                   write wins).

Without a flag, an interactive picker shows both versions and the diff
summary. The argument may be a conflict ID, an ID prefix, or a project
ID; with exactly one open conflict it can be omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args, acceptServer, keepLocal)
		},
	}

	cmd.Flags().BoolVar(&acceptServer, "accept-server", false, "adopt the server copy, discarding local edits")
	cmd.Flags().BoolVar(&keepLocal, "keep-local", false, "force-push the local copy over the server's")
	cmd.MarkFlagsMutuallyExclusive("accept-server", "keep-local")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string, acceptServer, keepLocal bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	rig, err := newSyncRig(ctx, cc)
	if err != nil {
		return err
	}
	defer rig.shutdown(ctx)

	key := ""
	if len(args) > 0 {
		key = args[0]
	}

	target, err := pickOpenConflict(ctx, rig, key)
	if err != nil {
		return err
	}

	// Load restores the open conflict into the manager alongside the
	// cached copy.
	if _, err := rig.mgr.Load(ctx, target.ProjectID); err != nil {
		return fmt.Errorf("opening %s: %w", target.ProjectID, err)
	}

	if rig.mgr.Conflict() == nil {
		return fmt.Errorf("conflict %s is no longer open", truncateID(target.ID))
	}

	if !acceptServer && !keepLocal {
		if !stdoutIsTTY() {
			return fmt.Errorf("pass --accept-server or --keep-local (no terminal to ask on)")
		}

		acceptServer, err = promptResolutionChoice(target)
		if err != nil {
			return err
		}
	}

	if acceptServer {
		if err := rig.mgr.AcceptServer(ctx); err != nil {
			return fmt.Errorf("adopting server copy: %w", err)
		}

		cc.Statusf("Adopted server copy of %s at v%d; local edits discarded.",
			target.ProjectID, rig.mgr.Project().Version)

		return nil
	}

	if err := rig.mgr.KeepLocal(ctx); err != nil {
		if errors.Is(err, api.ErrConflict) {
			if rec := rig.mgr.Conflict(); rec != nil {
				return fmt.Errorf("the server moved again (now v%d); the conflict stays open with refreshed versions, rerun resolve",
					rec.ServerVersion)
			}
		}

		return fmt.Errorf("force-pushing local copy: %w", err)
	}

	cc.Statusf("Kept local copy of %s; server now at v%d.",
		target.ProjectID, rig.mgr.Project().Version)

	return nil
}

// pickOpenConflict selects the conflict to settle: by key when given,
// otherwise the only open one.
func pickOpenConflict(ctx context.Context, r *syncRig, key string) (*sync.ConflictRecord, error) {
	records, err := r.store.ListConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}

	open := records[:0]

	for _, rec := range records {
		if rec.Open() {
			open = append(open, rec)
		}
	}

	if len(open) == 0 {
		return nil, fmt.Errorf("no open conflicts")
	}

	if key == "" {
		if len(open) == 1 {
			return open[0], nil
		}

		ids := make([]string, len(open))
		for i, rec := range open {
			ids[i] = truncateID(rec.ID)
		}

		return nil, fmt.Errorf("%d conflicts are open (%s); name one", len(open), strings.Join(ids, ", "))
	}

	return findConflict(open, key)
}

// findConflict matches by exact conflict ID, exact project ID, then ID
// prefix. A prefix hitting more than one record is an error rather than
// a guess.
func findConflict(open []*sync.ConflictRecord, key string) (*sync.ConflictRecord, error) {
	for _, rec := range open {
		if rec.ID == key || rec.ProjectID == key {
			return rec, nil
		}
	}

	var match *sync.ConflictRecord

	for _, rec := range open {
		if strings.HasPrefix(rec.ID, key) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous conflict ID prefix %q, provide more characters", key)
			}

			match = rec
		}
	}

	if match == nil {
		return nil, fmt.Errorf("no open conflict matches %q", key)
	}

	return match, nil
}

// promptResolutionChoice asks which copy survives. Returns true to
// accept the server copy.
func promptResolutionChoice(rec *sync.ConflictRecord) (bool, error) {
	acceptServer := false

	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[bool]().
			Title(fmt.Sprintf("Version conflict on %s", rec.ProjectID)).
			Description(fmt.Sprintf("local v%d vs server v%d; drift +%d ~%d -%d",
				rec.LocalVersion, rec.ServerVersion,
				rec.Diff.Added, rec.Diff.Modified, rec.Diff.Removed)).
			Options(
				huh.NewOption("Keep local copy and overwrite the server", false),
				huh.NewOption("Accept the server copy, discard local edits", true),
			).
			Value(&acceptServer),
	))

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("resolution aborted: %w", err)
	}

	return acceptServer, nil
}
