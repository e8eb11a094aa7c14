package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/api"
)

func newPushCmd() *cobra.Command {
	var (
		keepLocal bool
		useServer bool
	)

	cmd := &cobra.Command{
		Use:   "push [project-id]",
		Short: "Push pending local edits to the server",
		Long: `Flush the autosave buffer and push every queued edit immediately, without
waiting for the debounce window. Exits nonzero when the push fails or the
server rejects it with a version conflict.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd, args, keepLocal, useServer)
		},
	}

	cmd.Flags().BoolVar(&keepLocal, "keep-local", false, "keep the crashed session's local copy and push it")
	cmd.Flags().BoolVar(&useServer, "use-server", false, "discard the crashed session's local copy")
	cmd.MarkFlagsMutuallyExclusive("keep-local", "use-server")

	return cmd
}

func runPush(cmd *cobra.Command, args []string, keepLocal, useServer bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	rig, err := newSyncRig(ctx, cc)
	if err != nil {
		return err
	}
	defer rig.shutdown(ctx)

	projectID, err := resolveProjectID(ctx, cc, rig.store, args)
	if err != nil {
		return err
	}

	res, err := loadProject(ctx, rig, projectID, keepLocal, useServer)
	if err != nil {
		return fmt.Errorf("opening %s: %w", projectID, err)
	}

	depth, err := rig.mgr.QueueDepth(ctx)
	if err != nil {
		depth = 0
	}

	if !rig.mgr.Dirty() && depth == 0 && rig.mgr.Conflict() == nil {
		cc.Statusf("Nothing to push; %s is in sync at v%d.", projectID, res.Project.Version)
		return nil
	}

	if err := rig.mgr.Sync(ctx); err != nil {
		if errors.Is(err, api.ErrConflict) {
			if rec := rig.mgr.Conflict(); rec != nil {
				return fmt.Errorf("push rejected: server is at v%d, local edits are based on v%d; run 'plotsync resolve'",
					rec.ServerVersion, rec.LocalVersion)
			}

			return fmt.Errorf("push rejected with a version conflict; run 'plotsync resolve'")
		}

		return fmt.Errorf("pushing %s: %w", projectID, err)
	}

	// A paused or offline cycle queues instead of delivering; saying
	// "pushed" would be wrong on both.
	if rig.mgr.Paused() {
		queued, _ := rig.mgr.QueueDepth(ctx)
		cc.Statusf("Sync is paused; %d push(es) queued. Run 'plotsync resume' to send them.", queued)

		return nil
	}

	if reportOfflineQueue(ctx, cc, rig) {
		return nil
	}

	cc.Statusf("Pushed %s; server now at v%d.", projectID, rig.mgr.Project().Version)

	return nil
}
