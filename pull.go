package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/sync"
)

func newPullCmd() *cobra.Command {
	var (
		keepLocal bool
		useServer bool
	)

	cmd := &cobra.Command{
		Use:   "pull [project-id]",
		Short: "Fetch a project into the local cache",
		Long: `Open a project cache-first: the cached copy is served immediately and the
server copy is reconciled on top of it. When the previous session crashed
with unpushed edits, pull stops and asks which copy wins; pass --keep-local
or --use-server to answer without a prompt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd, args, keepLocal, useServer)
		},
	}

	cmd.Flags().BoolVar(&keepLocal, "keep-local", false, "keep the crashed session's local copy and push it")
	cmd.Flags().BoolVar(&useServer, "use-server", false, "discard the crashed session's local copy")
	cmd.MarkFlagsMutuallyExclusive("keep-local", "use-server")

	return cmd
}

func runPull(cmd *cobra.Command, args []string, keepLocal, useServer bool) error {
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
		return fmt.Errorf("pulling %s: %w", projectID, err)
	}

	name := res.Project.Name
	if name == "" {
		name = projectID
	}

	switch res.Source {
	case sync.SourceServer:
		cc.Statusf("Pulled %s at v%d.", name, res.Project.Version)
	default:
		cc.Statusf("Opened %s at v%d from the local cache; server not reached.", name, res.Project.Version)
	}

	return nil
}
