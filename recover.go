package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/sync"
)

func newRecoverCmd() *cobra.Command {
	var (
		list    bool
		restore string
		discard bool
	)

	cmd := &cobra.Command{
		Use:   "recover [project-id]",
		Short: "Inspect and restore autosave snapshots",
		Long: `Inspect what a crashed session left behind and restore from the autosave
snapshot ring.

Run bare after a crash for a report and an interactive offer to restore
the latest snapshot. --list shows the ring, --restore stages a snapshot
(latest, or by ID) as the local copy without pushing it, --discard
deletes the project's snapshots.

A restored snapshot is staged dirty: the next pull or push settles it
against the server copy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, args, recoverOpts{
				list:       list,
				restore:    restore,
				restoreSet: cmd.Flags().Changed("restore"),
				discard:    discard,
			})
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list the project's recovery snapshots")
	cmd.Flags().StringVar(&restore, "restore", "", "restore a snapshot by ID, or the latest when empty")
	cmd.Flags().Lookup("restore").NoOptDefVal = "latest"
	cmd.Flags().BoolVar(&discard, "discard", false, "delete the project's recovery snapshots")
	cmd.MarkFlagsMutuallyExclusive("list", "restore", "discard")

	return cmd
}

type recoverOpts struct {
	list       bool
	restore    string
	restoreSet bool
	discard    bool
}

func runRecover(cmd *cobra.Command, args []string, opts recoverOpts) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	// A throwaway id matches no stored session, so this reads the crash
	// evidence without consuming it.
	report, err := store.DetectCrashedSession(ctx, uuid.NewString())
	if err != nil {
		cc.Logger.Warn("reading session state", "error", err)
	}

	projectID, err := recoverProjectID(ctx, cc, store, args, report)
	if err != nil {
		return err
	}

	switch {
	case opts.list:
		return listSnapshots(ctx, cc, store, projectID)
	case opts.restoreSet:
		return restoreSnapshot(ctx, cc, store, projectID, opts.restore)
	case opts.discard:
		return discardSnapshots(ctx, cc, store, projectID)
	default:
		return interactiveRecover(ctx, cc, store, projectID, report)
	}
}

// recoverProjectID prefers the crashed session's project, then falls
// back to the usual resolution order.
func recoverProjectID(ctx context.Context, cc *CLIContext, store *sync.SQLiteStore, args []string, report *sync.CrashReport) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}

	if report != nil && report.ProjectID != "" {
		return report.ProjectID, nil
	}

	return resolveProjectID(ctx, cc, store, nil)
}

func listSnapshots(ctx context.Context, cc *CLIContext, store *sync.SQLiteStore, projectID string) error {
	snaps, err := store.ListRecoverySnapshots(ctx, projectID)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}

	if len(snaps) == 0 {
		cc.Statusf("No recovery snapshots for %s.", projectID)

		return nil
	}

	headers := []string{"ID", "CAPTURED", "VERSION", "OBJECTS", "SESSION"}
	rows := make([][]string, len(snaps))

	for i, snap := range snaps {
		version, objects := "?", "?"

		if p, err := snap.Project(); err == nil {
			version = fmt.Sprintf("v%d", p.Version)
			objects = fmt.Sprintf("%d", p.ObjectCount())
		}

		rows[i] = []string{
			truncateID(snap.ID),
			formatNano(snap.CapturedAt),
			version,
			objects,
			truncateID(snap.SessionID),
		}
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

// restoreSnapshot stages a snapshot as the project's local copy. The
// row is written dirty and nothing is pushed; reconciling against the
// server stays a separate, deliberate step.
func restoreSnapshot(ctx context.Context, cc *CLIContext, store *sync.SQLiteStore, projectID, key string) error {
	snaps, err := store.ListRecoverySnapshots(ctx, projectID)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}

	if len(snaps) == 0 {
		return fmt.Errorf("no recovery snapshots for %s", projectID)
	}

	target := snaps[0]

	if key != "" && key != "latest" {
		target = nil

		for _, snap := range snaps {
			if snap.ID == key || strings.HasPrefix(snap.ID, key) {
				if target != nil {
					return fmt.Errorf("ambiguous snapshot ID prefix %q, provide more characters", key)
				}

				target = snap
			}
		}

		if target == nil {
			return fmt.Errorf("no snapshot matches %q; 'plotsync recover --list' shows them", key)
		}
	}

	p, err := target.Project()
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", truncateID(target.ID), err)
	}

	cp, err := sync.NewCachedProject(p, true)
	if err != nil {
		return fmt.Errorf("staging snapshot: %w", err)
	}

	if err := store.SaveProject(ctx, cp); err != nil {
		return fmt.Errorf("staging snapshot: %w", err)
	}

	cc.Statusf("Restored snapshot %s (captured %s) as the local copy of %s at v%d, unpushed.",
		truncateID(target.ID), formatNano(target.CapturedAt), projectID, p.Version)
	cc.Statusf("Run 'plotsync push' to send it, or 'plotsync pull' to compare with the server first.")

	return nil
}

func discardSnapshots(ctx context.Context, cc *CLIContext, store *sync.SQLiteStore, projectID string) error {
	if err := store.DeleteRecoverySnapshots(ctx, projectID); err != nil {
		return fmt.Errorf("discarding snapshots: %w", err)
	}

	cc.Statusf("Discarded recovery snapshots for %s.", projectID)

	return nil
}

// interactiveRecover reports the crash (when there is one) and offers
// to restore the latest snapshot.
func interactiveRecover(ctx context.Context, cc *CLIContext, store *sync.SQLiteStore, projectID string, report *sync.CrashReport) error {
	snaps, err := store.ListRecoverySnapshots(ctx, projectID)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}

	printCrashSummary(cc, projectID, report, snaps)

	if len(snaps) == 0 {
		return nil
	}

	if !stdoutIsTTY() {
		cc.Statusf("Rerun with --restore to stage the latest snapshot, or --list to inspect them.")

		return nil
	}

	latest := snaps[0]

	restoreIt := false
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("Restore the latest snapshot of %s?", projectID)).
		Description(fmt.Sprintf("captured %s; the current local copy is replaced and left unpushed", formatNano(latest.CapturedAt))).
		Affirmative("Restore").
		Negative("Leave as is").
		Value(&restoreIt)

	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		return fmt.Errorf("recovery aborted: %w", err)
	}

	if !restoreIt {
		cc.Statusf("Left the local copy untouched; snapshots remain available via --list.")

		return nil
	}

	return restoreSnapshot(ctx, cc, store, projectID, latest.ID)
}

func printCrashSummary(cc *CLIContext, projectID string, report *sync.CrashReport, snaps []*sync.RecoverySnapshot) {
	if report == nil {
		cc.Statusf("No crashed session on record for this data directory.")
	} else {
		name := report.ProjectName
		if name == "" {
			name = report.ProjectID
		}

		state := "mid-session"
		if report.ExitState == sync.ExitUnload {
			state = "during shutdown"
		}

		cc.Statusf("Previous session %s ended %s while %s was open (started %s).",
			truncateID(report.SessionID), state, name, formatNano(report.StartedAt))
	}

	if len(snaps) == 0 {
		cc.Statusf("No recovery snapshots for %s.", projectID)
	} else {
		cc.Statusf("%d recovery snapshot(s) for %s; newest captured %s.",
			len(snaps), projectID, formatNano(snaps[0].CapturedAt))
	}
}
