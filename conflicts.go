package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/sync"
)

func newConflictsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List version conflicts",
		Long: `List open version conflicts from the local cache. Each records the local
and server versions that collided and an object-level summary of what
diverged. Use 'plotsync resolve' to settle one; --all includes already
resolved conflicts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConflicts(cmd, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include resolved conflicts")

	return cmd
}

// conflictJSON is the machine-readable conflict shape.
type conflictJSON struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	LocalVersion  int64  `json:"local_version"`
	ServerVersion int64  `json:"server_version"`
	Added         int    `json:"added"`
	Removed       int    `json:"removed"`
	Modified      int    `json:"modified"`
	DetectedAt    string `json:"detected_at"`
	Resolution    string `json:"resolution,omitempty"`
}

func runConflicts(cmd *cobra.Command, all bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	if !all {
		open := records[:0]

		for _, rec := range records {
			if rec.Open() {
				open = append(open, rec)
			}
		}

		records = open
	}

	if cc.Flags.JSON {
		return printConflictsJSON(records)
	}

	if len(records) == 0 {
		if all {
			fmt.Println("No conflicts recorded.")
		} else {
			fmt.Println("No open conflicts.")
		}

		return nil
	}

	printConflictsTable(records)

	return nil
}

func printConflictsJSON(records []*sync.ConflictRecord) error {
	items := make([]conflictJSON, len(records))

	for i, rec := range records {
		items[i] = conflictJSON{
			ID:            rec.ID,
			ProjectID:     rec.ProjectID,
			LocalVersion:  rec.LocalVersion,
			ServerVersion: rec.ServerVersion,
			Added:         rec.Diff.Added,
			Removed:       rec.Diff.Removed,
			Modified:      rec.Diff.Modified,
			DetectedAt:    time.Unix(0, rec.DetectedAt).UTC().Format(time.RFC3339),
		}

		if !rec.Open() {
			items[i].Resolution = string(rec.Resolution)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(records []*sync.ConflictRecord) {
	color := stdoutIsTTY()

	headers := []string{"ID", "PROJECT", "LOCAL", "SERVER", "DIFF", "DETECTED", "STATE"}
	rows := make([][]string, len(records))

	for i, rec := range records {
		state := "open"
		if !rec.Open() {
			state = string(rec.Resolution)
		} else if color {
			state = render(color, styleConflict, state)
		}

		rows[i] = []string{
			truncateID(rec.ID),
			rec.ProjectID,
			fmt.Sprintf("v%d", rec.LocalVersion),
			fmt.Sprintf("v%d", rec.ServerVersion),
			fmt.Sprintf("+%d ~%d -%d", rec.Diff.Added, rec.Diff.Modified, rec.Diff.Removed),
			formatNano(rec.DetectedAt),
			state,
		}
	}

	printTable(os.Stdout, headers, rows)
}
