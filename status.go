package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/sync"
)

// healthProbeTimeout bounds the reachability check so status stays fast
// when the server is down.
const healthProbeTimeout = 3 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state for the active project",
		Long: `Display connection state, local version, pending edits, queued pushes,
and any open conflict for the active project.

Works fully offline: everything except server reachability comes from the
local cache.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport is the machine-readable status shape.
type statusReport struct {
	ProjectID   string           `json:"project_id,omitempty"`
	ProjectName string           `json:"project_name,omitempty"`
	Version     int64            `json:"version"`
	Dirty       bool             `json:"dirty"`
	Status      string           `json:"status"`
	Online      bool             `json:"online"`
	Paused      bool             `json:"paused"`
	QueueDepth  int              `json:"queue_depth"`
	LastSaved   int64            `json:"last_saved,omitempty"`
	Server      string           `json:"server,omitempty"`
	Conflict    *conflictSummary `json:"conflict,omitempty"`
}

type conflictSummary struct {
	ID            string `json:"id"`
	LocalVersion  int64  `json:"local_version"`
	ServerVersion int64  `json:"server_version"`
	Added         int    `json:"added"`
	Removed       int    `json:"removed"`
	Modified      int    `json:"modified"`
	DetectedAt    int64  `json:"detected_at"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	report, err := buildStatusReport(cmd.Context(), cc)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	printStatusText(report)

	return nil
}

// buildStatusReport assembles status from the local cache plus one
// bounded reachability probe.
func buildStatusReport(ctx context.Context, cc *CLIContext) (*statusReport, error) {
	store, err := openStore(cc)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	report := &statusReport{Server: cc.Cfg.API.BaseURL}

	if paused, err := store.GetPref(ctx, sync.PrefPaused); err == nil {
		report.Paused = paused == "1"
	}

	if depth, err := store.QueueDepth(ctx); err == nil {
		report.QueueDepth = depth
	}

	report.Online = probeServer(ctx, cc)

	// A missing project is not an error: status still reports
	// connectivity and queue state.
	projectID, err := resolveProjectID(ctx, cc, store, nil)
	if err == nil {
		fillProjectStatus(ctx, store, projectID, report)
	}

	status := sync.StatusIdle
	if report.Conflict != nil {
		status = sync.StatusConflict
	}

	report.Status = string(sync.DeriveStatus(report.Online, status, report.Dirty))

	return report, nil
}

// fillProjectStatus adds the cached project row and any open conflict.
func fillProjectStatus(ctx context.Context, store *sync.SQLiteStore, projectID string, report *statusReport) {
	report.ProjectID = projectID

	if row, err := store.LoadProject(ctx, projectID); err == nil && row != nil {
		report.ProjectName = row.Name
		report.Version = row.Version
		report.Dirty = row.Dirty
		report.LastSaved = row.CachedAt
	}

	rec, err := store.OpenConflict(ctx, projectID)
	if err != nil || rec == nil {
		return
	}

	report.Conflict = &conflictSummary{
		ID:            rec.ID,
		LocalVersion:  rec.LocalVersion,
		ServerVersion: rec.ServerVersion,
		Added:         rec.Diff.Added,
		Removed:       rec.Diff.Removed,
		Modified:      rec.Diff.Modified,
		DetectedAt:    rec.DetectedAt,
	}
}

// probeServer checks liveness. Any failure (no config, network, auth)
// reads as offline.
func probeServer(ctx context.Context, cc *CLIContext) bool {
	client, err := newAPIClient(cc)
	if err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	return client.Healthz(probeCtx) == nil
}

func printStatusText(report *statusReport) {
	color := stdoutIsTTY()

	if report.ProjectID == "" {
		fmt.Println("No project opened yet. Run 'plotsync pull <project-id>' to start.")
	} else {
		label := report.ProjectID
		if report.ProjectName != "" {
			label = fmt.Sprintf("%s (%s)", report.ProjectName, report.ProjectID)
		}

		fmt.Printf("Project:  %s\n", render(color, styleBold, label))

		versionLine := fmt.Sprintf("v%d", report.Version)
		if report.Dirty {
			versionLine += " " + render(color, styleDirty, "(local edits pending)")
		}

		fmt.Printf("Version:  %s\n", versionLine)
	}

	ds := sync.DisplayStatus(report.Status)
	fmt.Printf("Status:   %s\n", render(color, displayStyle(ds), report.Status))

	server := report.Server
	if server == "" {
		server = "(not configured)"
	} else if report.Online {
		server += " (reachable)"
	} else {
		server += " (unreachable)"
	}

	fmt.Printf("Server:   %s\n", server)

	if report.QueueDepth > 0 {
		fmt.Printf("Queue:    %d queued push(es)\n", report.QueueDepth)
	}

	if report.Paused {
		fmt.Printf("Paused:   yes; run 'plotsync resume' to continue pushing\n")
	}

	if c := report.Conflict; c != nil {
		fmt.Printf("Conflict: %s local v%d vs server v%d (+%d ~%d -%d); run 'plotsync resolve'\n",
			render(color, styleConflict, truncateID(c.ID)),
			c.LocalVersion, c.ServerVersion, c.Added, c.Modified, c.Removed)
	}

	if report.LastSaved > 0 {
		fmt.Printf("Saved:    %s\n", formatNano(report.LastSaved))
	}
}
