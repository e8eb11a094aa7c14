package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/sync"
)

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List cached projects",
		Long: `List every project in the local cache, most recently edited first.

Each row shows the cached version, whether local edits are waiting to
be pushed, and the size of the cached copy.`,
		Args: cobra.NoArgs,
		RunE: runProjectsList,
	}

	cmd.AddCommand(newProjectsRmCmd())
	cmd.AddCommand(newProjectsHistoryCmd())

	return cmd
}

func newProjectsRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <project-id>",
		Short: "Delete a project's local cache",
		Long: `Delete a project's cached copy, along with its queued pushes, recovery
snapshots, and conflict records. The server copy is untouched.

A project with unpushed local edits is refused unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runProjectsRm,
	}

	cmd.Flags().Bool("force", false, "delete even when local edits have not been pushed")

	return cmd
}

func newProjectsHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [project-id]",
		Short: "Show the server's stored revisions of a project",
		Long: `List the revisions the server keeps for a project, newest first. Each
revision is a full snapshot written by a successful push.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runProjectsHistory,
	}
}

// projectRow is the JSON form of one cached project.
type projectRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   int64  `json:"version"`
	Dirty     bool   `json:"dirty"`
	UpdatedAt string `json:"updated_at"`
	SizeBytes int64  `json:"size_bytes"`
}

func runProjectsList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	projects, err := store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	if cc.Flags.JSON {
		return printProjectsJSON(projects)
	}

	if len(projects) == 0 {
		cc.Statusf("No projects cached. Run 'plotsync pull <project-id>' to fetch one.")

		return nil
	}

	printProjectsTable(projects)

	return nil
}

func printProjectsJSON(projects []*sync.CachedProject) error {
	rows := make([]projectRow, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, projectRow{
			ID:        p.ID,
			Name:      p.Name,
			Version:   p.Version,
			Dirty:     p.Dirty,
			UpdatedAt: time.Unix(0, p.UpdatedAt).UTC().Format(time.RFC3339),
			SizeBytes: int64(len(p.Payload)),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printProjectsTable(projects []*sync.CachedProject) {
	headers := []string{"ID", "NAME", "VERSION", "DIRTY", "UPDATED", "SIZE"}

	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		dirty := ""
		if p.Dirty {
			dirty = "yes"
		}

		rows = append(rows, []string{
			truncateID(p.ID),
			p.Name,
			fmt.Sprintf("v%d", p.Version),
			dirty,
			formatNano(p.UpdatedAt),
			formatSize(int64(len(p.Payload))),
		})
	}

	printTable(os.Stdout, headers, rows)
}

// revisionRow is the JSON form of one server revision.
type revisionRow struct {
	Version   int64  `json:"version"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
}

func runProjectsHistory(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(cc)
	if err != nil {
		return err
	}

	projectID, err := resolveProjectID(ctx, cc, store, args)

	// Only needed for project resolution; the listing is server-side.
	store.Close()

	if err != nil {
		return err
	}

	client, err := newAPIClient(cc)
	if err != nil {
		return err
	}

	revs, err := client.Revisions(ctx, projectID)
	if err != nil {
		return fmt.Errorf("fetching revisions for %s: %w", projectID, err)
	}

	if cc.Flags.JSON {
		rows := make([]revisionRow, 0, len(revs))
		for _, rev := range revs {
			rows = append(rows, revisionRow{
				Version:   rev.Version,
				Size:      int64(rev.Size),
				CreatedAt: rev.CreatedAt.UTC().Format(time.RFC3339),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	if len(revs) == 0 {
		cc.Statusf("Server has no revisions of %s.", projectID)

		return nil
	}

	headers := []string{"VERSION", "SIZE", "CREATED"}

	rows := make([][]string, 0, len(revs))
	for _, rev := range revs {
		rows = append(rows, []string{
			fmt.Sprintf("v%d", rev.Version),
			formatSize(int64(rev.Size)),
			formatTime(rev.CreatedAt.Local()),
		})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runProjectsRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	projectID := args[0]

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("reading --force flag: %w", err)
	}

	store, err := openStore(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	row, err := store.LoadProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}

	if row == nil {
		return fmt.Errorf("no cached copy of %s", projectID)
	}

	if row.Dirty && !force {
		return fmt.Errorf("%s has local edits that were never pushed; rerun with --force to discard them", projectID)
	}

	if err := store.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}

	// The removed project cannot stay the implicit default.
	if active, prefErr := store.GetPref(ctx, sync.PrefActiveProject); prefErr == nil && active == projectID {
		if err := store.SetPref(ctx, sync.PrefActiveProject, ""); err != nil {
			cc.Logger.Warn("clearing active project pref", "error", err)
		}
	}

	cc.Statusf("Deleted the local copy of %s (%s). The server copy is untouched.", projectID, row.Name)

	return nil
}
