package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagelight/plotsync/internal/api"
	"github.com/stagelight/plotsync/internal/plot"
	"github.com/stagelight/plotsync/pkg/canonjson"
)

// errVerifyDrift signals a drift finding. The report is already
// printed when this is returned; main exits nonzero without a banner.
var errVerifyDrift = errors.New("verify: local and server copies differ")

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [project-id]",
		Short: "Compare the local copy against the server's, byte for byte",
		Long: `Fingerprint the cached local copy and the server copy with canonical-JSON
digests and compare them. Matching digests prove the copies are
identical regardless of key order or encoding; differing digests come
with an object-level summary of the drift.

Exit code 0 when the copies match, 1 when they differ.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runVerify,
	}
}

// verifyReport is the comparison outcome in machine-readable form.
type verifyReport struct {
	ProjectID     string `json:"project_id"`
	LocalVersion  int64  `json:"local_version"`
	ServerVersion int64  `json:"server_version"`
	LocalDigest   string `json:"local_digest"`
	ServerDigest  string `json:"server_digest,omitempty"`
	Dirty         bool   `json:"dirty"`
	InSync        bool   `json:"in_sync"`
	ServerMissing bool   `json:"server_missing,omitempty"`
	Added         int    `json:"added"`
	Removed       int    `json:"removed"`
	Modified      int    `json:"modified"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	report, err := buildVerifyReport(cmd.Context(), cc, args)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}
	} else {
		printVerifyText(cc, report)
	}

	if !report.InSync {
		return errVerifyDrift
	}

	return nil
}

// buildVerifyReport loads both copies and compares digests. Separated
// from printing so the store closes before the caller decides the exit
// code.
func buildVerifyReport(ctx context.Context, cc *CLIContext, args []string) (*verifyReport, error) {
	store, err := openStore(cc)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	projectID, err := resolveProjectID(ctx, cc, store, args)
	if err != nil {
		return nil, err
	}

	row, err := store.LoadProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading local copy: %w", err)
	}

	if row == nil {
		return nil, fmt.Errorf("no local copy of %s; run 'plotsync pull' first", projectID)
	}

	local, err := row.Project()
	if err != nil {
		return nil, fmt.Errorf("decode local copy: %w", err)
	}

	report := &verifyReport{
		ProjectID:    projectID,
		LocalVersion: row.Version,
		Dirty:        row.Dirty,
	}

	if report.LocalDigest, err = canonjson.Digest(local); err != nil {
		return nil, fmt.Errorf("fingerprint local copy: %w", err)
	}

	client, err := newAPIClient(cc)
	if err != nil {
		return nil, err
	}

	server, serverVersion, err := client.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			report.ServerMissing = true

			return report, nil
		}

		return nil, fmt.Errorf("fetching server copy: %w", err)
	}

	report.ServerVersion = serverVersion

	if report.ServerDigest, err = canonjson.Digest(server); err != nil {
		return nil, fmt.Errorf("fingerprint server copy: %w", err)
	}

	report.InSync = report.LocalDigest == report.ServerDigest

	if !report.InSync {
		sum := plot.Diff(local, server)
		report.Added = sum.Added
		report.Removed = sum.Removed
		report.Modified = sum.Modified
	}

	return report, nil
}

func printVerifyText(cc *CLIContext, report *verifyReport) {
	if report.ServerMissing {
		cc.Statusf("Server has no copy of %s; local is at v%d (dirty: %t). The next push creates it.",
			report.ProjectID, report.LocalVersion, report.Dirty)

		return
	}

	if report.InSync {
		cc.Statusf("%s verified: local v%d and server v%d are identical (digest %s).",
			report.ProjectID, report.LocalVersion, report.ServerVersion, truncateID(report.LocalDigest))

		return
	}

	cc.Statusf("%s has drifted: local v%d (dirty: %t) vs server v%d.",
		report.ProjectID, report.LocalVersion, report.Dirty, report.ServerVersion)
	cc.Statusf("  server-only objects: %d", report.Added)
	cc.Statusf("  local-only objects:  %d", report.Removed)
	cc.Statusf("  differing objects:   %d", report.Modified)
	cc.Statusf("Run 'plotsync push' or 'plotsync pull' to reconcile.")
}
