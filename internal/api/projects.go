package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stagelight/plotsync/internal/plot"
)

// ProjectDoc is the wire representation of a project: the full snapshot
// plus the version field the server uses for optimistic concurrency.
// On GET, Version is the server's current version. On PUT, it is the
// base version the client last observed; a mismatch yields 409.
type ProjectDoc struct {
	Project *plot.Project `json:"project"`
	Version int64         `json:"version"`
}

// putResponse is the PUT success payload.
type putResponse struct {
	Version int64 `json:"version"`
}

// conflictBody is the 409 payload shape.
type conflictBody struct {
	Error         string `json:"error"`
	ServerVersion int64  `json:"server_version"`
}

// GetProject fetches the server's current copy of a project.
// A missing project reports ErrNotFound via errors.Is.
func (c *Client) GetProject(ctx context.Context, id string) (*plot.Project, int64, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/projects/"+id, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var doc ProjectDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("decoding project %s: %w", id, err)
	}

	if doc.Project == nil {
		return nil, 0, fmt.Errorf("decoding project %s: empty document", id)
	}

	doc.Project.Version = doc.Version

	return doc.Project, doc.Version, nil
}

// PutProject uploads a full snapshot against the given base version and
// returns the server-assigned new version. A stale base version reports
// ErrConflict; the returned *Error carries the server's current version.
func (c *Client) PutProject(ctx context.Context, project *plot.Project, baseVersion int64) (int64, error) {
	body, err := json.Marshal(ProjectDoc{Project: project, Version: baseVersion})
	if err != nil {
		return 0, fmt.Errorf("encoding project %s: %w", project.ID, err)
	}

	resp, err := c.Do(ctx, http.MethodPut, "/projects/"+project.ID, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding put response for %s: %w", project.ID, err)
	}

	return out.Version, nil
}

// ProjectInfo is one row of the server's project listing.
type ProjectInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RevisionInfo describes one stored server revision of a project.
type RevisionInfo struct {
	Version   int64     `json:"version"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ListProjects fetches the server's project listing. Also serves as an
// authenticated round-trip: a bad token reports ErrUnauthorized.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/projects/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var infos []ProjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("decoding project list: %w", err)
	}

	return infos, nil
}

// Revisions fetches the server's stored revision history for a project,
// newest first. A project the server has never seen yields an empty
// history, not an error.
func (c *Client) Revisions(ctx context.Context, id string) ([]RevisionInfo, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/projects/"+id+"/revisions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var revs []RevisionInfo
	if err := json.NewDecoder(resp.Body).Decode(&revs); err != nil {
		return nil, fmt.Errorf("decoding revisions for %s: %w", id, err)
	}

	return revs, nil
}

// Healthz probes the service liveness endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}

// parseConflictVersion extracts server_version from a 409 body.
// Returns 0 when the body does not carry one.
func parseConflictVersion(body []byte) int64 {
	var cb conflictBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return 0
	}

	return cb.ServerVersion
}
