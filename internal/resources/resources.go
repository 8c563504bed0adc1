// Package resources implements the MCP resource handlers.
//
// Resources provide read-only data that the host can consume for
// context. They use URI-based addressing (codegen://...) following MCP
// conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeworks/anvil/internal/history"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler manages the run-history resource endpoints.
type Handler struct {
	store *history.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store *history.Store) *Handler {
	return &Handler{store: store}
}

// RunsResource returns the MCP resource definition for recent runs.
func (h *Handler) RunsResource() mcp.Resource {
	return mcp.NewResource(
		"codegen://runs/recent",
		"Recent Code Generation Runs",
		mcp.WithResourceDescription("Recently started runs with status, final phase, and timing"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleRuns returns the recent run records as JSON.
func (h *Handler) HandleRuns(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if h.store == nil {
		return errorResource(req.Params.URI, "run history is not configured"), nil
	}

	records, err := h.store.RecentRuns(20)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling runs: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
