// Package resources implements the MCP resource handlers of a discovery
// session.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (mirror://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/engine"
)

const sessionPrefix = "mirror://sessions/"

// StatusSource returns the full status of a session.
type StatusSource interface {
	Status(ctx context.Context, id string) (*engine.Status, error)
}

// Handler manages the mirror resource endpoints.
type Handler struct {
	source StatusSource
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(source StatusSource) *Handler {
	return &Handler{source: source}
}

// SessionTemplate returns the MCP resource template for session status.
func (h *Handler) SessionTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		sessionPrefix+"{id}",
		"Discovery Session",
		mcp.WithTemplateDescription("Phase, signal coverage, density, extraction barrier and health of a session"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleSession returns a session's status as JSON.
func (h *Handler) HandleSession(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	id := strings.TrimPrefix(uri, sessionPrefix)
	if id == uri || id == "" || strings.Contains(id, "/") {
		return errorResource(uri, "expected "+sessionPrefix+"{id}"), nil
	}

	st, err := h.source.Status(ctx, id)
	if errors.Is(err, discovery.ErrSessionNotFound) {
		return errorResource(uri, err.Error()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
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
