package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/marcom/internal/models"
)

const maxInlineContent = 1 << 20

type ingestResult struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Size        int    `json:"size"`
	Created     bool   `json:"created"`
	LinkWarning string `json:"link_warning,omitempty"`
}

func (s *Server) ingestComponent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	row := models.IngestRow{
		Name:    name,
		Domain:  req.GetString("domain", ""),
		About:   req.GetString("about", ""),
		Context: req.GetString("context", ""),
		Comment: req.GetString("comment", ""),
		Source:  req.GetString("source", ""),
	}

	// A link failure after the component was stored is a warning: the
	// component exists and can be relinked with link_component.
	var (
		c       *models.Component
		warning string
	)
	switch content := req.GetString("content", ""); {
	case row.Source != "":
		rep, err := s.svc.IngestAll(ctx, []models.IngestRow{row})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(rep.Items) == 0 {
			if len(rep.Errors) > 0 {
				return mcp.NewToolResultError(rep.Errors[0].Error()), nil
			}
			return mcp.NewToolResultError("component was not ingested"), nil
		}
		c, warning = rep.Items[0].Component, rep.Items[0].LinkError
	case content != "":
		if len(content) > maxInlineContent {
			return mcp.NewToolResultError("content too large"), nil
		}
		c, _, err = s.svc.IngestUpload(ctx, []byte(content), "mcp:"+name, row.Fields())
		if err != nil {
			if c == nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			warning = err.Error()
		}
	default:
		return mcp.NewToolResultError("either source or content is required"), nil
	}

	return jsonResult(ingestResult{
		Key:         c.Key,
		Name:        c.Name,
		Size:        c.Size,
		Created:     c.CreatedAt.Equal(c.UpdatedAt),
		LinkWarning: warning,
	})
}
