package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const boardsResourceURI = "flowboard://boards"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			boardsResourceURI,
			"Board List",
			mcplib.WithResourceDescription("Boards tracked by flowboard with their timezones"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleBoardsResource,
	)
}

func (s *Server) handleBoardsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"board lister not configured"}`
	if s.deps.Boards != nil {
		boards, err := s.deps.Boards.ListBoards(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(boards)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
