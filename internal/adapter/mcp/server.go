// Package mcp exposes flow metrics to agents over the Model Context Protocol.
// The tool surface is read-only.
package mcp

import (
	"context"
	"net/http"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/service"
)

// ServerConfig holds MCP server identity and mount path.
type ServerConfig struct {
	Name    string
	Version string
	Path    string
}

// BoardLister lists the boards known to the engine.
type BoardLister interface {
	ListBoards(ctx context.Context) ([]board.Board, error)
}

// FlowReader serves the flow metric read models.
type FlowReader interface {
	Throughput(ctx context.Context, boardID string, days int) (*service.ThroughputSeries, error)
	CFD(ctx context.Context, boardID string, days int) ([]flow.CFDPoint, error)
	RollingAverage(ctx context.Context, boardID string, metric flow.Metric, windowDays int) (*flow.RollingAverage, error)
	Violations(ctx context.Context, boardID string) ([]flow.WipViolation, error)
	Dashboard(ctx context.Context, boardID string) (*service.Dashboard, error)
}

// ServerDeps holds the services the tools read from. Nil deps make the
// corresponding tools report that they are not configured.
type ServerDeps struct {
	Boards BoardLister
	Flow   FlowReader
}

// Server wraps the mcp-go server and its streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      http.Handler
}

// NewServer creates the MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	cfg = normalizeConfig(cfg)
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(
			cfg.Name,
			cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	s.http = mcpserver.NewStreamableHTTPServer(
		s.mcpServer,
		mcpserver.WithEndpointPath(cfg.Path),
		mcpserver.WithStateLess(true),
	)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Path is the HTTP path the server is mounted on.
func (s *Server) Path() string { return s.cfg.Path }

// ServeHTTP serves MCP streamable HTTP requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

func normalizeConfig(cfg ServerConfig) ServerConfig {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = "flowboard"
	}
	cfg.Version = strings.TrimSpace(cfg.Version)
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	cfg.Path = "/" + strings.Trim(strings.TrimSpace(cfg.Path), "/")
	if cfg.Path == "/" {
		cfg.Path = "/mcp"
	}
	return cfg
}
