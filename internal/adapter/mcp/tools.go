package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/flowboard/internal/domain/flow"
)

const defaultDays = 30

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listBoardsTool(),
		s.throughputTool(),
		s.cfdTool(),
		s.rollingAverageTool(),
		s.violationsTool(),
		s.dashboardTool(),
	)
}

func boardIDParam() mcplib.ToolOption {
	return mcplib.WithString("board_id", mcplib.Required(), mcplib.Description("Board identifier"))
}

func daysParam() mcplib.ToolOption {
	return mcplib.WithNumber("days", mcplib.Description("Number of most recent daily snapshots (default 30)"))
}

func (s *Server) listBoardsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("flow.list_boards",
			mcplib.WithDescription("List the boards tracked by flowboard"),
		),
		Handler: func(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			if s.deps.Boards == nil {
				return mcplib.NewToolResultError("board lister not configured"), nil
			}
			boards, err := s.deps.Boards.ListBoards(ctx)
			if err != nil {
				return mcplib.NewToolResultErrorFromErr("failed to list boards", err), nil
			}
			return toolResultJSON(boards)
		},
	}
}

func (s *Server) throughputTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("flow.throughput",
			mcplib.WithDescription("Daily throughput with average lead and cycle time in hours. Null averages mean no card was completed that day."),
			boardIDParam(),
			daysParam(),
		),
		Handler: s.withFlow(func(ctx context.Context, boardID string, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			series, err := s.deps.Flow.Throughput(ctx, boardID, req.GetInt("days", defaultDays))
			if err != nil {
				return nil, err
			}
			return series.Points, nil
		}),
	}
}

func (s *Server) cfdTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("flow.cfd",
			mcplib.WithDescription("Cumulative flow diagram: card count per column per day"),
			boardIDParam(),
			daysParam(),
		),
		Handler: s.withFlow(func(ctx context.Context, boardID string, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			return s.deps.Flow.CFD(ctx, boardID, req.GetInt("days", defaultDays))
		}),
	}
}

func (s *Server) rollingAverageTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("flow.rolling_average",
			mcplib.WithDescription("Average of a flow metric over the window of days ending today"),
			boardIDParam(),
			mcplib.WithString("metric",
				mcplib.Required(),
				mcplib.Enum(string(flow.MetricLeadTime), string(flow.MetricCycleTime), string(flow.MetricThroughput)),
				mcplib.Description("Metric to average"),
			),
			mcplib.WithNumber("window", mcplib.Description("Window size in days (default 30)")),
		),
		Handler: s.withFlow(func(ctx context.Context, boardID string, req mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			metric, err := req.RequireString("metric")
			if err != nil {
				return nil, err
			}
			return s.deps.Flow.RollingAverage(ctx, boardID, flow.Metric(metric), req.GetInt("window", defaultDays))
		}),
	}
}

func (s *Server) violationsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("flow.wip_violations",
			mcplib.WithDescription("Columns over their WIP limit in the latest snapshot"),
			boardIDParam(),
		),
		Handler: s.withFlow(func(ctx context.Context, boardID string, _ mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			return s.deps.Flow.Violations(ctx, boardID)
		}),
	}
}

func (s *Server) dashboardTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool("flow.dashboard",
			mcplib.WithDescription("Dashboard summary: WIP, violations, blocked and overdue cards, average lead and cycle time"),
			boardIDParam(),
		),
		Handler: s.withFlow(func(ctx context.Context, boardID string, _ mcplib.CallToolRequest) (any, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			return s.deps.Flow.Dashboard(ctx, boardID)
		}),
	}
}

type flowHandler func(ctx context.Context, boardID string, req mcplib.CallToolRequest) (any, error)

// withFlow checks the flow reader and board_id argument, then encodes the
// handler result as JSON. Domain errors become tool errors.
func (s *Server) withFlow(h flowHandler) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		if s.deps.Flow == nil {
			return mcplib.NewToolResultError("flow reader not configured"), nil
		}
		boardID, err := req.RequireString("board_id")
		if err != nil || boardID == "" {
			return mcplib.NewToolResultError("board_id is required"), nil
		}
		v, err := h(ctx, boardID, req)
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		return toolResultJSON(v)
	}
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
