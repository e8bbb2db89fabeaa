package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/burrow/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// tunnel_status: live tunnels with public URLs and process health
	s.AddTool(
		mcp.NewTool("tunnel_status",
			mcp.WithDescription("Show every live tunnel: its public URLs, local port, agent PID, uptime and resource usage."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		handlers.TunnelStatus(deps.Sessions),
	)

	// list_sessions: recorded tunnel runs
	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List recorded tunnel sessions, newest first, with optional filters."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("all", "starting", "running", "stopped", "exited", "failed"),
			),
			mcp.WithNumber("port",
				mcp.Description("Only sessions exposing this local port"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of sessions to return (default: 10)"),
			),
			mcp.WithString("since",
				mcp.Description("RFC 3339 datetime, only sessions started after this time"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		handlers.ListSessions(deps.History),
	)

	// get_session: one recorded run with its events
	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Show one recorded tunnel session with its lifecycle events."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID from list_sessions or tunnel_status"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		handlers.GetSession(deps.History),
	)
}
