package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/burrow/internal/procstat"
	"github.com/btouchard/burrow/internal/session"
)

// SessionLister reports live sessions.
type SessionLister interface {
	Active() []session.Snapshot
}

// TunnelStatus returns a handler that reports every live tunnel.
func TunnelStatus(sessions SessionLister) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snaps := sessions.Active()
		if len(snaps) == 0 {
			return mcp.NewToolResultText("No tunnel is running."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🕳️ Tunnels (%d live)\n\n", len(snaps))

		for _, s := range snaps {
			fmt.Fprintf(&sb, "%s **%s** %s :%d\n", statusIcon(s.Status), s.ID, s.Protocol, s.Port)
			if s.HTTPSURL != "" {
				fmt.Fprintf(&sb, "  HTTPS: %s\n", s.HTTPSURL)
			}
			if s.HTTPURL != "" {
				fmt.Fprintf(&sb, "  HTTP: %s\n", s.HTTPURL)
			}
			fmt.Fprintf(&sb, "  PID: %d | Uptime: %s\n", s.PID, s.Uptime)

			if st, err := procstat.Sample(s.PID); err == nil {
				fmt.Fprintf(&sb, "  Memory: %s | CPU: %.1f%% | Threads: %d\n",
					humanize.IBytes(st.RSSBytes), st.CPUPercent, st.Threads)
			}
			if s.Error != "" {
				fmt.Fprintf(&sb, "  Error: %s\n", s.Error)
			}
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func statusIcon(status string) string {
	switch status {
	case "starting":
		return "⏳"
	case "running":
		return "🔄"
	case "stopped":
		return "✅"
	case "exited":
		return "❌"
	case "failed":
		return "🚫"
	default:
		return "❓"
	}
}
