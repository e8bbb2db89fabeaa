package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/burrow/internal/store"
)

// SessionHistory reads recorded sessions.
type SessionHistory interface {
	ListSessions(f store.SessionFilter) ([]store.SessionRecord, error)
	GetSession(id string) (*store.SessionRecord, error)
	GetEvents(sessionID string, limit int) ([]store.SessionEvent, error)
}

// ListSessions returns a handler that lists recorded sessions with optional filters.
func ListSessions(history SessionHistory) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := store.SessionFilter{
			Limit: 10,
		}

		if status, ok := args["status"].(string); ok {
			filter.Status = status
		}
		if port, ok := args["port"].(float64); ok && port > 0 {
			filter.Port = int(port)
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = min(int(limit), 100)
		}
		if since, ok := args["since"].(string); ok && since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("since must be an RFC 3339 datetime: %v", err)), nil
			}
			filter.Since = t
		}

		recs, err := history.ListSessions(filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing sessions: %v", err)), nil
		}
		if len(recs) == 0 {
			return mcp.NewToolResultText("No sessions found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Sessions (%d found)\n\n", len(recs))

		for _, r := range recs {
			fmt.Fprintf(&sb, "%s **%s** — %s\n", statusIcon(r.Status), r.ID, r.Status)
			fmt.Fprintf(&sb, "  %s :%d | Started: %s\n", r.Protocol, r.Port, humanize.Time(r.StartedAt))
			if u := publicURL(&r); u != "" {
				fmt.Fprintf(&sb, "  URL: %s\n", u)
			}
			if !r.EndedAt.IsZero() {
				fmt.Fprintf(&sb, "  Duration: %s\n", r.EndedAt.Sub(r.StartedAt).Round(time.Second))
			}
			if r.Error != "" {
				fmt.Fprintf(&sb, "  Error: %s\n", r.Error)
			}
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

// GetSession returns a handler that shows one recorded session and its events.
func GetSession(history SessionHistory) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		id, _ := args["session_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("session_id is required"), nil
		}

		r, err := history.GetSession(id)
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("session %s not found", id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reading session: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%s **%s** — %s\n\n", statusIcon(r.Status), r.ID, r.Status)
		fmt.Fprintf(&sb, "- **Protocol:** %s\n", r.Protocol)
		fmt.Fprintf(&sb, "- **Port:** %d\n", r.Port)
		if r.HTTPURL != "" {
			fmt.Fprintf(&sb, "- **HTTP:** %s\n", r.HTTPURL)
		}
		if r.HTTPSURL != "" {
			fmt.Fprintf(&sb, "- **HTTPS:** %s\n", r.HTTPSURL)
		}
		fmt.Fprintf(&sb, "- **PID:** %d\n", r.PID)
		fmt.Fprintf(&sb, "- **Started:** %s\n", r.StartedAt.Format(time.RFC3339))
		if !r.EndedAt.IsZero() {
			fmt.Fprintf(&sb, "- **Ended:** %s (exit code %d)\n", r.EndedAt.Format(time.RFC3339), r.ExitCode)
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, "- **Error:** %s\n", r.Error)
		}

		events, err := history.GetEvents(id, 20)
		if err == nil && len(events) > 0 {
			sb.WriteString("\n**Events**\n")
			for _, e := range events {
				fmt.Fprintf(&sb, "- %s %s", e.CreatedAt.Format(time.TimeOnly), e.EventType)
				if e.Message != "" {
					fmt.Fprintf(&sb, ": %s", e.Message)
				}
				sb.WriteString("\n")
			}
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func publicURL(r *store.SessionRecord) string {
	if r.HTTPSURL != "" {
		return r.HTTPSURL
	}
	return r.HTTPURL
}
