package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with the reviewer tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("riskgate", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolListAssessments, h.HandleListAssessments)
	s.AddTool(ToolGetChallenge, h.HandleGetChallenge)
	s.AddTool(ToolCancelChallenge, h.HandleCancelChallenge)

	return s
}
