// Package mcpserver exposes the investigation tools over the Model Context Protocol.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/opensource-finance/fraudsentry/internal/agent"
)

// Name is the server name reported to MCP clients.
const Name = "fraudsentry"

// NewMCPServer creates an MCP server with the investigation tools registered.
func NewMCPServer(tools *agent.ToolSet, version string) *server.MCPServer {
	s := server.NewMCPServer(Name, version, server.WithToolCapabilities(false))

	s.AddTool(agent.ToolRecentTransactions, tools.HandleRecentTransactions)
	s.AddTool(agent.ToolMerchantVelocity, tools.HandleMerchantVelocity)

	return s
}
