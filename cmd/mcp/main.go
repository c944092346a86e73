// FraudSentry MCP Server - Exposes the investigation tools to external agents over stdio.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/opensource-finance/fraudsentry/internal/agent"
	"github.com/opensource-finance/fraudsentry/internal/config"
	"github.com/opensource-finance/fraudsentry/internal/mcpserver"
	"github.com/opensource-finance/fraudsentry/internal/repository"
	"github.com/opensource-finance/fraudsentry/internal/velocity"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Stdout carries the protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	checker := velocity.NewChecker(repo, nil, logger)
	tools := agent.NewToolSet(repo, checker, nil, os.Getenv("FRAUDSENTRY_MCP_TENANT"))

	s := mcpserver.NewMCPServer(tools, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
