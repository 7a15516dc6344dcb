// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/governance"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/mcp"
)

type mcpFlags struct {
	HTTPAddr string
	Offline  bool
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	f := &mcpFlags{}
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline tools over MCP (stdio by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), g, f)
		},
	}
	cmd.Flags().StringVar(&f.HTTPAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	cmd.Flags().BoolVar(&f.Offline, "offline", false, "use the mock text provider and placeholder images")
	return cmd
}

func runMCP(ctx context.Context, g *globalFlags, f *mcpFlags) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	// Logs go to stderr; stdout carries the stdio protocol.
	a, err := newApp(ctx, cfg, appOptions{offline: f.Offline, logOutput: os.Stderr})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	b := a.newBroker()
	filter := governance.NewToolFilter(
		governance.WithAllowlist(cfg.MCP.Allow),
		governance.WithDenylist(cfg.MCP.Deny),
	)
	srv := mcp.NewServer("tgads", version, b,
		mcp.WithAgentName(cfg.MCP.AgentName),
		mcp.WithToolFilter(filter),
		mcp.WithLogger(a.logger),
	)
	exposed := srv.Expose(ctx, mcp.DefaultSpecs()...)
	b.SetAgentPermissions(cfg.MCP.AgentName, exposed...)
	a.logger.Info("mcp tools exposed", "tools", exposed, "agent", cfg.MCP.AgentName)

	if f.HTTPAddr != "" {
		return srv.ServeStreamableHTTP(f.HTTPAddr)
	}
	return srv.ServeStdio()
}
