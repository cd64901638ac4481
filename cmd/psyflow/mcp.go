package main

import (
	"github.com/spf13/cobra"

	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/mcp"
)

func mcpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the Model Context Protocol on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []client.Option
			if a.cfg.Token != "" {
				opts = append(opts, client.WithToken(a.cfg.Token))
			}
			return mcp.NewServer(a.cfg.Endpoint, Version, a.logger(), opts...).Serve()
		},
	}
}
