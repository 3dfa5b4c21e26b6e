package cmd

import (
	"context"
	"log/slog"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/client"
	"github.com/joescharf/tracker/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio that files and
updates issues through a running tracker REST API.

Configure it in an MCP client with:

  {
    "mcpServers": {
      "tracker": { "command": "tracker", "args": ["mcp"] }
    }
  }

The API is reached at mcp.api_base_url and authenticated with mcp.api_key
(create one with 'tracker apikey create'). Each tool also accepts an apiKey
argument that overrides it.

Tools: issues-create, create-bug, create-feature-request,
update-ticket-status, issues-list, tags-list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	baseURL := viper.GetString("mcp.api_base_url")
	if viper.GetString("mcp.api_key") == "" {
		slog.Warn("mcp.api_key not set, tools must pass apiKey")
	}
	slog.Debug("starting MCP server", "api", baseURL)

	c := client.New(baseURL, viper.GetString("mcp.api_key"))
	return mcp.NewServer(c, buildVersion).ServeStdio(ctx)
}
