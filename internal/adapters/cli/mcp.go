package cli

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/kirillkom/compliance-rag/internal/adapters/mcp"
)

func newMCPCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the Model Context Protocol over stdio",
		Long: `Starts an MCP server on stdin/stdout exposing the answer, list_namespaces,
list_templates and build_namespace tools to MCP-compatible assistants.

Example client configuration:
  {
    "mcpServers": {
      "compliance-rag": {
        "command": "/path/to/ragctl",
        "args": ["mcp"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			server, err := mcpserver.NewServer(&mcpserver.Ports{
				Answerer: svc.Answerer,
				Catalog:  svc.Catalog,
				Builder:  svc.Builder,
			})
			if err != nil {
				return err
			}
			return server.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
