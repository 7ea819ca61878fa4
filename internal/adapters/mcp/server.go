package mcpserver

import (
	"context"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/server"
)

const Version = "0.1.0"

type Server struct {
	ports  *Ports
	server *server.MCPServer
}

func NewServer(ports *Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	s := &Server{
		ports: ports,
		server: server.NewMCPServer(
			"compliance-rag",
			Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP over the given stdio streams until ctx is cancelled or the
// input is closed.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.server).Listen(ctx, in, out)
}
