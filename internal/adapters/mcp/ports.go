package mcpserver

import "github.com/kirillkom/compliance-rag/internal/core/ports"

// Ports aggregates the inbound ports served by the MCP server.
type Ports struct {
	Answerer ports.Answerer
	Catalog  ports.Catalog

	// Builder is optional; without it build_namespace is not registered.
	Builder ports.IndexBuilder
}

func (p *Ports) Validate() error {
	if p.Answerer == nil {
		return ErrMissingAnswerer
	}
	if p.Catalog == nil {
		return ErrMissingCatalog
	}
	return nil
}
