// Package mcpserver exposes answering, catalog and index builds as MCP tools
// so assistants can query compliance namespaces over stdio.
package mcpserver

import "errors"

var (
	ErrMissingAnswerer = errors.New("mcp: answerer is required")
	ErrMissingCatalog  = errors.New("mcp: catalog is required")
)
