package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type AnswerOutput struct {
	Answer   string                     `json:"answer"`
	Template string                     `json:"template"`
	Sources  []SourceOutput             `json:"sources"`
	Verdicts []domain.ComplianceVerdict `json:"verdicts,omitempty"`
}

type SourceOutput struct {
	SourceID  string  `json:"source_id"`
	PageStart int     `json:"page_start,omitempty"`
	PageEnd   int     `json:"page_end,omitempty"`
	Score     float64 `json:"score"`
}

type BuildOutput struct {
	Namespace       string                   `json:"namespace"`
	BuildID         string                   `json:"build_id"`
	ChunkCount      int                      `json:"chunk_count"`
	DocumentCount   int                      `json:"document_count"`
	FailedDocuments []domain.DocumentFailure `json:"failed_documents,omitempty"`
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("answer",
		mcp.WithDescription("Answer a question from the documents indexed in a namespace"),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("index namespace, e.g. dora")),
		mcp.WithString("question", mcp.Required(), mcp.Description("question or document text to check")),
		mcp.WithString("template", mcp.Description("prompt template name (default general)")),
	), s.handleAnswer)

	s.server.AddTool(mcp.NewTool("list_namespaces",
		mcp.WithDescription("List namespaces that have a committed index"),
	), s.handleListNamespaces)

	s.server.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List prompt templates usable with the answer tool"),
	), s.handleListTemplates)

	if s.ports.Builder != nil {
		s.server.AddTool(mcp.NewTool("build_namespace",
			mcp.WithDescription("Rebuild the index of a namespace from its source directory"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("namespace to rebuild")),
		), s.handleBuildNamespace)
	}
}

func (s *Server) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	namespace, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	template := req.GetString("template", "")

	answer, err := s.ports.Answerer.Answer(ctx, namespace, question, template)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := AnswerOutput{
		Answer:   answer.Text,
		Template: answer.Template,
		Sources:  make([]SourceOutput, len(answer.Sources)),
		Verdicts: answer.Verdicts,
	}
	for i, src := range answer.Sources {
		out.Sources[i] = SourceOutput{
			SourceID:  src.SourceID,
			PageStart: src.PageStart,
			PageEnd:   src.PageEnd,
			Score:     src.Score,
		}
	}
	return jsonResult(out)
}

func (s *Server) handleListNamespaces(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos, err := s.ports.Catalog.ListNamespaces(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"namespaces": infos})
}

func (s *Server) handleListTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"templates": s.ports.Catalog.Templates()})
}

func (s *Server) handleBuildNamespace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	namespace, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.ports.Builder.BuildNamespace(ctx, namespace)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(BuildOutput{
		Namespace:       report.Index.Namespace,
		BuildID:         report.Index.BuildID,
		ChunkCount:      report.Index.ChunkCount,
		DocumentCount:   report.DocumentCount,
		FailedDocuments: report.FailedDocuments,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
