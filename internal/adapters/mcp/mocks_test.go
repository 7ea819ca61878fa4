package mcpserver

import (
	"context"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type mockAnswerer struct {
	answer *domain.Answer
	err    error

	namespace, question, template string
}

func (m *mockAnswerer) Answer(_ context.Context, namespace, question, template string) (*domain.Answer, error) {
	m.namespace, m.question, m.template = namespace, question, template
	return m.answer, m.err
}

type mockCatalog struct {
	infos []domain.IndexInfo
	err   error
}

func (m *mockCatalog) ListNamespaces(context.Context) ([]domain.IndexInfo, error) {
	return m.infos, m.err
}

func (m *mockCatalog) TemplateNames() []string {
	return []string{domain.TemplateGeneral, domain.TemplateComplianceSectioned}
}

func (m *mockCatalog) Templates() []domain.PromptTemplate {
	return []domain.PromptTemplate{
		{Name: domain.TemplateGeneral, Body: "hidden"},
		{Name: domain.TemplateComplianceSectioned, Compliance: true, Body: "hidden"},
	}
}

type mockBuilder struct {
	report *domain.BuildReport
	err    error
	built  string
}

func (m *mockBuilder) BuildFromSources(context.Context, string, []domain.SourceDocument) (*domain.BuildReport, error) {
	return m.report, m.err
}

func (m *mockBuilder) BuildNamespace(_ context.Context, namespace string) (*domain.BuildReport, error) {
	m.built = namespace
	return m.report, m.err
}
