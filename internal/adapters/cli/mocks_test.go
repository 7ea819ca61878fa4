package cli

import (
	"bytes"
	"context"
	"io"

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
}

func (m *mockCatalog) ListNamespaces(context.Context) ([]domain.IndexInfo, error) {
	return m.infos, nil
}

func (m *mockCatalog) TemplateNames() []string {
	return []string{domain.TemplateGeneral, domain.TemplateComplianceBasic}
}

func (m *mockCatalog) Templates() []domain.PromptTemplate {
	return []domain.PromptTemplate{
		{Name: domain.TemplateGeneral, Description: "Plain question answering"},
		{Name: domain.TemplateComplianceBasic, Description: "Compliance review", Compliance: true},
	}
}

type mockBuilder struct {
	report *domain.BuildReport
	err    error
	built  []string
}

func (m *mockBuilder) BuildFromSources(context.Context, string, []domain.SourceDocument) (*domain.BuildReport, error) {
	return m.report, m.err
}

func (m *mockBuilder) BuildNamespace(_ context.Context, namespace string) (*domain.BuildReport, error) {
	m.built = append(m.built, namespace)
	return m.report, m.err
}

type mockQuestions struct {
	text     string
	filename string
}

func (m *mockQuestions) ReadQuestion(_ context.Context, filename string, body io.Reader) (string, error) {
	m.filename = filename
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	return m.text, nil
}

type mockReports struct {
	written *domain.Answer
}

func (m *mockReports) WriteAnswer(w io.Writer, answer *domain.Answer) error {
	m.written = answer
	_, err := w.Write([]byte("xlsx"))
	return err
}

func (m *mockReports) ContentType() string { return "application/octet-stream" }

func testServices() (*Services, *mockAnswerer, *mockBuilder) {
	answerer := &mockAnswerer{answer: &domain.Answer{
		Text:      "Incidents must be reported within 4 hours.",
		Namespace: "dora",
		Template:  domain.TemplateGeneral,
		Sources: []domain.RetrievedChunk{
			{Chunk: domain.Chunk{SourceID: "dora.pdf", PageStart: 3, PageEnd: 4}, Score: 0.91},
		},
	}}
	builder := &mockBuilder{report: &domain.BuildReport{
		Index:         domain.IndexInfo{Namespace: "dora", BuildID: "b-1", ChunkCount: 12},
		DocumentCount: 3,
		FailedDocuments: []domain.DocumentFailure{
			{SourceID: "scan.pdf", Error: "no extractable text"},
		},
	}}
	svc := &Services{
		Builder:   builder,
		Answerer:  answerer,
		Catalog:   &mockCatalog{},
		Questions: &mockQuestions{text: "Does the policy cover backups?"},
		Reports:   &mockReports{},
	}
	return svc, answerer, builder
}

func execute(svc *Services, args ...string) (string, error) {
	root := NewRootCommand(func(context.Context) (*Services, error) { return svc, nil })
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}
