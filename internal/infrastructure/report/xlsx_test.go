package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

func TestWriteAnswerProducesThreeSheets(t *testing.T) {
	answer := &domain.Answer{
		Text:      "| Section | Compliant | Reason |\n|---|---|---|\n| Scope | Yes | covered |",
		Namespace: "dora",
		Template:  domain.TemplateComplianceSectioned,
		Sources: []domain.RetrievedChunk{
			{Chunk: domain.Chunk{SourceID: "dora.pdf", PageStart: 3, PageEnd: 4, Text: "Article 5"}, Score: 0.91},
		},
		Verdicts: []domain.ComplianceVerdict{
			{Section: "Scope", Status: domain.VerdictCompliant, Reason: "covered"},
			{Section: "Training and Awareness", Status: domain.VerdictNonCompliant, Reason: strings.Repeat("x", 40000)},
		},
	}

	var buf bytes.Buffer
	if err := NewXLSXWriter().WriteAnswer(&buf, answer); err != nil {
		t.Fatalf("WriteAnswer() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if got := strings.Join(f.GetSheetList(), ","); got != "Verdicts,Answer,Sources" {
		t.Fatalf("unexpected sheets %q", got)
	}

	rows, err := f.GetRows(sheetVerdicts)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "Scope" || rows[2][1] != "non_compliant" {
		t.Fatalf("unexpected verdict rows %v", rows[:min(len(rows), 2)])
	}
	if n := len([]rune(rows[2][2])); n != maxCellRunes {
		t.Fatalf("long reason must be clipped to %d runes, got %d", maxCellRunes, n)
	}

	sources, err := f.GetRows(sheetSources)
	if err != nil {
		t.Fatalf("GetRows(sources) error = %v", err)
	}
	if len(sources) != 2 || sources[1][1] != "dora.pdf" || sources[1][2] != "3-4" {
		t.Fatalf("unexpected source rows %v", sources)
	}

	ns, err := f.GetCellValue(sheetAnswer, "B1")
	if err != nil || ns != "dora" {
		t.Fatalf("namespace cell = %q, %v", ns, err)
	}
}

func TestPageRange(t *testing.T) {
	cases := []struct {
		start, end int
		want       string
	}{
		{0, 0, ""},
		{2, 2, "2"},
		{2, 1, "2"},
		{2, 5, "2-5"},
	}
	for _, tc := range cases {
		if got := pageRange(tc.start, tc.end); got != tc.want {
			t.Fatalf("pageRange(%d, %d) = %q, want %q", tc.start, tc.end, got, tc.want)
		}
	}
}

func TestWriteAnswerRejectsNil(t *testing.T) {
	if err := NewXLSXWriter().WriteAnswer(&bytes.Buffer{}, nil); err == nil {
		t.Fatalf("expected error for nil answer")
	}
}
