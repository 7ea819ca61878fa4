// Package report renders answers as spreadsheets for reviewers.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

const (
	sheetVerdicts = "Verdicts"
	sheetAnswer   = "Answer"
	sheetSources  = "Sources"

	// Excel rejects cells longer than 32767 characters.
	maxCellRunes = 32000
)

type XLSXWriter struct{}

func NewXLSXWriter() *XLSXWriter {
	return &XLSXWriter{}
}

func (XLSXWriter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// WriteAnswer writes a workbook with the parsed verdicts, the raw answer and
// the retrieved sources, one sheet each.
func (XLSXWriter) WriteAnswer(w io.Writer, answer *domain.Answer) error {
	if answer == nil {
		return fmt.Errorf("write xlsx: nil answer")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetVerdicts); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetAnswer, sheetSources} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9E1F2"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeVerdicts(f, header, answer.Verdicts); err != nil {
		return err
	}
	if err := writeAnswer(f, header, answer); err != nil {
		return err
	}
	if err := writeSources(f, header, answer.Sources); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeVerdicts(f *excelize.File, header int, verdicts []domain.ComplianceVerdict) error {
	rows := [][]any{{"Section", "Status", "Reason"}}
	for _, v := range verdicts {
		rows = append(rows, []any{v.Section, string(v.Status), clip(v.Reason)})
	}
	if err := setRows(f, sheetVerdicts, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetVerdicts, "A1", "C1", header); err != nil {
		return fmt.Errorf("style verdicts header: %w", err)
	}
	if err := f.SetColWidth(sheetVerdicts, "A", "A", 36); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetVerdicts, "B", "B", 16); err != nil {
		return err
	}
	return f.SetColWidth(sheetVerdicts, "C", "C", 90)
}

func writeAnswer(f *excelize.File, header int, answer *domain.Answer) error {
	rows := [][]any{
		{"Namespace", answer.Namespace},
		{"Template", answer.Template},
		{"Answer", clip(answer.Text)},
	}
	if err := setRows(f, sheetAnswer, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetAnswer, "A1", "A3", header); err != nil {
		return fmt.Errorf("style answer labels: %w", err)
	}
	return f.SetColWidth(sheetAnswer, "B", "B", 120)
}

func writeSources(f *excelize.File, header int, sources []domain.RetrievedChunk) error {
	rows := [][]any{{"Rank", "Source", "Pages", "Score", "Text"}}
	for i, s := range sources {
		rows = append(rows, []any{i + 1, s.SourceID, pageRange(s.PageStart, s.PageEnd), s.Score, clip(s.Text)})
	}
	if err := setRows(f, sheetSources, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetSources, "A1", "E1", header); err != nil {
		return fmt.Errorf("style sources header: %w", err)
	}
	return f.SetColWidth(sheetSources, "E", "E", 120)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func pageRange(start, end int) string {
	switch {
	case start <= 0:
		return ""
	case end <= start:
		return strconv.Itoa(start)
	default:
		return strconv.Itoa(start) + "-" + strconv.Itoa(end)
	}
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxCellRunes {
		return s
	}
	return string(r[:maxCellRunes])
}
