package usecase

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

// ParseVerdicts reads the first markdown table in text into verdicts. Columns
// are picked by header name; without recognisable headers the first three
// columns are taken as section, status and reason.
func ParseVerdicts(text string) []domain.ComplianceVerdict {
	lines := strings.Split(text, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if !isTableRow(lines[i]) || !isSeparatorRow(lines[i+1]) {
			continue
		}
		header := splitRow(lines[i])
		sectionCol, statusCol, reasonCol := verdictColumns(header)

		var out []domain.ComplianceVerdict
		for _, line := range lines[i+2:] {
			if !isTableRow(line) {
				break
			}
			cells := splitRow(line)
			section := cell(cells, sectionCol)
			if section == "" {
				continue
			}
			out = append(out, domain.ComplianceVerdict{
				Section: section,
				Status:  parseStatus(cell(cells, statusCol)),
				Reason:  cell(cells, reasonCol),
			})
		}
		return out
	}
	return nil
}

func verdictColumns(header []string) (section, status, reason int) {
	section, status, reason = -1, -1, -1
	for i, h := range header {
		h = strings.ToLower(h)
		switch {
		case section < 0 && strings.Contains(h, "section"):
			section = i
		case status < 0 && (strings.Contains(h, "complian") || strings.Contains(h, "status")):
			status = i
		case reason < 0 && (strings.Contains(h, "reason") || strings.Contains(h, "comment")):
			reason = i
		}
	}
	if section < 0 {
		section = 0
	}
	if status < 0 {
		status = 1
	}
	if reason < 0 {
		reason = 2
	}
	return section, status, reason
}

func parseStatus(raw string) domain.VerdictStatus {
	s := strings.ToLower(strings.Trim(raw, " *_`"))
	switch {
	case s == "":
		return domain.VerdictUnknown
	case hasWord(s, "n/a"), hasWord(s, "na"), hasWord(s, "none"), hasWord(s, "not applicable"), hasWord(s, "not assessed"):
		return domain.VerdictUnknown
	case strings.Contains(s, "partial"):
		return domain.VerdictPartial
	case hasWord(s, "no"), hasWord(s, "non"), strings.HasPrefix(s, "noncompliant"),
		strings.Contains(s, "not compliant"), strings.Contains(s, "non-compliant"):
		return domain.VerdictNonCompliant
	case hasWord(s, "yes"), strings.HasPrefix(s, "compliant"), hasWord(s, "fully"):
		return domain.VerdictCompliant
	default:
		return domain.VerdictUnknown
	}
}

// hasWord reports whether s starts with word followed by a non-letter or the end.
func hasWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	rest := strings.TrimPrefix(s, word)
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLetter(r)
}

func isTableRow(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2
}

func isSeparatorRow(line string) bool {
	if !isTableRow(line) {
		return false
	}
	for _, c := range splitRow(line) {
		if strings.Trim(c, ":-") != "" || !strings.Contains(c, "-") {
			return false
		}
	}
	return true
}

func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}
