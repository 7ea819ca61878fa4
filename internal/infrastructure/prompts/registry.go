// Package prompts holds the prompt templates answers are generated from.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

//go:embed templates/*.txt
var defaultTemplates embed.FS

var placeholderPattern = regexp.MustCompile(`\{([a-z][a-z_]*)\}`)

var builtins = []struct {
	name        string
	description string
	compliance  bool
}{
	{domain.TemplateGeneral, "Concise answer grounded in the retrieved context.", false},
	{domain.TemplateComplianceBasic, "Compliance review listing non-compliant sections with reasons.", true},
	{domain.TemplateComplianceSectioned, "Compliance verdict for each configured document section.", true},
}

var knownPlaceholders = map[string]bool{
	domain.PlaceholderContext:  true,
	domain.PlaceholderQuestion: true,
	domain.PlaceholderSections: true,
}

// Registry is read-only after New returns and safe for concurrent use.
type Registry struct {
	templates map[string]domain.PromptTemplate
	names     []string
}

// New loads the built-in templates. When overrideDir is set, a file named
// <template>.txt in it replaces that template's body.
func New(overrideDir string) (*Registry, error) {
	r := &Registry{templates: make(map[string]domain.PromptTemplate, len(builtins))}

	for _, b := range builtins {
		raw, err := defaultTemplates.ReadFile("templates/" + b.name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("read built-in template %s: %w", b.name, err)
		}
		body := string(raw)

		if overrideDir != "" {
			custom, err := os.ReadFile(filepath.Join(overrideDir, b.name+".txt"))
			switch {
			case err == nil:
				body = string(custom)
				slog.Info("prompt_template_overridden", "template", b.name, "dir", overrideDir)
			case !errors.Is(err, fs.ErrNotExist):
				return nil, fmt.Errorf("read template override %s: %w", b.name, err)
			}
		}

		tmpl, err := parse(b.name, b.description, body, b.compliance)
		if err != nil {
			return nil, err
		}
		r.templates[b.name] = tmpl
		r.names = append(r.names, b.name)
	}
	sort.Strings(r.names)
	return r, nil
}

func parse(name, description, body string, compliance bool) (domain.PromptTemplate, error) {
	seen := map[string]bool{}
	var placeholders []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		p := m[1]
		if !knownPlaceholders[p] {
			return domain.PromptTemplate{}, fmt.Errorf("template %s: unknown placeholder {%s}", name, p)
		}
		if !seen[p] {
			seen[p] = true
			placeholders = append(placeholders, p)
		}
	}
	for _, required := range []string{domain.PlaceholderContext, domain.PlaceholderQuestion} {
		if !seen[required] {
			return domain.PromptTemplate{}, fmt.Errorf("template %s: missing placeholder {%s}", name, required)
		}
	}
	return domain.PromptTemplate{
		Name:         name,
		Description:  description,
		Body:         body,
		Placeholders: placeholders,
		Compliance:   compliance,
	}, nil
}

func (r *Registry) Get(name string) (domain.PromptTemplate, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return domain.PromptTemplate{}, domain.WrapError(domain.ErrUnknownTemplate, "get template", fmt.Errorf("%q", name))
	}
	return tmpl, nil
}

// Names returns the template names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Templates returns every template in name order.
func (r *Registry) Templates() []domain.PromptTemplate {
	out := make([]domain.PromptTemplate, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.templates[name])
	}
	return out
}

// Fill substitutes every placeholder of the named template in one pass, so
// braces inside bound values are left as they are.
func (r *Registry) Fill(name string, bindings map[string]string) (string, error) {
	tmpl, err := r.Get(name)
	if err != nil {
		return "", err
	}

	var missing []string
	for _, p := range tmpl.Placeholders {
		if strings.TrimSpace(bindings[p]) == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return "", domain.WrapError(domain.ErrMissingBinding, "fill template "+name,
			fmt.Errorf("unbound placeholders: %s", strings.Join(missing, ", ")))
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl.Body, func(match string) string {
		return bindings[match[1:len(match)-1]]
	}), nil
}

// FormatSections renders sections as a numbered list, one per line.
func FormatSections(sections []string) string {
	var b strings.Builder
	n := 0
	for _, s := range sections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, s)
	}
	return strings.TrimRight(b.String(), "\n")
}
