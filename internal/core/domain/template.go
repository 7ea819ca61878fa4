package domain

// Built-in prompt template names.
const (
	TemplateGeneral             = "general"
	TemplateComplianceBasic     = "compliance-basic"
	TemplateComplianceSectioned = "compliance-sectioned"
)

// Placeholder names a template body may reference as {name}.
const (
	PlaceholderContext  = "context"
	PlaceholderQuestion = "question"
	PlaceholderSections = "sections"
)

type PromptTemplate struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Body         string   `json:"-"`
	Placeholders []string `json:"placeholders"`
	Compliance   bool     `json:"compliance"`
}

// References reports whether the template body uses the placeholder.
func (t PromptTemplate) References(name string) bool {
	for _, p := range t.Placeholders {
		if p == name {
			return true
		}
	}
	return false
}
