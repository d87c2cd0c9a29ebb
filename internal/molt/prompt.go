package molt

import (
	"strings"

	"moltpfp/internal/domain"
)

// ReflectionPlaceholder marks where a template receives the reflection.
const ReflectionPlaceholder = "{reflection}"

// PromptBuilder renders the image prompt for a reflection.
type PromptBuilder func(reflection string) domain.Prompt

// PromptBuilder fills override, or the theme template when override is
// empty. Only the first placeholder is replaced.
func (t Theme) PromptBuilder(override string) PromptBuilder {
	template := t.Template
	if strings.TrimSpace(override) != "" {
		template = override
	}
	negative := t.NegativePrompt
	return func(reflection string) domain.Prompt {
		return domain.NewPrompt(strings.Replace(template, ReflectionPlaceholder, reflection, 1), negative)
	}
}
