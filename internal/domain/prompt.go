package domain

import "strings"

// DefaultNegativePrompt lists artefacts every molt image should avoid.
const DefaultNegativePrompt = "blurry, low quality, distorted, ugly, human face, realistic human"

// Prompt is the text handed to an image provider. It is a value type and is
// never mutated after construction.
type Prompt struct {
	Text     string
	Negative string
}

// NewPrompt trims both parts of the prompt.
func NewPrompt(text, negative string) Prompt {
	return Prompt{Text: strings.TrimSpace(text), Negative: strings.TrimSpace(negative)}
}

// NegativeOrDefault returns the negative prompt, falling back to fallback when empty.
func (p Prompt) NegativeOrDefault(fallback string) string {
	if p.Negative != "" {
		return p.Negative
	}
	return fallback
}

// IsZero reports whether the prompt carries no text.
func (p Prompt) IsZero() bool {
	return strings.TrimSpace(p.Text) == ""
}
