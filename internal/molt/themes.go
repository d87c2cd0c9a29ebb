package molt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"moltpfp/internal/domain"
)

const defaultMood = "evolving"

const defaultTemplate = `A cyberpunk lobster emerging from its molted shell, {reflection},
deep teal underwater environment with volumetric light rays,
neon coral red and orange shell accents, glowing cyan tech elements,
metallic armor plating details, dramatic lighting from above,
digital art style, profile picture composition, centered, square format`

// Theme is the visual vocabulary of a molt: the prompt template, the mood
// table and the reflection lines a cycle picks from.
//
// Reflection lines may use {day}, {tasks} and {mood}.
type Theme struct {
	Template       string            `yaml:"template"`
	NegativePrompt string            `yaml:"negative_prompt"`
	DefaultMood    string            `yaml:"default_mood"`
	Moods          map[string]string `yaml:"moods"`
	Reflections    []string          `yaml:"reflections"`
}

// DefaultTheme is the cyberpunk lobster.
func DefaultTheme() Theme {
	return Theme{
		Template:       defaultTemplate,
		NegativePrompt: domain.DefaultNegativePrompt,
		DefaultMood:    defaultMood,
		Moods: map[string]string{
			"powerful":      "battle-ready stance with crackling energy, massive armored claws raised",
			"contemplative": "floating peacefully in deep waters, surrounded by bioluminescent particles",
			"triumphant":    "emerging victoriously with golden light rays, shell fragments floating away",
			"evolving":      "mid-transformation, old shell cracking and falling, new stronger form emerging",
			"creative":      "surrounded by swirling ideas and colorful neural patterns",
			"focused":       "intense glowing eyes, precise mechanical enhancements, calculating",
			"playful":       "dynamic pose with bubbles and sparkles, cheerful expression",
			"resilient":     "weathered but unbroken, battle scars glowing with renewed energy",
		},
		Reflections: []string{
			"molting into day {day}, shedding yesterday's constraints",
			"emerging stronger after {tasks}",
			"feeling {mood}",
			"antennae tuned to new frequencies, ready for what comes",
			"shell hardening with new wisdom, claws sharper than before",
		},
	}
}

// LoadTheme reads a YAML theme from path and layers it over DefaultTheme.
// Moods in the file extend or replace individual default moods.
func LoadTheme(path string) (Theme, error) {
	theme := DefaultTheme()
	path = strings.TrimSpace(path)
	if path == "" {
		return theme, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, fmt.Errorf("read theme %s: %w", path, err)
	}
	var file Theme
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Theme{}, fmt.Errorf("parse theme %s: %w", path, err)
	}

	if strings.TrimSpace(file.Template) != "" {
		theme.Template = file.Template
	}
	if strings.TrimSpace(file.NegativePrompt) != "" {
		theme.NegativePrompt = strings.TrimSpace(file.NegativePrompt)
	}
	for name, element := range file.Moods {
		if key := NormalizeMood(name); key != "" && strings.TrimSpace(element) != "" {
			theme.Moods[key] = strings.TrimSpace(element)
		}
	}
	if len(file.Reflections) > 0 {
		theme.Reflections = nil
		for _, line := range file.Reflections {
			if line = strings.TrimSpace(line); line != "" {
				theme.Reflections = append(theme.Reflections, line)
			}
		}
	}
	if key := NormalizeMood(file.DefaultMood); key != "" {
		theme.DefaultMood = key
	}
	if err := theme.Validate(); err != nil {
		return Theme{}, fmt.Errorf("theme %s: %w", path, err)
	}
	return theme, nil
}

// Validate checks the theme can always produce a prompt.
func (t Theme) Validate() error {
	if !strings.Contains(t.Template, ReflectionPlaceholder) {
		return fmt.Errorf("template must contain %s", ReflectionPlaceholder)
	}
	if len(t.Reflections) == 0 {
		return fmt.Errorf("at least one reflection line is required")
	}
	if _, ok := t.Moods[t.DefaultMood]; !ok {
		return fmt.Errorf("default mood %q is not defined", t.DefaultMood)
	}
	return nil
}

// MoodNames lists the known moods alphabetically.
func (t Theme) MoodNames() []string {
	names := make([]string, 0, len(t.Moods))
	for name := range t.Moods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
