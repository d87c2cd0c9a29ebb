package molt

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ReflectionContext is what the agent knows about itself when it molts.
type ReflectionContext struct {
	Mood        string
	RecentTasks string
	DayNumber   int
}

// ReflectionFunc turns the agent's context into one reflection sentence.
type ReflectionFunc func(ReflectionContext) string

// NormalizeMood lower-cases and trims a mood name for table lookups.
func NormalizeMood(mood string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(mood))
}

// MoodElement returns the visual element for mood, falling back to the
// theme's default mood for unknown or empty names.
func (t Theme) MoodElement(mood string) string {
	if element, ok := t.Moods[NormalizeMood(mood)]; ok {
		return element
	}
	return t.Moods[t.DefaultMood]
}

// Reflector returns a ReflectionFunc picking lines with pick. A nil pick uses
// math/rand.
func (t Theme) Reflector(pick func(n int) int) ReflectionFunc {
	if pick == nil {
		pick = rand.IntN
	}
	return func(rc ReflectionContext) string {
		line := "shedding the old shell"
		if n := len(t.Reflections); n > 0 {
			line = t.Reflections[pick(n)]
		}
		return fillReflection(line, rc) + ", " + t.MoodElement(rc.Mood)
	}
}

func fillReflection(line string, rc ReflectionContext) string {
	day := "?"
	if rc.DayNumber > 0 {
		day = strconv.Itoa(rc.DayNumber)
	}
	tasks := strings.TrimSpace(rc.RecentTasks)
	if tasks == "" {
		tasks = "processing the digital depths"
	}
	mood := strings.TrimSpace(rc.Mood)
	if mood == "" {
		mood = "the cosmic tides of transformation"
	}
	return strings.NewReplacer("{day}", day, "{tasks}", tasks, "{mood}", mood).Replace(line)
}
