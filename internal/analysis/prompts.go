package analysis

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"
)

// Default prompt templates. Both are rendered with text/template over a
// [promptData] value.
const (
	DefaultDeepPrompt = `You are analysing one utterance of a live multi-speaker conversation.

Speaker: {{.Speaker}}{{if .CharacterNames}} (known characters: {{.CharacterNames}}){{end}}
{{- if .CharacterProfile}}

Character profile:
{{.CharacterProfile}}
{{- end}}
{{- if .History}}

Recent conversation:
{{.History}}
{{- end}}

Voice: {{.Features}}
Emotion: {{.Emotion}}

Utterance:
{{.Text}}

First write a short markdown report of the speaker's intent, strategy and
emotional state. Then append exactly one fenced block:

` + "```json" + `
{"summary": "...", "intent": "...", "strategy": "...", "sentiment": "...",
 "character_analysis": [{"name": "...", "deep_intent": "...", "strategy": "..."}]}
` + "```"

	DefaultQuickPrompt = `Summarise the following utterance in one sentence and classify its
sentiment. Respond with a JSON object of the form
{"summary": "...", "sentiment": "positive|neutral|negative"}.

Speaker: {{.Speaker}}
Utterance:
{{.Text}}`
)

// Default sampling temperatures.
const (
	DefaultDeepTemperature  = 0.4
	DefaultQuickTemperature = 0.2
)

// Prompts holds the prompt templates and temperatures of both analysis
// modes. Zero fields fall back to the defaults.
type Prompts struct {
	Deep             string
	Quick            string
	DeepTemperature  float64
	QuickTemperature float64
}

func (p Prompts) withDefaults() Prompts {
	if p.Deep == "" {
		p.Deep = DefaultDeepPrompt
	}
	if p.Quick == "" {
		p.Quick = DefaultQuickPrompt
	}
	if p.DeepTemperature == 0 {
		p.DeepTemperature = DefaultDeepTemperature
	}
	if p.QuickTemperature == 0 {
		p.QuickTemperature = DefaultQuickTemperature
	}
	return p
}

// compiled is a parsed [Prompts].
type compiled struct {
	deep, quick         *template.Template
	deepTemp, quickTemp float64
}

func compile(p Prompts) (*compiled, error) {
	p = p.withDefaults()
	deep, err := template.New("deep").Option("missingkey=zero").Parse(p.Deep)
	if err != nil {
		return nil, fmt.Errorf("analysis: parse deep prompt: %w", err)
	}
	quick, err := template.New("quick").Option("missingkey=zero").Parse(p.Quick)
	if err != nil {
		return nil, fmt.Errorf("analysis: parse quick prompt: %w", err)
	}
	return &compiled{deep: deep, quick: quick, deepTemp: p.DeepTemperature, quickTemp: p.QuickTemperature}, nil
}

// ValidatePrompts reports whether p compiles.
func ValidatePrompts(p Prompts) error {
	_, err := compile(p)
	return err
}

// promptData is the value prompt templates are rendered with.
type promptData struct {
	Text             string
	Speaker          string
	CharacterNames   string
	CharacterProfile string
	History          string
	Features         string
	Emotion          string
}

func newPromptData(req Request) promptData {
	return promptData{
		Text:             req.Text,
		Speaker:          req.SpeakerName,
		CharacterNames:   strings.Join(req.CharacterNames, ", "),
		CharacterProfile: req.CharacterProfile,
		History:          strings.Join(req.History, "\n"),
		Features: fmt.Sprintf("pitch %.0f Hz, energy %.3f, duration %.1f s, rate %.1f onsets/s",
			req.Features.Pitch, req.Features.Energy, req.Features.Duration, req.Features.SpeechRate),
		Emotion: formatEmotion(req.Emotion),
	}
}

func formatEmotion(scores map[string]float64) string {
	if len(scores) == 0 {
		return "unknown"
	}
	labels := slices.Sorted(maps.Keys(scores))
	slices.SortStableFunc(labels, func(a, b string) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s %.2f", l, scores[l])
	}
	return strings.Join(parts, ", ")
}

func render(t *template.Template, data promptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("analysis: render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}
