package diagnostics

import (
	"bytes"
	"errors"
	"strings"
	"text/template"
)

// DefaultTemplate renders an overlap event for chat delivery.
const DefaultTemplate = `[Pricing {{.Type}}]
Key: {{.Key}}
Date: {{.Date}}
Chosen: {{.ChosenID}}
Candidates: {{.Candidates}}
{{ if .Detail }}Detail: {{.Detail}}
{{ end }}`

type templateData struct {
	Type       string
	Key        string
	Date       string
	ChosenID   string
	Candidates string
	Detail     string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("pricing-diagnostics").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to an event.
func (t *Template) Render(event Event) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("diagnostics template: nil")
	}
	var buf bytes.Buffer
	err := t.tpl.Execute(&buf, templateData{
		Type:       string(event.Type),
		Key:        event.Key,
		Date:       event.Date,
		ChosenID:   event.ChosenID,
		Candidates: strings.Join(event.CandidateIDs, ", "),
		Detail:     event.Detail,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
