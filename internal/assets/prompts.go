// Package assets provides the prompt templates embedded in the binary.
//
// Prompts are stored as text files under prompts/ and embedded at compile time.
// Dynamic prompts are text/template documents parsed once at startup.
package assets

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
)

// MeasureSystemPrompt instructs the vision model how to read joint angles.
//
//go:embed prompts/measure-system.txt
var MeasureSystemPrompt string

// NarrativeSystemPrompt instructs the report model.
//
//go:embed prompts/narrative-system.txt
var NarrativeSystemPrompt string

//go:embed prompts/measure-frame.txt
var measureFrameTemplate string

//go:embed prompts/narrative-report.txt
var narrativeReportTemplate string

// template.Must panics on malformed templates, catching errors at startup
// rather than at call time.
var (
	measureFrameTmpl    = template.Must(template.New("measure-frame").Parse(measureFrameTemplate))
	narrativeReportTmpl = template.Must(template.New("narrative-report").Parse(narrativeReportTemplate))
)

// RenderMeasureFramePrompt renders the per-frame measurement prompt. data is
// the measurement package's prompt view.
func RenderMeasureFramePrompt(data any) (string, error) {
	return render(measureFrameTmpl, data)
}

// RenderNarrativeReportPrompt renders the report prompt.
func RenderNarrativeReportPrompt(data any) (string, error) {
	return render(narrativeReportTmpl, data)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
