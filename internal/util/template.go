package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// funcs are available to every prompt template.
var funcs = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
}

// ParseTemplate parses a named prompt template with the shared helpers.
// Parse failures are programming errors, so callers may use template.Must.
func ParseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}

	return tmpl, nil
}

// RenderTemplate executes a prompt template against data. Text without
// template markers is returned unchanged.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := ParseTemplate("prompt", text)
	if err != nil {
		return "", err
	}

	return Execute(tmpl, data)
}

// Execute runs a parsed template and returns the output.
func Execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", tmpl.Name(), err)
	}

	return buf.String(), nil
}
