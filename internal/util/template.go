package util

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// promptFuncs are available to instruction templates.
var promptFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	// truncate shortens s to at most n runes, marking the cut with "...".
	"truncate": func(n int, s string) string {
		r := []rune(s)
		if n <= 0 || len(r) <= n {
			return s
		}
		if n <= 3 {
			return string(r[:n])
		}
		return string(r[:n-3]) + "..."
	},
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
}

var templateCache sync.Map // text -> *template.Template

// RenderTemplate renders an instruction template against state. Customer
// text is inserted verbatim; missing keys render as empty strings.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := parseTemplate(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

func parseTemplate(text string) (*template.Template, error) {
	if cached, ok := templateCache.Load(text); ok {
		return cached.(*template.Template), nil
	}

	tmpl, err := template.New("instruction").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse instruction: %w", err)
	}

	actual, _ := templateCache.LoadOrStore(text, tmpl)
	return actual.(*template.Template), nil
}
