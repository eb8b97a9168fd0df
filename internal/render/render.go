// Package render turns extracted scope variables into the final markdown
// scope document. Rendering is deterministic: the same variables always
// produce byte-identical output.
package render

import (
	"embed"
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/martin/scope-generator/internal/types"
)

//go:embed scope.md.tmpl
var templateFiles embed.FS

// TemplateError represents an error parsing or executing the document template
type TemplateError struct {
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("template error: %s", e.Message)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// ScopeDocument renders the scope variables into markdown.
func ScopeDocument(vars *types.ScopeVariables) (string, error) {
	if vars == nil {
		return "", &TemplateError{Message: "nil scope variables"}
	}

	tmpl, err := template.New("scope.md.tmpl").Funcs(template.FuncMap{
		"usd": formatUSD,
		"num": formatNumber,
	}).ParseFS(templateFiles, "scope.md.tmpl")
	if err != nil {
		return "", &TemplateError{Message: "failed to parse template", Cause: err}
	}

	var result strings.Builder
	if err := tmpl.Execute(&result, vars); err != nil {
		return "", &TemplateError{Message: "failed to execute template", Cause: err}
	}

	return strings.TrimSpace(result.String()) + "\n", nil
}

// formatUSD renders a dollar amount with thousands separators, dropping the
// cents when the value is whole. Rounding happens once, on total cents, so
// amounts like 1.999 carry into the next dollar instead of printing 100
// cents.
func formatUSD(amount float64) string {
	cents := int64(math.Round(amount * 100))
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	s := fmt.Sprintf("%d", cents/100)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac := cents % 100; frac > 0 {
		return fmt.Sprintf("%s$%s.%02d", sign, b.String(), frac)
	}
	return sign + "$" + b.String()
}

// formatNumber drops the fraction when the value is whole.
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
