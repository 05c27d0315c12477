// internal/rules/template.go
package rules

import (
	"regexp"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Template rendering for action configs.
 *
 * Replaces {{identifier}} tokens with the stringified field value. Identifiers
 * may be dotted field names and may carry surrounding whitespace
 * ({{ owner.email }}). A token whose field is absent or null is left in place
 * verbatim and reported as a MissingVariableWarning; rendering continues.
 */

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Renderer renders templates against one field map and accumulates warnings
// across calls, reporting each missing variable once.
type Renderer struct {
	fields   types.FieldMap
	seen     map[string]bool
	warnings []*types.MissingVariableWarning
}

// NewRenderer creates a renderer over fields.
func NewRenderer(fields types.FieldMap) *Renderer {
	return &Renderer{fields: fields, seen: map[string]bool{}}
}

// Render substitutes placeholders in tmpl.
func (r *Renderer) Render(tmpl string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		v, ok := r.fields[name]
		if !ok || v == nil {
			if !r.seen[name] {
				r.seen[name] = true
				r.warnings = append(r.warnings, &types.MissingVariableWarning{Name: name})
			}
			return token
		}
		return v.String()
	})
}

// Warnings returns the missing variables seen so far, in first-seen order.
func (r *Renderer) Warnings() []*types.MissingVariableWarning {
	return r.warnings
}

// Render substitutes placeholders in tmpl from fields.
func Render(tmpl string, fields types.FieldMap) (string, []*types.MissingVariableWarning) {
	r := NewRenderer(fields)
	out := r.Render(tmpl)
	return out, r.Warnings()
}

// Placeholders lists the distinct variable names referenced by tmpl.
func Placeholders(tmpl string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
