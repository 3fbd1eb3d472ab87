// Package render implements the opaque render(template_text, vars) ->
// string service the planner and applier call to materialize Template
// intents, backed by the standard text/template engine.
package render

import (
	"bytes"
	"regexp"
	"text/template"

	"github.com/keronhq/keron/internal/manifest"
)

// bareVarRef matches a {{ name }} action holding a single bare
// identifier, the syntax spec.md documents for template bodies
// (manifests are authored Tera/Jinja-style: "hello {{user}}", not
// text/template's dot-prefixed "hello {{.user}}"). Keywords that are
// actions rather than field references (if/range/with/end/...) are
// left untouched so control-flow templates still work for authors who
// reach for them.
var bareVarRef = regexp.MustCompile(`\{\{-?\s*([A-Za-z_][A-Za-z0-9_]*)\s*-?\}\}`)

var actionKeywords = map[string]bool{
	"if": true, "else": true, "end": true, "range": true, "with": true,
	"define": true, "block": true, "template": true, "nil": true,
	"true": true, "false": true, "break": true, "continue": true,
}

// toDotSyntax rewrites bare {{name}} references to {{.name}} so that
// spec's documented template syntax parses under text/template.
func toDotSyntax(templateText string) string {
	return bareVarRef.ReplaceAllStringFunc(templateText, func(match string) string {
		name := bareVarRef.FindStringSubmatch(match)[1]
		if actionKeywords[name] {
			return match
		}
		return "{{." + name + "}}"
	})
}

// Render executes templateText with vars bound under their keys and
// returns the rendered bytes. A variable that is not in vars renders as
// the empty string. Non-string RenderedValues have already
// been coerced to strings by the evaluator; this function only ever
// sees plain strings.
func Render(name, templateText string, vars map[string]manifest.RenderedValue) ([]byte, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(toDotSyntax(templateText))
	if err != nil {
		return nil, err
	}

	data := make(map[string]string, len(vars))
	for k, v := range vars {
		data[k] = v.Value
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
