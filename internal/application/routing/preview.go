package routing

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/longregen/toolrouter/internal/domain/models"
)

const (
	previewSimilarTools  = 3
	previewRecentSamples = 10
)

var htmlTag = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^>]*)?/?>`)

// renderDocumentation turns a tool description into markdown and appends a
// parameter list derived from its schema.
func renderDocumentation(tool models.UnifiedTool) string {
	var b strings.Builder
	desc := strings.TrimSpace(tool.Description)
	if htmlTag.MatchString(desc) {
		if md, err := htmltomarkdown.ConvertString(desc); err == nil {
			desc = strings.TrimSpace(md)
		}
	}
	b.WriteString(desc)

	props, _ := tool.InputSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return b.String()
	}
	required := requiredSet(tool.InputSchema)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)

	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("Parameters:\n")
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		typ, _ := prop["type"].(string)
		if typ == "" {
			typ = "any"
		}
		fmt.Fprintf(&b, "- `%s` (%s", name, typ)
		if required[name] {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if d, _ := prop["description"].(string); d != "" {
			b.WriteString(": " + d)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func requiredSet(schema map[string]any) map[string]bool {
	set := make(map[string]bool)
	switch req := schema["required"].(type) {
	case []string:
		for _, r := range req {
			set[r] = true
		}
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}

// schemaExamples returns the schema's own examples or synthesizes one call
// with placeholder values for the required parameters.
func schemaExamples(schema map[string]any) []map[string]any {
	if raw, ok := schema["examples"].([]any); ok {
		var out []map[string]any
		for _, e := range raw {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := requiredSet(schema)
	example := make(map[string]any)
	for name, p := range props {
		prop, _ := p.(map[string]any)
		if !required[name] && prop["default"] == nil {
			continue
		}
		example[name] = exampleValue(name, prop)
	}
	if len(example) == 0 {
		return nil
	}
	return []map[string]any{example}
}

func exampleValue(name string, prop map[string]any) any {
	if v, ok := prop["default"]; ok && v != nil {
		return v
	}
	if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}
	if ex, ok := prop["examples"].([]any); ok && len(ex) > 0 {
		return ex[0]
	}
	switch prop["type"] {
	case "integer":
		return 1
	case "number":
		return 1.0
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	}
	return "<" + name + ">"
}
