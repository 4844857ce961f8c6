// Package render substitutes variables into command and notification
// templates. The grammar is {{name}} for substitution plus conditional
// blocks {{#if name}}...{{else}}...{{/if}}, which may nest. No other
// directive forms exist.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

var reVarName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeIf
)

type node struct {
	kind nodeKind
	text string // nodeText
	name string // nodeVar, nodeIf
	then []node // nodeIf
	els  []node // nodeIf
}

// Template is a compiled template ready for substitution.
type Template struct {
	src   string
	nodes []node
}

// Compile parses src. References to undeclared variables are legal; they
// render as empty strings. Malformed directives are compile errors.
func Compile(src string) (*Template, error) {
	nodes, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Template{src: src, nodes: nodes}, nil
}

// MustCompile is Compile for templates known good at build time, e.g. probe
// catalogs and notification defaults.
func MustCompile(src string) *Template {
	t, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Render substitutes vars into the template. Unknown variables become empty
// strings, so rendering never fails; required-parameter checks happen in
// ResolveParams before this point.
func (t *Template) Render(vars map[string]any) string {
	var b strings.Builder
	renderNodes(&b, t.nodes, vars)
	return b.String()
}

// Source returns the template text the Template was compiled from.
func (t *Template) Source() string { return t.src }

// RenderString compiles and renders src in one step.
func RenderString(src string, vars map[string]any) (string, error) {
	t, err := Compile(src)
	if err != nil {
		return "", err
	}
	return t.Render(vars), nil
}

// Merge flattens variable maps left to right, later maps overriding earlier
// keys. Nil maps are skipped.
func Merge(maps ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// MergeEnv lifts a string environment map into a variable map.
func MergeEnv(env map[string]string) map[string]any {
	if len(env) == 0 {
		return nil
	}
	vars := make(map[string]any, len(env))
	for k, v := range env {
		vars[k] = v
	}
	return vars
}

// ResolveParams applies declared defaults for absent variables and rejects
// absent or empty required ones with a missing_variable error. The input map
// is not mutated.
func ResolveParams(specs []model.ParamSpec, vars map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(vars)+len(specs))
	for k, v := range vars {
		resolved[k] = v
	}
	for _, spec := range specs {
		v, present := resolved[spec.Name]
		if present && (!spec.Required || Stringify(v) != "") {
			continue
		}
		if spec.Required {
			return nil, apperrors.MissingVariable(spec.Name)
		}
		if !present && spec.Default != nil {
			resolved[spec.Name] = *spec.Default
		}
	}
	return resolved, nil
}

// Truthy reports how conditional blocks treat v: nil, false, zero numbers,
// empty strings and collections, plus the strings "false" and "0", are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		trimmed := strings.TrimSpace(val)
		return trimmed != "" && !strings.EqualFold(trimmed, "false") && trimmed != "0"
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// Stringify renders a variable value the way substitution does. Nil becomes
// the empty string; everything else goes through %v.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func renderNodes(b *strings.Builder, nodes []node, vars map[string]any) {
	for i := range nodes {
		n := &nodes[i]
		switch n.kind {
		case nodeText:
			b.WriteString(n.text)
		case nodeVar:
			b.WriteString(Stringify(vars[n.name]))
		case nodeIf:
			if Truthy(vars[n.name]) {
				renderNodes(b, n.then, vars)
			} else {
				renderNodes(b, n.els, vars)
			}
		}
	}
}

type frame struct {
	name   string
	then   []node
	els    []node
	inElse bool
}

func (f *frame) append(n node) {
	if f.inElse {
		f.els = append(f.els, n)
	} else {
		f.then = append(f.then, n)
	}
}

func parse(src string) ([]node, error) {
	var (
		top   []node
		stack []*frame
	)
	emit := func(n node) {
		if len(stack) > 0 {
			stack[len(stack)-1].append(n)
		} else {
			top = append(top, n)
		}
	}

	rest := src
	offset := 0
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				emit(node{kind: nodeText, text: rest})
			}
			break
		}
		if open > 0 {
			emit(node{kind: nodeText, text: rest[:open]})
		}
		end := strings.Index(rest[open:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated {{ at offset %d", offset+open)
		}
		content := strings.TrimSpace(rest[open+2 : open+end])
		advance := open + end + 2

		switch {
		case content == "":
			return nil, fmt.Errorf("empty directive at offset %d", offset+open)
		case strings.HasPrefix(content, "#if"):
			name := strings.TrimSpace(strings.TrimPrefix(content, "#if"))
			if !reVarName.MatchString(name) {
				return nil, fmt.Errorf("invalid condition %q in {{#if}}", name)
			}
			stack = append(stack, &frame{name: name})
		case content == "else":
			if len(stack) == 0 {
				return nil, fmt.Errorf("{{else}} outside {{#if}} at offset %d", offset+open)
			}
			f := stack[len(stack)-1]
			if f.inElse {
				return nil, fmt.Errorf("duplicate {{else}} in {{#if %s}}", f.name)
			}
			f.inElse = true
		case content == "/if":
			if len(stack) == 0 {
				return nil, fmt.Errorf("{{/if}} without {{#if}} at offset %d", offset+open)
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			emit(node{kind: nodeIf, name: f.name, then: f.then, els: f.els})
		case strings.HasPrefix(content, "#") || strings.HasPrefix(content, "/"):
			return nil, fmt.Errorf("unsupported directive {{%s}}", content)
		default:
			if !reVarName.MatchString(content) {
				return nil, fmt.Errorf("invalid variable name %q", content)
			}
			emit(node{kind: nodeVar, name: content})
		}

		rest = rest[advance:]
		offset += advance
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("unclosed {{#if %s}}", stack[len(stack)-1].name)
	}
	return top, nil
}
