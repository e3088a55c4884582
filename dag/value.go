package dag

import (
	"encoding/json"
	"regexp"
)

// placeholderPattern matches the wire placeholder syntax
// {{tasks.<node_id>.outputs.<field_name>}}.
var placeholderPattern = regexp.MustCompile(`\{\{tasks\.([a-zA-Z0-9_-]+)\.outputs\.([a-zA-Z0-9_]+)\}\}`)

// ValueKind discriminates the compiled input-value union.
type ValueKind int

const (
	// KindLiteral is a JSON value with no placeholder references.
	KindLiteral ValueKind = iota
	// KindRef is a string input that was exactly one placeholder; the
	// resolved value replaces the string wholesale, preserving its type.
	KindRef
	// KindTemplate is a string containing one or more placeholders
	// interleaved with literal text; resolution is always a string.
	KindTemplate
)

// Ref names a single upstream output reference.
type Ref struct {
	NodeID string
	Field  string
}

// TemplatePart is either a literal text run or a reference to substitute.
type TemplatePart struct {
	IsRef   bool
	Literal string
	Ref     Ref
}

// Value is the compiled form of one task input, built once at validation
// time rather than re-parsed on every resolution. This replaces the source
// pattern of placeholder strings embedded in otherwise-structured JSON with
// a small algebraic type: Literal(json) | Ref(node_id, field) | a
// literal/ref template for partial string interpolation.
type Value struct {
	Kind     ValueKind
	Literal  json.RawMessage
	Ref      Ref
	Template []TemplatePart
}

// Refs returns every upstream (node_id, field) reference this value depends on.
func (v Value) Refs() []Ref {
	switch v.Kind {
	case KindRef:
		return []Ref{v.Ref}
	case KindTemplate:
		var refs []Ref
		for _, p := range v.Template {
			if p.IsRef {
				refs = append(refs, p.Ref)
			}
		}
		return refs
	default:
		return nil
	}
}

// CompileValue parses one raw JSON input value into its compiled Value form.
func CompileValue(raw json.RawMessage) Value {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Not a JSON string (number, bool, object, array, null): literal as-is.
		return Value{Kind: KindLiteral, Literal: raw}
	}

	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return Value{Kind: KindLiteral, Literal: raw}
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		m := matches[0]
		return Value{Kind: KindRef, Ref: Ref{
			NodeID: s[m[2]:m[3]],
			Field:  s[m[4]:m[5]],
		}}
	}

	var parts []TemplatePart
	last := 0
	for _, m := range matches {
		if m[0] > last {
			parts = append(parts, TemplatePart{Literal: s[last:m[0]]})
		}
		parts = append(parts, TemplatePart{
			IsRef: true,
			Ref: Ref{
				NodeID: s[m[2]:m[3]],
				Field:  s[m[4]:m[5]],
			},
		})
		last = m[1]
	}
	if last < len(s) {
		parts = append(parts, TemplatePart{Literal: s[last:]})
	}

	return Value{Kind: KindTemplate, Template: parts}
}
