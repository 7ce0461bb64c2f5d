package domain

import "fmt"

// IRValue is the closed set of ways a tool input (or a composite node's
// collection/condition/discriminator) can be resolved against a Scope at
// invocation time: a literal, a scope variable, a node-output reference,
// or an expression.
type IRValue interface {
	irValue()
	// Kind returns the discriminator used when (de)serializing a plan.
	Kind() string
}

// Literal is a value embedded directly in the plan.
type Literal struct {
	Value any
}

func (Literal) irValue()        {}
func (Literal) Kind() string    { return "literal" }
func (l Literal) String() string { return fmt.Sprintf("Literal(%v)", l.Value) }

// Variable resolves a name in the current scope chain and then walks Path
// as property/index access ("$name.a.b" -> Variable{Name:"name", Path:["a","b"]}).
type Variable struct {
	Name string
	Path []string
}

func (Variable) irValue()     {}
func (Variable) Kind() string { return "variable" }
func (v Variable) String() string {
	return fmt.Sprintf("Variable(%s, %v)", v.Name, v.Path)
}

// Reference resolves to a previously completed node's recorded output, or a
// named sub-field of it when OutputName is set.
type Reference struct {
	NodeID     string
	OutputName string
}

func (Reference) irValue()     {}
func (Reference) Kind() string { return "reference" }
func (r Reference) String() string {
	return fmt.Sprintf("Reference(%s, %s)", r.NodeID, r.OutputName)
}

// Expression holds a restricted-grammar boolean/comparison expression
// (spec C1): literals, "$name.path" variable references, binary comparisons,
// unary "!", and the whitelisted calls contains(s, substr) / length(x).
type Expression struct {
	Source string
}

func (Expression) irValue()     {}
func (Expression) Kind() string { return "expression" }
func (e Expression) String() string {
	return fmt.Sprintf("Expression(%q)", e.Source)
}

// ParseVariableRef interprets a plan string value of the form "$name",
// "$name.field.subfield" or "$nodeId.output". Strings not starting with
// "$" are not references and ParseVariableRef returns ok=false so callers
// treat them as Literal.
func ParseVariableRef(s string) (IRValue, bool) {
	if len(s) == 0 || s[0] != '$' {
		return nil, false
	}
	body := s[1:]
	if body == "" {
		return nil, false
	}
	parts := splitDotPath(body)
	if len(parts) == 0 {
		return nil, false
	}
	name := parts[0]
	rest := parts[1:]
	// "$nodeId.output" is recognized as a Reference only when the second
	// segment is literally "output"; anything else is a Variable path.
	if len(rest) >= 1 && rest[0] == "output" {
		outputName := ""
		if len(rest) > 1 {
			outputName = joinDotPath(rest[1:])
		}
		return Reference{NodeID: name, OutputName: outputName}, true
	}
	return Variable{Name: name, Path: rest}, true
}

func splitDotPath(s string) []string {
	var parts []string
	cur := ""
	for _, r := range s {
		if r == '.' {
			parts = append(parts, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	parts = append(parts, cur)
	return parts
}

func joinDotPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
