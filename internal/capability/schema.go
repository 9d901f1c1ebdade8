package capability

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParamType is the declared type of a capability argument.
type ParamType string

const (
	TypeAny     ParamType = ""
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Param describes one argument of a capability.
type Param struct {
	Type        ParamType `json:"type,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Schema maps argument names to their declared shape.
type Schema map[string]Param

// Names returns the parameter names in stable order.
func (s Schema) Names() []string { return sortedNames(s) }

func (s Schema) clone() Schema {
	if s == nil {
		return Schema{}
	}
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Validate checks args against the schema and returns a coerced copy.
// Unknown and missing required arguments are rejected. Known arguments
// are coerced toward their declared type when the conversion is lossless
// (for example "42" to 42 for a number); values that cannot be coerced
// are passed through unchanged for the provider to judge.
func (s Schema) Validate(capability string, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, name := range sortedNames(args) {
		p, ok := s[name]
		if !ok {
			return nil, &InvalidArgumentError{Capability: capability, Argument: name, Reason: "unknown argument"}
		}
		out[name] = coerce(p.Type, args[name])
	}
	for _, name := range s.Names() {
		if !s[name].Required {
			continue
		}
		if v, ok := out[name]; !ok || v == nil {
			return nil, &InvalidArgumentError{Capability: capability, Argument: name, Reason: "required argument missing"}
		}
	}
	return out, nil
}

func coerce(t ParamType, v any) any {
	switch t {
	case TypeString:
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		case int:
			return strconv.Itoa(x)
		case int64:
			return strconv.FormatInt(x, 10)
		case bool:
			return strconv.FormatBool(x)
		}
	case TypeNumber:
		switch x := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		case int:
			return float64(x)
		case int64:
			return float64(x)
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f
			}
		}
	case TypeInteger:
		switch x := v.(type) {
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n
			}
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
				return int64(x)
			}
		case int:
			return int64(x)
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n
			}
		}
	case TypeBoolean:
		if x, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b
			}
		}
	case TypeArray:
		if x, ok := v.(string); ok {
			var arr []any
			if err := json.Unmarshal([]byte(x), &arr); err == nil {
				return arr
			}
		}
	case TypeObject:
		if x, ok := v.(string); ok {
			var obj map[string]any
			if err := json.Unmarshal([]byte(x), &obj); err == nil {
				return obj
			}
		}
	}
	return v
}

// String renders the schema compactly for prompts, e.g.
// "channel: string (required), limit: integer".
func (s Schema) String() string {
	if len(s) == 0 {
		return "(no arguments)"
	}
	var sb strings.Builder
	for i, name := range s.Names() {
		if i > 0 {
			sb.WriteString(", ")
		}
		p := s[name]
		t := string(p.Type)
		if t == "" {
			t = "any"
		}
		fmt.Fprintf(&sb, "%s: %s", name, t)
		if p.Required {
			sb.WriteString(" (required)")
		}
	}
	return sb.String()
}
