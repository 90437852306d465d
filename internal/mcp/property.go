package mcp

import (
	"fmt"
	"math"
)

// PropertyType is the JSON schema type of a tool argument.
type PropertyType string

const (
	PropertyBoolean PropertyType = "boolean"
	PropertyInteger PropertyType = "integer"
	PropertyString  PropertyType = "string"
)

// Property describes one tool argument. Without a default it is required.
type Property struct {
	name       string
	typ        PropertyType
	value      any
	hasDefault bool
	hasRange   bool
	min, max   int
}

func Bool(name string) Property {
	return Property{name: name, typ: PropertyBoolean}
}

func Integer(name string) Property {
	return Property{name: name, typ: PropertyInteger}
}

func IntegerRange(name string, min, max int) Property {
	return Property{name: name, typ: PropertyInteger, hasRange: true, min: min, max: max}
}

func String(name string) Property {
	return Property{name: name, typ: PropertyString}
}

// WithDefault makes the property optional. The caller is responsible for
// passing a value matching the property type.
func (p Property) WithDefault(v any) Property {
	p.value = v
	p.hasDefault = true
	return p
}

func (p Property) Name() string { return p.name }

func (p Property) Bool() bool {
	v, _ := p.value.(bool)
	return v
}

func (p Property) Int() int {
	v, _ := p.value.(int)
	return v
}

func (p Property) String() string {
	v, _ := p.value.(string)
	return v
}

// PropertyList is an ordered set of tool arguments.
type PropertyList []Property

func (l PropertyList) Get(name string) (Property, bool) {
	for _, p := range l {
		if p.name == name {
			return p, true
		}
	}
	return Property{}, false
}

// bind resolves incoming arguments against the declared list. A value only
// binds on an exact type match; anything else falls back to the default or
// fails naming the argument. Out-of-range integers abort the bind.
func (l PropertyList) bind(args map[string]any) (PropertyList, error) {
	bound := make(PropertyList, len(l))
	for i, p := range l {
		resolved := p
		found := false
		if raw, ok := args[p.name]; ok {
			switch p.typ {
			case PropertyBoolean:
				if v, isBool := raw.(bool); isBool {
					resolved.value = v
					found = true
				}
			case PropertyInteger:
				if v, isNum := raw.(float64); isNum && v == math.Trunc(v) {
					n := int(v)
					if p.hasRange && (n < p.min || n > p.max) {
						return nil, fmt.Errorf("argument %s is out of range [%d, %d]", p.name, p.min, p.max)
					}
					resolved.value = n
					found = true
				}
			case PropertyString:
				if v, isStr := raw.(string); isStr {
					resolved.value = v
					found = true
				}
			}
		}
		if !found && !resolved.hasDefault {
			return nil, fmt.Errorf("missing valid argument: %s", p.name)
		}
		bound[i] = resolved
	}
	return bound, nil
}

// schema renders the inputSchema fragment of the tool descriptor.
func (l PropertyList) schema() map[string]any {
	properties := make(map[string]any, len(l))
	var required []string
	for _, p := range l {
		entry := map[string]any{"type": string(p.typ)}
		if p.hasRange {
			entry["minimum"] = p.min
			entry["maximum"] = p.max
		}
		if p.hasDefault {
			entry["default"] = p.value
		} else {
			required = append(required, p.name)
		}
		properties[p.name] = entry
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
