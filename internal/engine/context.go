package engine

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Context carries the variables available to condition args: the config's
// declared variables plus runtime values such as the active module. It is
// threaded explicitly through the controller; there is no process-global
// context.
type Context struct {
	Data map[string]any
}

func NewContext(variables map[string]string) *Context {
	data := make(map[string]any, len(variables)+2)
	for k, v := range variables {
		data[k] = v
	}
	if wd, err := os.Getwd(); err == nil {
		data["project_root"] = wd
		data["cwd"] = wd
	}
	return &Context{Data: data}
}

func (c *Context) Set(key string, value any) {
	c.Data[key] = value
}

func (c *Context) Resolver() *Resolver {
	return &Resolver{data: c.Data}
}

// Resolver substitutes ${var} references, including dotted lookups into
// nested maps. Unresolvable references are left verbatim. Substitution
// repeats up to a bounded depth so a variable's value may itself contain
// variables.
type Resolver struct {
	data map[string]any
}

const maxResolveDepth = 5

func (r *Resolver) ResolveString(text string) string {
	current := text
	for i := 0; i < maxResolveDepth; i++ {
		next := varPattern.ReplaceAllStringFunc(current, r.replace)
		if next == current {
			break
		}
		current = next
	}
	return current
}

func (r *Resolver) ResolveMap(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = r.resolveValue(v)
	}
	return out
}

func (r *Resolver) resolveValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.ResolveString(val)
	case map[string]any:
		return r.ResolveMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.resolveValue(item)
		}
		return out
	default:
		return v
	}
}

func (r *Resolver) replace(match string) string {
	name := match[2 : len(match)-1]

	if strings.Contains(name, ".") {
		var cur any = r.data
		for _, part := range strings.Split(name, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return match
			}
			cur, ok = m[part]
			if !ok {
				return match
			}
		}
		return toString(cur, match)
	}

	if v, ok := r.data[name]; ok {
		return toString(v, match)
	}
	return match
}

func toString(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return fallback
	}
	return fmt.Sprintf("%v", v)
}
