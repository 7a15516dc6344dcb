package core

import "context"

// Args are the keyword arguments of a tool call.
type Args map[string]any

// Result is the mapping returned by a tool.
type Result map[string]any

// Tool is a named capability invoked through the broker.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args Args) (Result, error)
}

// ToolFunc adapts a function into a Tool.
type ToolFunc struct {
	ToolName string
	Fn       func(ctx context.Context, args Args) (Result, error)
}

// Name implements Tool.
func (t ToolFunc) Name() string { return t.ToolName }

// Execute implements Tool.
func (t ToolFunc) Execute(ctx context.Context, args Args) (Result, error) {
	return t.Fn(ctx, args)
}

// SecurityChecker is the external security policy consulted by the broker
// (with tool args) and by the agent lifecycle (with the payload).
type SecurityChecker interface {
	Check(ctx context.Context, payload any) (bool, error)
}

// SecurityFunc adapts a function into a SecurityChecker.
type SecurityFunc func(ctx context.Context, payload any) (bool, error)

// Check implements SecurityChecker.
func (f SecurityFunc) Check(ctx context.Context, payload any) (bool, error) { return f(ctx, payload) }

// Counter receives named counter increments such as "copywriter.success".
type Counter interface {
	Increment(ctx context.Context, name string)
}

// String returns the string value stored under key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the integer stored under key, accepting JSON numbers.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// String returns the string value stored under key, or "".
func (r Result) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool returns the bool value stored under key, or false.
func (r Result) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Strings returns the string list stored under key. JSON-decoded
// []any values are converted.
func (r Result) Strings(key string) []string {
	return toStrings(r[key])
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
