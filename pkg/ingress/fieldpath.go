package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Source is where a field path reads from.
type Source string

const (
	SourceHeader  Source = "header"
	SourceQuery   Source = "query"
	SourceBody    Source = "body"
	SourceContext Source = "context"
)

// FieldPath locates a value on an inbound request.
type FieldPath struct {
	Source Source
	Key    string
}

// ParseFieldPath parses "<source>.<key>". An empty string yields the zero
// FieldPath, which resolves to "".
func ParseFieldPath(s string) (FieldPath, error) {
	if strings.TrimSpace(s) == "" {
		return FieldPath{}, nil
	}
	src, key, ok := strings.Cut(s, ".")
	if !ok || key == "" {
		return FieldPath{}, fmt.Errorf("field path %q: want <source>.<key>", s)
	}
	switch Source(src) {
	case SourceHeader, SourceQuery, SourceBody, SourceContext:
	default:
		return FieldPath{}, fmt.Errorf("field path %q: unknown source %q", s, src)
	}
	return FieldPath{Source: Source(src), Key: key}, nil
}

// IsZero reports whether p locates nothing.
func (p FieldPath) IsZero() bool {
	return p.Source == ""
}

func (p FieldPath) String() string {
	if p.IsZero() {
		return ""
	}
	return string(p.Source) + "." + p.Key
}

// Resolve returns the value at p, or "" when absent. body is the decoded
// JSON body and may be nil.
func (p FieldPath) Resolve(r *http.Request, body map[string]any) string {
	switch p.Source {
	case SourceHeader:
		return strings.TrimSpace(r.Header.Get(p.Key))
	case SourceQuery:
		return strings.TrimSpace(r.URL.Query().Get(p.Key))
	case SourceBody:
		return lookup(body, strings.Split(p.Key, "."))
	case SourceContext:
		v, _ := r.Context().Value(contextKey(p.Key)).(string)
		return v
	}
	return ""
}

func lookup(node any, path []string) string {
	for _, part := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return ""
		}
		node = m[part]
	}
	switch v := node.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

type contextKey string

// WithValue stores a value that "context.<key>" field paths resolve.
// Authentication middleware in front of the adapter uses it to expose the
// caller's identity.
func WithValue(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, contextKey(key), value)
}
