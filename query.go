package boohints

import (
	"context"
	"strings"
)

// Response is one decoded reply from the hints server. The payload shape is
// owned by the server, so fields are accessed by key; Hints and Problems
// decode the two common shapes.
type Response map[string]any

// Hint is one completion entry from a members, locals or globals query.
type Hint struct {
	// Name is the completion text.
	Name string

	// Node is the entity kind, such as Method, Field or Namespace.
	Node string

	// Info carries the signature or type, when the server knows it.
	Info string

	// Doc is the docstring, when available.
	Doc string
}

// Problem is one diagnostic from a parse query.
type Problem struct {
	Line    int
	Column  int
	Code    string
	Message string
}

// IsError reports whether the problem is a compiler error rather than a
// warning. Error codes carry the BCE prefix.
func (p Problem) IsError() bool {
	return strings.HasPrefix(p.Code, "BCE")
}

// Hints decodes the completion entries of a members, locals or globals
// response. Entries the server shaped differently are skipped.
func (r Response) Hints() []Hint {
	items, ok := r["hints"].([]any)
	if !ok {
		return nil
	}

	hints := make([]Hint, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		hints = append(hints, Hint{
			Name: asString(m["name"]),
			Node: asString(m["node"]),
			Info: asString(m["info"]),
			Doc:  asString(m["doc"]),
		})
	}

	return hints
}

// Problems decodes the diagnostics of a parse response.
func (r Response) Problems() []Problem {
	items, ok := r["hints"].([]any)
	if !ok {
		return nil
	}

	problems := make([]Problem, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		problems = append(problems, Problem{
			Line:    asInt(m["line"]),
			Column:  asInt(m["column"]),
			Code:    asString(m["code"]),
			Message: asString(m["message"]),
		})
	}

	return problems
}

func asString(v any) string {
	s, _ := v.(string)

	return s
}

func asInt(v any) int {
	f, _ := v.(float64)

	return int(f)
}

// Members lists completions for the member access ending at offset. line is
// the 1-based cursor line, used by the server to scope its lookup.
func (s *Session) Members(ctx context.Context, file, code string, offset, line int) (Response, error) {
	return s.Query(ctx, "members", map[string]any{
		"fname":  file,
		"code":   code,
		"offset": offset,
		"line":   line,
	})
}

// Locals lists the local symbols visible at the given line.
func (s *Session) Locals(ctx context.Context, file, code string, line int) (Response, error) {
	return s.Query(ctx, "locals", map[string]any{
		"fname": file,
		"code":  code,
		"line":  line,
	})
}

// Globals lists the globally visible symbols for the file.
func (s *Session) Globals(ctx context.Context, file, code string) (Response, error) {
	return s.Query(ctx, "globals", map[string]any{
		"fname": file,
		"code":  code,
	})
}

// Parse type checks the code and returns its diagnostics; see
// Response.Problems.
func (s *Session) Parse(ctx context.Context, file, code string) (Response, error) {
	return s.Query(ctx, "parse", map[string]any{
		"fname": file,
		"code":  code,
	})
}
