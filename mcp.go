package boohints

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	internalmcp "github.com/drslump/boohints/internal/mcp"
)

// Re-export MCP types for public API.
type (
	// CallToolRequest is the request passed to tool handlers.
	CallToolRequest = mcp.CallToolRequest

	// CallToolResult is the server's response to a tool call.
	CallToolResult = mcp.CallToolResult

	// Schema is a JSON Schema object for tool input validation.
	Schema = jsonschema.Schema

	// ToolServer is a programmatic MCP tool registry; see NewToolServer.
	ToolServer = internalmcp.ToolServer
)

const toolServerVersion = "1.0.0"

// NewToolServer exposes the registry's sessions as MCP tools, so MCP-capable
// editors and agents can query the hints server without linking this module.
//
// Registered tools:
//
//	boo_members  completions for a member access (file, code, offset, line)
//	boo_locals   locals visible at a line (file, code, line)
//	boo_globals  globally visible symbols (file, code)
//	boo_parse    parse diagnostics (file, code)
//	boo_reset    close every pooled session
//
// Each call resolves its session through the registry from the file
// argument, so files in the same project share a server. The host owns the
// MCP transport; it routes tools/list to ListTools and tools/call to
// CallTool.
func NewToolServer(reg *Registry, bin string, args []string, opts ...Option) *ToolServer {
	o := applyOptions(opts)

	logger := o.Logger
	if logger == nil {
		logger = NopLogger()
	}

	t := &hintsTools{
		log:  logger.With("component", "tool_server"),
		reg:  reg,
		bin:  bin,
		args: args,
		opts: opts,
	}

	srv := internalmcp.NewToolServer("boohints", toolServerVersion)

	srv.AddTool(internalmcp.NewTool(
		"boo_members",
		"List completion hints for the member access ending at the given offset.",
		internalmcp.ObjectSchema(map[string]string{
			"file":   "string",
			"code":   "string",
			"offset": "int",
			"line":   "int",
		}),
	), t.members)

	srv.AddTool(internalmcp.NewTool(
		"boo_locals",
		"List the local symbols visible at the given line.",
		internalmcp.ObjectSchema(map[string]string{
			"file": "string",
			"code": "string",
			"line": "int",
		}),
	), t.locals)

	srv.AddTool(internalmcp.NewTool(
		"boo_globals",
		"List the globally visible symbols for the file.",
		internalmcp.ObjectSchema(map[string]string{
			"file": "string",
			"code": "string",
		}),
	), t.globals)

	srv.AddTool(internalmcp.NewTool(
		"boo_parse",
		"Type check the code and report compiler diagnostics.",
		internalmcp.ObjectSchema(map[string]string{
			"file": "string",
			"code": "string",
		}),
	), t.parse)

	srv.AddTool(internalmcp.NewTool(
		"boo_reset",
		"Stop every pooled hints server. The next query starts fresh ones.",
		internalmcp.ObjectSchema(nil),
	), t.reset)

	return srv
}

// hintsTools carries the registry wiring shared by the tool handlers.
type hintsTools struct {
	log  *slog.Logger
	reg  *Registry
	bin  string
	args []string
	opts []Option
}

// session resolves the pooled session for the file a tool call names.
func (t *hintsTools) session(file string) (*Session, error) {
	opts := make([]Option, 0, len(t.opts)+1)
	opts = append(opts, t.opts...)
	opts = append(opts, WithSourceFile(file))

	return t.reg.Session(t.bin, t.args, opts...)
}

type membersArgs struct {
	File   string `json:"file"`
	Code   string `json:"code"`
	Offset int    `json:"offset"`
	Line   int    `json:"line"`
}

func (t *hintsTools) members(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args membersArgs
	if err := internalmcp.DecodeArguments(req, &args); err != nil {
		return internalmcp.ErrorResult("invalid arguments: " + err.Error()), nil
	}

	sess, err := t.session(args.File)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	resp, err := sess.Members(ctx, args.File, args.Code, args.Offset, args.Line)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	return t.jsonResult(resp), nil
}

type localsArgs struct {
	File string `json:"file"`
	Code string `json:"code"`
	Line int    `json:"line"`
}

func (t *hintsTools) locals(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args localsArgs
	if err := internalmcp.DecodeArguments(req, &args); err != nil {
		return internalmcp.ErrorResult("invalid arguments: " + err.Error()), nil
	}

	sess, err := t.session(args.File)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	resp, err := sess.Locals(ctx, args.File, args.Code, args.Line)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	return t.jsonResult(resp), nil
}

type fileArgs struct {
	File string `json:"file"`
	Code string `json:"code"`
}

func (t *hintsTools) globals(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args fileArgs
	if err := internalmcp.DecodeArguments(req, &args); err != nil {
		return internalmcp.ErrorResult("invalid arguments: " + err.Error()), nil
	}

	sess, err := t.session(args.File)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	resp, err := sess.Globals(ctx, args.File, args.Code)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	return t.jsonResult(resp), nil
}

func (t *hintsTools) parse(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args fileArgs
	if err := internalmcp.DecodeArguments(req, &args); err != nil {
		return internalmcp.ErrorResult("invalid arguments: " + err.Error()), nil
	}

	sess, err := t.session(args.File)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	resp, err := sess.Parse(ctx, args.File, args.Code)
	if err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	return t.jsonResult(resp), nil
}

func (t *hintsTools) reset(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.reg.ResetAll(ctx); err != nil {
		return internalmcp.ErrorResult(err.Error()), nil
	}

	return internalmcp.TextResult("all sessions reset"), nil
}

func (t *hintsTools) jsonResult(resp Response) *mcp.CallToolResult {
	data, err := json.Marshal(resp)
	if err != nil {
		t.log.Error("cannot encode tool response", "error", err)

		return internalmcp.ErrorResult("encode response: " + err.Error())
	}

	return internalmcp.TextResult(string(data))
}
