// Package main is the boohints command line client: one-shot hint queries
// for scripts and editors, plus a REPL for poking at a hints server by hand.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	"github.com/drslump/boohints"
)

// version is set via ldflags during build.
var version = "dev"

// closeGrace bounds the shutdown of the hints server on exit.
const closeGrace = 5 * time.Second

// errProblemsFound reports that a parse query returned compiler errors.
// It maps to a non-zero exit without an extra message.
var errProblemsFound = stderrors.New("compiler problems found")

type globalFlags struct {
	configPath   string
	bin          string
	responseFile string
	dir          string
	logLevel     string
	jsonOut      bool
	extract      string
}

type queryFlags struct {
	file   string
	code   string
	offset int
	line   int
}

func main() {
	os.Exit(run())
}

func run() int {
	var g globalFlags
	var showVersion bool

	flag.StringVar(&g.configPath, "config", "", "Path to YAML configuration file")
	flag.StringVar(&g.bin, "bin", "", "Hints server executable (overrides config)")
	flag.StringVar(&g.responseFile, "rsp", "", "Compiler response file (overrides config and discovery)")
	flag.StringVar(&g.dir, "dir", "", "Working directory for the server")
	flag.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.BoolVar(&g.jsonOut, "json", false, "Print the full JSON response")
	flag.StringVar(&g.extract, "extract", "", "Print only the value at this gjson path of the response")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("boohints %s\n", version)
		return 0
	}

	level, ok := parseLevel(g.logLevel)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", g.logLevel)
		return 2
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 2
	}

	command := args[0]
	switch command {
	case "members", "locals", "globals", "parse", "repl":
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		flag.Usage()
		return 2
	}

	q, err := parseQueryFlags(command, args[1:])
	if err != nil {
		return 2
	}

	cfg := &fileConfig{}
	if g.configPath != "" {
		cfg, err = loadConfig(g.configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sess, err := newSession(cfg, g, q, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()

		_ = sess.Close(closeCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == "repl" {
		if err := runREPL(ctx, sess); err != nil && !stderrors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}

		return 0
	}

	err = runQuery(ctx, sess, command, q, g)
	switch {
	case stderrors.Is(err, errProblemsFound):
		return 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "boohints - query a Boo compiler hints server\n\n")
	fmt.Fprintf(os.Stderr, "Usage: boohints [options] <command> [query options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  members    completion hints for the member access at -offset\n")
	fmt.Fprintf(os.Stderr, "  locals     local symbols visible at -line\n")
	fmt.Fprintf(os.Stderr, "  globals    globally visible symbols\n")
	fmt.Fprintf(os.Stderr, "  parse      compiler diagnostics for the code\n")
	fmt.Fprintf(os.Stderr, "  repl       read raw JSON request lines from stdin\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nQuery options:\n")
	fmt.Fprintf(os.Stderr, "  -file      source file the query is about\n")
	fmt.Fprintf(os.Stderr, "  -code      source text; defaults to the file contents, \"-\" reads stdin\n")
	fmt.Fprintf(os.Stderr, "  -offset    byte offset of the completion point\n")
	fmt.Fprintf(os.Stderr, "  -line      line of the query point\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  boohints -config hints.yaml members -file main.boo -offset 120\n")
	fmt.Fprintf(os.Stderr, "  boohints -bin booish parse -file main.boo\n")
	fmt.Fprintf(os.Stderr, "  boohints -bin booish -json -extract hints.0.name members -file main.boo -offset 42\n")
	fmt.Fprintf(os.Stderr, "  echo '{\"command\":\"globals\",\"fname\":\"main.boo\",\"code\":\"\"}' | boohints -bin booish repl\n")
}

func parseLevel(s string) (slog.Level, bool) {
	switch s {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}

	return 0, false
}

func parseQueryFlags(command string, args []string) (queryFlags, error) {
	var q queryFlags

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&q.file, "file", "", "source file the query is about")
	fs.StringVar(&q.code, "code", "", "source text; defaults to the file contents, \"-\" reads stdin")
	fs.IntVar(&q.offset, "offset", 0, "byte offset of the completion point")
	fs.IntVar(&q.line, "line", 0, "line of the query point")

	if err := fs.Parse(args); err != nil {
		return q, err
	}

	return q, nil
}

// newSession builds the session from config and flags. Flags win over the
// config file; without an explicit response file the queried source file
// drives discovery.
func newSession(cfg *fileConfig, g globalFlags, q queryFlags, logger *slog.Logger) (*boohints.Session, error) {
	bin := g.bin
	if bin == "" {
		bin = cfg.Bin
	}

	if bin == "" {
		return nil, stderrors.New("no hints server executable: set -bin or bin: in the config")
	}

	opts := []boohints.Option{boohints.WithLogger(logger)}

	rsp := g.responseFile
	if rsp == "" {
		rsp = cfg.ResponseFile
	}

	switch {
	case rsp != "":
		opts = append(opts, boohints.WithResponseFile(rsp))
	case q.file != "":
		opts = append(opts, boohints.WithSourceFile(q.file))
	}

	dir := g.dir
	if dir == "" {
		dir = cfg.Dir
	}

	if dir != "" {
		opts = append(opts, boohints.WithWorkingDir(dir))
	}

	if len(cfg.Env) > 0 {
		opts = append(opts, boohints.WithEnv(cfg.Env))
	}

	if cfg.IdleTimeout != nil {
		opts = append(opts, boohints.WithIdleTimeout(cfg.IdleTimeout.Duration))
	}

	if cfg.QueryTimeout != nil {
		opts = append(opts, boohints.WithQueryTimeout(cfg.QueryTimeout.Duration))
	}

	if cfg.Watch {
		opts = append(opts, boohints.WithWatchResponseFile(true))
	}

	return boohints.NewSession(bin, cfg.Args, opts...)
}

func runQuery(ctx context.Context, sess *boohints.Session, command string, q queryFlags, g globalFlags) error {
	code, err := resolveCode(q)
	if err != nil {
		return err
	}

	var resp boohints.Response

	switch command {
	case "members":
		resp, err = sess.Members(ctx, q.file, code, q.offset, q.line)
	case "locals":
		resp, err = sess.Locals(ctx, q.file, code, q.line)
	case "globals":
		resp, err = sess.Globals(ctx, q.file, code)
	case "parse":
		resp, err = sess.Parse(ctx, q.file, code)
	}

	if err != nil {
		return err
	}

	return printResponse(resp, command, g)
}

// resolveCode settles the source text: -code wins, "-" reads stdin, and an
// empty -code falls back to the contents of -file.
func resolveCode(q queryFlags) (string, error) {
	if q.code == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read code from stdin: %w", err)
		}

		return string(data), nil
	}

	if q.code != "" || q.file == "" {
		return q.code, nil
	}

	data, err := os.ReadFile(q.file)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}

	return string(data), nil
}

func printResponse(resp boohints.Response, command string, g globalFlags) error {
	if g.extract != "" {
		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}

		result := gjson.GetBytes(data, g.extract)
		if !result.Exists() {
			return fmt.Errorf("no value at path %q", g.extract)
		}

		fmt.Println(result.String())

		return nil
	}

	if g.jsonOut {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}

		fmt.Println(string(data))

		return nil
	}

	if command == "parse" {
		return printProblems(resp.Problems())
	}

	for _, h := range resp.Hints() {
		fmt.Println(h.Name)
	}

	return nil
}

func printProblems(problems []boohints.Problem) error {
	failed := false

	for _, p := range problems {
		fmt.Printf("%d:%d %s %s\n", p.Line, p.Column, p.Code, p.Message)

		if p.IsError() {
			failed = true
		}
	}

	if failed {
		return errProblemsFound
	}

	return nil
}
