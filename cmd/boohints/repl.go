package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/drslump/boohints"
)

// maxRequestLine caps the size of one REPL request line.
const maxRequestLine = 1024 * 1024 // 1MB

// runREPL reads raw JSON request lines from stdin and prints one JSON
// response line per request. A literal "quit" line or stdin EOF ends the
// session. Reading and querying run as separate halves so the next request
// is already parsed while the server works on the current one.
func runREPL(ctx context.Context, sess *boohints.Session) error {
	requests := make(chan map[string]any, 1)

	g, ctx := errgroup.WithContext(ctx)

	// Unblock the stdin read when the context ends, otherwise a signal
	// would leave the reader stuck until the next line.
	stop := context.AfterFunc(ctx, func() { _ = os.Stdin.Close() })
	defer stop()

	g.Go(func() error {
		defer close(requests)

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, maxRequestLine), maxRequestLine)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			if line == "quit" {
				return nil
			}

			var req map[string]any
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				fmt.Fprintf(os.Stderr, "invalid request: %v\n", err)
				continue
			}

			select {
			case requests <- req:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("read stdin: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		for req := range requests {
			command, _ := req["command"].(string)
			if command == "" {
				fmt.Fprintln(os.Stderr, "request missing command field")
				continue
			}

			delete(req, "command")

			resp, err := sess.Query(ctx, command, req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
				continue
			}

			data, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("encode response: %w", err)
			}

			fmt.Println(string(data))
		}

		return nil
	})

	return g.Wait()
}
