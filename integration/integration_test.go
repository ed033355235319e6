//go:build integration

// Package integration exercises the full stack against a real Boo hints
// server. Point BOOHINTS_SERVER_BIN at the server executable (optionally
// BOOHINTS_SERVER_ARGS and BOOHINTS_SOURCE_FILE) and run with
// -tags integration.
package integration

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/drslump/boohints"
)

// serverBin resolves the hints server executable, skipping the test when
// none is configured.
func serverBin(t *testing.T) string {
	t.Helper()

	bin := os.Getenv("BOOHINTS_SERVER_BIN")
	if bin == "" {
		t.Skip("BOOHINTS_SERVER_BIN not set")
	}

	return bin
}

func serverArgs() []string {
	return strings.Fields(os.Getenv("BOOHINTS_SERVER_ARGS"))
}

// sessionOptions builds the standard options: response file discovery when
// BOOHINTS_SOURCE_FILE is set, generous timeouts for slow runtimes.
func sessionOptions(extra ...boohints.Option) []boohints.Option {
	opts := []boohints.Option{
		boohints.WithQueryTimeout(30 * time.Second),
	}

	if src := os.Getenv("BOOHINTS_SOURCE_FILE"); src != "" {
		opts = append(opts, boohints.WithSourceFile(src))
	}

	return append(opts, extra...)
}

func newSession(t *testing.T, extra ...boohints.Option) *boohints.Session {
	t.Helper()

	sess, err := boohints.NewSession(serverBin(t), serverArgs(), sessionOptions(extra...)...)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		_ = sess.Close(ctx)
	})

	return sess
}
