package session

import (
	"context"

	"github.com/drslump/boohints/internal/transport"
)

// Transport is the line-oriented pipe to one hints server process. One
// transport corresponds to one process generation; after Done is closed the
// transport is spent and a fresh one must be built for the next start.
type Transport interface {
	// Start spawns the process and begins reading its output.
	Start(ctx context.Context) error

	// SendLine writes one framed request line to the process stdin.
	SendLine(ctx context.Context, data []byte) error

	// Responses yields decoded JSON response lines.
	Responses() <-chan map[string]any

	// Commands yields server command lines, with the marker prefix stripped.
	Commands() <-chan string

	// Errors yields lines that could not be decoded as responses.
	Errors() <-chan error

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// ExitErr reports an abnormal exit, nil otherwise. Valid after Done.
	ExitErr() error

	// Alive reports whether the process is started and not yet reaped.
	Alive() bool

	// Stop terminates the process, escalating from a quit request through
	// SIGTERM to SIGKILL.
	Stop(ctx context.Context) error
}

var _ Transport = (*transport.PipeTransport)(nil)

// Factory builds the transport for one process generation. Tests swap it out
// to run a session against a scripted double.
type Factory func(cfg transport.Config) Transport

func defaultFactory(cfg transport.Config) Transport {
	return transport.New(cfg)
}
