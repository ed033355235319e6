// Package transport spawns a hints server process and multiplexes its pipes.
//
// The wire protocol is one message per line. Requests and the literal quit
// directive go to stdin. Stdout lines are classified: lines starting with #!
// are server commands, lines starting with # are diagnostics, and everything
// else is a JSON response. Stderr is routed to the log and kept as a capped
// tail for exit diagnostics.
//
// A PipeTransport drives exactly one process generation: once its process
// has exited it is done, and a restart means a fresh PipeTransport.
package transport
