// Package session manages the lifecycle of a single hints server process and
// brokers queries to it.
//
// A Session owns at most one child process at a time. Queries are serialized
// by a broker lock held for the whole round trip, including an on-demand
// start, so the server only ever sees one request in flight. The process is
// started lazily, stopped after an idle period, recycled when the server
// announces that a referenced assembly changed, and marked invalid when it
// dies while a query is waiting on it.
//
// Each process generation gets its own transport and its own reader
// goroutines. Responses, server commands and read errors arrive on channels;
// a consumer goroutine routes them to the waiting query or to the lifecycle
// handlers, so nothing polls.
package session
