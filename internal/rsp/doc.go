// Package rsp locates and reads compiler response files.
//
// A response file (*.rsp) enumerates extra compiler arguments for a project.
// Only a few line prefixes are meaningful to a hints server invocation:
// assembly references (-r), output assemblies (-o, re-referenced as -r so the
// server loads them instead of writing them), and the -ducky flag. Everything
// else in the file is ignored.
package rsp
