// Package boohints manages hints server sessions for the Boo compiler.
//
// A hints server is a long-lived compiler process that answers code
// intelligence queries (member completion, locals, globals, parse
// diagnostics) over a line-oriented JSON protocol on its standard pipes.
// Starting one is expensive, so this package keeps servers alive between
// queries, starts them on demand, stops them when idle and recycles them
// when the assemblies they reference change.
//
// # Basic Usage
//
// Sessions are pooled in a Registry, keyed by executable, arguments, working
// directory and response file. Asking twice for the same identity returns
// the same session:
//
//	reg := boohints.NewRegistry(
//	    boohints.WithLogger(slog.Default()),
//	)
//	defer reg.Close(context.Background())
//
//	sess, err := reg.Session("booish", []string{"-hints-server"},
//	    boohints.WithSourceFile("/proj/src/main.boo"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := sess.Members(ctx, "/proj/src/main.boo", code, offset, line)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, hint := range resp.Hints() {
//	    fmt.Println(hint.Name, hint.Info)
//	}
//
// The first query starts the server; later queries reuse it. Queries are
// serialized per session, so a server only ever sees one request at a time.
//
// # Async Queries
//
// QueryAsync queues work for a per-session dispatcher goroutine and returns
// immediately. Queued queries run one at a time in submission order:
//
//	err := sess.QueryAsync("parse", map[string]any{"fname": file, "code": code},
//	    func(resp boohints.Response, err error) {
//	        if err != nil {
//	            log.Print(err)
//	            return
//	        }
//	        // process resp...
//	    })
//
// # Response Files
//
// A compiler response file (*.rsp) next to the sources names the assemblies
// a project references. When a session is created with WithSourceFile, the
// nearest response file up the directory tree is used to derive server
// arguments and the working directory. WithWatchResponseFile recycles the
// server whenever that file changes on disk.
//
// # Error Handling
//
// Failures surface as typed errors:
//
//	resp, err := sess.Parse(ctx, file, code)
//	if err != nil {
//	    if errors.Is(err, boohints.ErrQueryTimeout) {
//	        // server busy or wedged; the session stays usable if the
//	        // process survived
//	    }
//	    if errors.Is(err, boohints.ErrSessionInvalid) {
//	        // the server died mid-query; drop the session and build a
//	        // fresh one
//	    }
//	}
//
// # Requirements
//
// A hints-capable Boo compiler build must be available; the executable path
// is passed to NewSession or Registry.Session.
package boohints
