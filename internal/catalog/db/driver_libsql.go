//go:build cgo

package db

// The libSQL driver links a prebuilt native library, so remote Turso
// databases are only reachable from cgo builds.
import _ "github.com/tursodatabase/go-libsql"
