//go:build sqlite_cgo

package store

// Build with -tags sqlite_cgo on platforms where cgo is already linked and
// the faster mattn/go-sqlite3 driver is preferred over the pure-Go one in
// driver_default.go. SQLiteConversationStore's database/sql calls are
// unaffected either way.

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
