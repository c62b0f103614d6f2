//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go sqlite driver by default; no cgo
// toolchain required to build or cross-compile mcpcored.
const driverName = "sqlite"
