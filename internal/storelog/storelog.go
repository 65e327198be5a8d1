// Package storelog wraps the standard library's log package with the
// leveled prefixes the store and compactor use for operational tracing.
package storelog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// Storef logs a store-level event.
func Storef(format string, args ...interface{}) {
	std.Printf("[store] "+format, args...)
}

// Flushf logs a memtable flush event.
func Flushf(format string, args ...interface{}) {
	std.Printf("[flush] "+format, args...)
}

// Compactf logs a compaction event.
func Compactf(format string, args ...interface{}) {
	std.Printf("[compact] "+format, args...)
}
