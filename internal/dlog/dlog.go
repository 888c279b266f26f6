// Package dlog is a fmt-free logging helper for cold paths only:
// builder construction failures, queue-full counters, shutdown messages.
// It must never be called from the allocation fast path (spec §4.6's "no
// locking and no dynamic allocation beyond the backend call").
//
// Modeled on the teacher's ISR-aligned error logger: no fmt.Sprintf, no
// interfaces, direct string concatenation written straight to stderr.
package dlog

import (
	"os"
	"strconv"
)

// Message prints a "prefix: text\n" line to stderr without going through
// fmt. Safe to call from any goroutine; never called from the fast path.
func Message(prefix, text string) {
	os.Stderr.WriteString(prefix + ": " + text + "\n")
}

// Error prints a "prefix: err\n" line, or just the prefix if err is nil
// (used for bare diagnostic tags, e.g. a dropped-event tick).
func Error(prefix string, err error) {
	if err != nil {
		os.Stderr.WriteString(prefix + ": " + err.Error() + "\n")
		return
	}
	os.Stderr.WriteString(prefix + "\n")
}

// Itoa is strconv.Itoa by another name, kept here so call sites that build
// log lines by concatenation (rather than fmt.Sprintf) don't need to import
// strconv directly — matches the teacher's "avoid fmt in cold-path logging
// helpers" convention even though Itoa itself isn't on the fast path.
func Itoa(n int) string {
	return strconv.Itoa(n)
}
