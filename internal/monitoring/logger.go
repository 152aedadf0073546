// Package monitoring holds the diagnostic logger shared by the library
// packages. Commands keep using the log package directly.
package monitoring

import "log"

// Logf defaults to log.Printf. Replace it with SetLogger.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces Logf. A nil function mutes all output.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
