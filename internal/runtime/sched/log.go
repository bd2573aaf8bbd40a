package sched

import "github.com/rs/zerolog"

// logger is the package logger. Scheduling is hot, so the default is a nop
// logger; embedders that want the protocol trace install their own.
var logger = zerolog.Nop()

// SetLogger installs the runtime logger. Call before starting a pool.
func SetLogger(l zerolog.Logger) {
	logger = l
}
