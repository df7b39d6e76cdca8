package main

import "sync/atomic"

// Metrics holds the atomic counters reported at debug level when a command
// finishes. Ingest workers update them concurrently.
type Metrics struct {
	TotalCommands atomic.Uint64 // Commands dispatched
	FilesIngested atomic.Uint64 // Inputs fully read by add
	LinesIngested atomic.Uint64 // Elements inserted by add, duplicates included
	BytesIngested atomic.Uint64 // Element bytes hashed by add
}

// NewMetrics creates and returns a new Metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{}
}
