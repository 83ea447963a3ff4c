// Package timeouts holds the deadlines shared by kernel binaries.
package timeouts

import "time"

// ReadHeader limits how long the metrics listener waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown bounds the graceful stop of the metrics listener.
const Shutdown = 2 * time.Second

// TraceFlush bounds flushing buffered spans when a process exits.
const TraceFlush = 5 * time.Second
