// Package timeouts defines shared timeout constants used across the reader.
// Each bound is a default; configuration may override it at startup.
package timeouts

import "time"

// EntropyTier caps a single entropy-source tier attempt, all fetch rounds included.
const EntropyTier = 5 * time.Second

// ModelCall caps one streamed conversation-model call.
const ModelCall = 60 * time.Second

// Interpretation caps the interpretation model stream.
const Interpretation = 90 * time.Second

// Summarize caps the summarization call.
const Summarize = 45 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SessionSweep is how often idle sessions are swept from memory.
const SessionSweep = 5 * time.Minute
