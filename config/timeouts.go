package config

import "time"

// EventTimeout bounds the store and directory calls made while handling a
// single inbound websocket event.
const EventTimeout = 5 * time.Second

// ReadHeaderTimeout limits how long the HTTP server waits for request headers.
const ReadHeaderTimeout = 5 * time.Second

// ShutdownTimeout limits how long the HTTP server waits for in-flight
// requests during graceful shutdown.
const ShutdownTimeout = 5 * time.Second
