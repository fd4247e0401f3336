// Package timeouts defines timeout defaults shared by cache processes.
package timeouts

import "time"

// Dial bounds how long clients wait for the cache service to report healthy.
const Dial = 2 * time.Second

// HealthProbe bounds a single unary health check round trip.
const HealthProbe = time.Second

// Shutdown bounds the telemetry flush when a process exits.
const Shutdown = 5 * time.Second
