package observability

import "github.com/tphakala/go-playback/internal/logger"

// Package-level cached logger instance
var log = logger.Global().Module("telemetry")
