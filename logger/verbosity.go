package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
const (
	VerbosityUser  = 0 // No flags: configured level
	VerbosityInfo  = 1 // -v
	VerbosityDebug = 2 // -vv
)

// VerbosityToLevel maps verbosity flags (-v, -vv) to zap log levels.
// With no flags the configured base level is kept.
//
//	0 (none) -> base
//	1 (-v)   -> InfoLevel (or base, if already lower)
//	2+ (-vv) -> DebugLevel
func VerbosityToLevel(verbosity int, base zapcore.Level) zapcore.Level {
	switch {
	case verbosity >= VerbosityDebug:
		return zapcore.DebugLevel
	case verbosity == VerbosityInfo && base > zapcore.InfoLevel:
		return zapcore.InfoLevel
	default:
		return base
	}
}
