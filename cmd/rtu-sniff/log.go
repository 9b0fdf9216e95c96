package main

import "log/slog"

// debugAdapter bridges the parser's Printf-shaped logger to log/slog,
// the same adaptation the teacher's CLI uses for its client handlers.
type debugAdapter struct {
	*slog.Logger
}

func (log *debugAdapter) Printf(msg string, args ...any) {
	log.Logger.Debug(msg, args...)
}
