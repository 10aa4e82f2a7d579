package logger

import (
	"fmt"

	"github.com/rs/zerolog"
)

// MCP logging levels accepted by logging/setLevel, mapped onto zerolog.
// "critical" maps to fatal: like the upstream protocol level, it silences
// plain errors.
var mcpLevels = map[string]zerolog.Level{
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"critical": zerolog.FatalLevel,
}

// SupportedLevels lists the accepted MCP logging levels in severity order.
func SupportedLevels() []string {
	return []string{"debug", "info", "warning", "error", "critical"}
}

// SetLevel mutates the process-wide log verbosity. Unrecognized levels are
// rejected.
func SetLevel(level string) error {
	zl, ok := mcpLevels[level]
	if !ok {
		return fmt.Errorf("invalid logging level: %s", level)
	}
	zerolog.SetGlobalLevel(zl)
	return nil
}

// GlobalLevel returns the current process-wide zerolog level.
func GlobalLevel() zerolog.Level {
	return zerolog.GlobalLevel()
}
