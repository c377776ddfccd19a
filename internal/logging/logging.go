// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "***REDACTED***"

var sensitiveKeys = map[string]struct{}{
	"privatekey":    {},
	"secret":        {},
	"password":      {},
	"token":         {},
	"authorization": {},
	"signature":     {},
}

// Init installs a JSON logger on stderr at level as the default logger
func Init(level string) {
	slog.SetDefault(New(os.Stderr, level))
}

// New returns a JSON logger writing to w. Unknown levels fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	var programLevel slog.Level
	if err := (&programLevel).UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", level, err)
		programLevel = slog.LevelInfo
	}

	leveler := &slog.LevelVar{}
	leveler.Set(programLevel)

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		Level:       leveler,
		ReplaceAttr: redact,
	})
	return slog.New(h)
}

// redact masks attributes whose key names a secret.
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}
