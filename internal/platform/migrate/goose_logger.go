package migrate

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// gooseSlogLogger routes goose's migration progress into the structured
// logger under a migrations component so schema output is filterable.
type gooseSlogLogger struct {
	logger *slog.Logger
}

func (l gooseSlogLogger) Printf(format string, v ...interface{}) {
	if l.logger == nil {
		return
	}
	// goose terminates its own lines; slog adds the newline itself.
	msg := strings.TrimRight(fmt.Sprintf(format, v...), "\n")
	l.logger.Info(msg, slog.String("component", "migrations"))
}

func (l gooseSlogLogger) Fatalf(format string, v ...interface{}) {
	msg := strings.TrimRight(fmt.Sprintf(format, v...), "\n")
	if l.logger != nil {
		l.logger.Error(msg, slog.String("component", "migrations"))
	}
	os.Exit(1)
}
