package pipeline

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns a text logger on stderr, also writing to a rotated
// logFile when one is set. The returned closer releases the file.
func NewLogger(debug bool, logFile string) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if strings.TrimSpace(logFile) != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer
}
