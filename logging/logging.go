// Package logging configures the process wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup applies level, format and output to the standard logrus logger.
// When file is set, output is also written to a size rotated log file and
// the returned closer flushes it. An unknown level falls back to info with a
// warning.
func Setup(level, format, file string) io.Closer {
	parsed, levelErr := log.ParseLevel(strings.TrimSpace(level))
	if levelErr != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = io.NopCloser(nil)
	if file == "" {
		log.SetOutput(os.Stderr)
	} else {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
		closer = rotator
	}

	if levelErr != nil {
		log.Warnf("invalid LOG_LEVEL %q, using %v: %v", level, parsed, levelErr)
	}
	return closer
}
