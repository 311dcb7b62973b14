package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types"
)

var logger zerolog.Logger

func init() {
	logger = newLogger(os.Stdout)
}

func newLogger(out io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "2006/01/02 15:04:05"}).
		With().
		Timestamp().
		Str("app", "outreach-agent").
		Logger()
}

// SetLogLevel accepts debug, info, warn or error. Unknown values fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn", "warning":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
}

// SetLogOutput redirects all log lines, keeping the current level.
func SetLogOutput(out io.Writer) {
	level := logger.GetLevel()
	logger = newLogger(out).Level(level)
}

// Logger exposes the underlying zerolog logger for libraries that take one.
func Logger() zerolog.Logger {
	return logger
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func LogDebug(format string, v ...interface{}) {
	logger.Debug().Str("caller", caller(2)).Msgf(format, v...)
}

func LogInfo(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}

func LogError(format string, v ...interface{}) {
	logger.Error().Str("caller", caller(2)).Msgf(format, v...)
}

func LogWarning(format string, v ...interface{}) {
	logger.Warn().Str("caller", caller(2)).Msgf(format, v...)
}

func TimeTrack(start time.Time, name string) {
	elapsed := time.Since(start)
	LogDebug("%s levou %s", name, elapsed)
}

// ParseJID turns a canonical phone into a WhatsApp user JID.
func ParseJID(recipient string) (types.JID, error) {
	phone := NormalizePhone(recipient)
	if len(phone) == 11 || len(phone) == 10 {
		phone = "55" + phone
	}
	if phone == "" {
		return types.JID{}, fmt.Errorf("número de telefone vazio")
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}
