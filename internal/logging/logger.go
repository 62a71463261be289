package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level represents logging levels
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Format represents log output format
type Format string

const (
	FormatJSON   Format = "json"   // JSON format for log aggregation
	FormatPretty Format = "pretty" // Human-readable for local dev
)

// Config holds logger configuration
type Config struct {
	Level  Level  // Minimum log level
	Format Format // Output format
}

// NewLogger creates a structured logger for one of the pipeline processes.
//
// Every process tags its log lines with a "service" field so the streams
// from the nine binaries can be told apart in aggregation.
//
// Example:
//
//	logger := logging.NewLogger("detector", logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//	logger.Info().
//	    Int64("broadcaster_id", 42).
//	    Msg("Anomaly published")
func NewLogger(service string, config Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	// Set log level
	var level zerolog.Level
	switch config.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelInfo:
		level = zerolog.InfoLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	case LevelFatal:
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set format
	if config.Format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()

	return logger
}

// LogErrorWithStack logs an error with a full stack trace.
//
// Use this for unexpected errors, recovered panics, or critical failures
// where the call stack matters.
func LogErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	stack := string(debug.Stack())

	event := logger.Error().Err(err).Str("stack_trace", stack)

	for k, v := range fields {
		event = event.Interface(k, v)
	}

	event.Msg(msg)
}
