// Package zblog provides structured logging for zb using zerolog.
//
// A single global Logger is initialized once via Init and shared by every
// package in the install pipeline. Component loggers attach structured
// fields (package, sha256, plan_id) instead of free-text log lines so that
// installs can be correlated across the resolve/download/extract/link
// stages.
package zblog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. It is the zero value until Init is
// called, which is safe (zerolog's zero Logger discards everything).
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with the producing component
// ("resolver", "downloader", "cellar", "catalog", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithPackage creates a child logger tagged with the formula/package name.
func WithPackage(name string) zerolog.Logger {
	return Logger.With().Str("package", name).Logger()
}

// WithSHA256 creates a child logger tagged with a content digest, useful for
// tracing a single blob through download/verify/extract.
func WithSHA256(sha256 string) zerolog.Logger {
	return Logger.With().Str("sha256", sha256).Logger()
}

// WithPlanID creates a child logger tagged with an install plan's
// correlation ID so every log line for one `zb install` invocation can be
// grouped together.
func WithPlanID(planID string) zerolog.Logger {
	return Logger.With().Str("plan_id", planID).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
