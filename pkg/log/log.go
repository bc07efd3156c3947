package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
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

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithBlockNumber creates a child logger scoped to a block number, for the
// state keeper and settlement sender's per-block log lines.
func WithBlockNumber(blockNumber uint32) zerolog.Logger {
	return Logger.With().Uint32("block_number", blockNumber).Logger()
}

// WithAccountID creates a child logger scoped to an account.
func WithAccountID(accountID uint32) zerolog.Logger {
	return Logger.With().Uint32("account_id", accountID).Logger()
}

// WithOpID creates a child logger scoped to an aggregated action / ETH
// operation ID, for the settlement sender's per-operation log lines.
func WithOpID(opID uint64) zerolog.Logger {
	return Logger.With().Uint64("op_id", opID).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

// FatalErr logs err against logger at fatal level and exits the process.
// The keeper's committer-unavailability policy uses this instead of the
// package-level Fatal, since it needs a component-scoped logger and the
// triggering error attached to the line. (The settlement sender's
// panic-on-Failed policy calls panic directly.)
func FatalErr(logger zerolog.Logger, err error, msg string) {
	logger.Fatal().Err(err).Msg(msg)
}
