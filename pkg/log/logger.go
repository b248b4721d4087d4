package log

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type LoggerType uint8

const (
	ConsoleLogger LoggerType = iota
	JSONLogger
)

// Component loggers. Init wires them; before Init they are no-op loggers.
var (
	Root     = zerolog.Nop()
	Protocol = zerolog.Nop()
	Ledger   = zerolog.Nop()
	Store    = zerolog.Nop()
)

// Options for Init.
type Options struct {
	// Minimum level emitted, default Info.
	LogLevel zerolog.Level
	Type     LoggerType
}

func ParseLogLevel(loglevel string) (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(loglevel))
}

func Init(opts Options) {
	switch opts.Type {
	case ConsoleLogger:
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		Root = zerolog.New(cw).Level(opts.LogLevel).
			With().Timestamp().Logger()
	default:
		Root = zerolog.New(os.Stderr).Level(opts.LogLevel).
			With().Timestamp().Logger()
	}
	Protocol = Root.With().Str("component", "protocol").Logger()
	Ledger = Root.With().Str("component", "ledger").Logger()
	Store = Root.With().Str("component", "store").Logger()
}
