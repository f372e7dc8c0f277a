// Package logging configures the process-wide zerolog logger.
//
// Logs always go to stderr: the scanning host uses stdout as its message
// channel, and the core keeps stdout for reports.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TimeFormat is the console timestamp layout.
const TimeFormat = "2006-01-02T15:04:05.000"

// Options controls Setup.
type Options struct {
	Level  string
	Pretty bool

	// File, when set, receives a JSON copy of every log line.
	File string

	// Out overrides stderr. Used by tests.
	Out io.Writer
}

// Setup builds a logger from opts, installs it as log.Logger and sets the
// global level. The returned close function releases the log file, if any.
func Setup(opts Options) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("logging: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	if opts.Pretty {
		console = consoleWriter(out)
	}

	closeFn := func() error { return nil }
	writer := console
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		writer = io.MultiWriter(console, f)
		closeFn = f.Close
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, closeFn, nil
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	if runtime.GOOS == "windows" && out == os.Stderr {
		return zerolog.ConsoleWriter{Out: colorable.NewColorableStderr(), TimeFormat: TimeFormat}
	}
	_, isFile := out.(*os.File)
	return zerolog.ConsoleWriter{Out: out, NoColor: !isFile, TimeFormat: TimeFormat}
}
