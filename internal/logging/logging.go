// Package logging builds the zerolog loggers used across the module.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var pid = os.Getpid()

// New returns a JSON logger writing to w.
func New(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Int("pid", pid).Logger(), nil
}

// NewConsole returns a human readable logger for interactive use. tag shows
// up as the first column after the timestamp.
func NewConsole(w io.Writer, level, tag string, noColor bool) (zerolog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.0000", NoColor: noColor,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"s",
			"mod",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"s", "mod"},
	}
	if noColor {
		output.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("%v", i)
		}
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("s", tag).Logger(), nil
}

func parseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	return lvl, nil
}
