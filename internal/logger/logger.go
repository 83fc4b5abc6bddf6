package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a JSON logger at info level, or a console logger at debug
// level with stack traces when dev is set. The logger is also installed as the
// default for zerolog.Ctx so packages logging through a context without one
// attached still write somewhere.
func Setup(dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	zerolog.DefaultContextLogger = &logger

	return logger
}
