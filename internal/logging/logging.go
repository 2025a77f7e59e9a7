// Package logging configures the process-wide zerolog logger and adapts it
// to the gorilla/handlers middleware.
package logging

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and output format. format is "json" or
// "console"; w defaults to stderr.
func Setup(level, format string, w io.Writer) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if w == nil {
		w = os.Stderr
	}

	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	switch format {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

// AccessLog wraps next with a request logger that writes through zerolog.
func AccessLog(next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		log.Info().
			Str("module", "api").
			Str("method", p.Request.Method).
			Str("path", p.URL.Path).
			Int("status", p.StatusCode).
			Int("bytes", p.Size).
			Str("remote", p.Request.RemoteAddr).
			Dur("elapsed", time.Since(p.TimeStamp)).
			Msg("http request")
	})
}

// RecoveryLogger satisfies handlers.RecoveryHandlerLogger.
type RecoveryLogger struct{}

func (RecoveryLogger) Println(v ...interface{}) {
	log.Error().Str("module", "api").Msg(fmt.Sprint(v...))
}

// Recover turns handler panics into 500 responses and logs them.
func Recover(next http.Handler) http.Handler {
	return handlers.RecoveryHandler(handlers.RecoveryLogger(RecoveryLogger{}))(next)
}
