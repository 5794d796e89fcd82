package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// InitSentry configures error reporting. An empty DSN disables it and the
// returned flush is a no-op.
func InitSentry(dsn, env, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,
	}); err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

func CaptureErr(err error) {
	if err != nil {
		sentry.CaptureException(err)
	}
}

// Reporter returns a sync error callback that logs and forwards to Sentry.
func Reporter(log zerolog.Logger) func(error) {
	return func(err error) {
		log.Error().Err(err).Msg("Sync error")
		CaptureErr(err)
	}
}
