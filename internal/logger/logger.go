package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*Requests)(nil)

// Requests logs every outgoing HTTP request with its outcome and duration.
type Requests struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

// NewRequests wraps next. A nil next uses http.DefaultTransport.
func NewRequests(logger zerolog.Logger, next http.RoundTripper) *Requests {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Requests{logger: logger, next: next}
}

func (r *Requests) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	ctx := r.logger.With().
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Str("path", req.URL.Path).
		Str("requestID", req.Header.Get("X-Request-ID")).
		Logger().WithContext(req.Context())

	resp, err := r.next.RoundTrip(req)
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("http request")

		return resp, err
	}

	zerolog.Ctx(ctx).Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("http request")

	return resp, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware logs every handled request. clientIP, when set, supplies the
// address to record.
func Middleware(logger zerolog.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, req)

			event := logger.Info()
			if rec.status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			if clientIP != nil {
				event = event.Str("clientIP", clientIP(req))
			}

			event.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(started)).
				Msg("http request")
		})
	}
}
