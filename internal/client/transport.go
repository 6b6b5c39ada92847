package client

import (
	"context"
	"io"
	"net/http"

	"github.com/atendo/atendo/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Session is the read side of the session manager the request layer needs.
// The request layer never writes tokens itself.
type Session interface {
	AccessToken() string
	RefreshAccessToken(ctx context.Context) bool
	CheckAuth(ctx context.Context) bool
}

var _ http.RoundTripper = (*Transport)(nil)

// Transport attaches the session's access token to requests and retries a
// request once after a successful refresh when the server answers 401.
type Transport struct {
	session Session
	next    http.RoundTripper
	metrics *telemetry.Metrics
}

// NewTransport wraps next. A nil next uses http.DefaultTransport.
func NewTransport(session Session, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{
		session: session,
		next:    next,
		metrics: telemetry.GetMetrics(),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		requestID = id.String()
	}

	accessToken := t.session.AccessToken()

	resp, err := t.send(req, requestID, accessToken)
	if err != nil {
		return nil, err
	}

	t.metrics.APIRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", resp.StatusCode)))

	if resp.StatusCode != http.StatusUnauthorized || accessToken == "" {
		return resp, nil
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		log.Debug().Str("requestID", requestID).Msg("401 on a request that cannot be replayed")
		return resp, nil
	}

	t.metrics.APIReactiveRefreshes.Add(ctx, 1)

	if !t.session.RefreshAccessToken(ctx) {
		log.Debug().Str("requestID", requestID).Msg("401 and refresh failed")
		return resp, nil
	}

	drain(resp)

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}

	log.Debug().Str("requestID", requestID).Msg("replaying request after refresh")

	return t.send(retry, requestID, t.session.AccessToken())
}

func (t *Transport) send(req *http.Request, requestID, accessToken string) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())
	out.Header.Set("X-Request-ID", requestID)
	if accessToken != "" {
		out.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		out.Header.Del("Authorization")
	}

	return t.next.RoundTrip(out)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
