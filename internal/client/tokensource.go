package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/atendo/atendo/internal/token"
	"golang.org/x/oauth2"
)

// ErrNoSession is returned by TokenSource when there is no usable session.
var ErrNoSession = errors.New("no active session")

var _ oauth2.TokenSource = (*TokenSource)(nil)

// TokenSource exposes the session to oauth2-aware code. Each call makes sure
// the access token is not about to expire, refreshing it when needed.
type TokenSource struct {
	ctx     context.Context
	session Session
	decode  token.Decoder
}

// NewTokenSource creates a token source bound to ctx. A nil decode uses token.Decode.
func NewTokenSource(ctx context.Context, session Session, decode token.Decoder) *TokenSource {
	if decode == nil {
		decode = token.Decode
	}
	return &TokenSource{ctx: ctx, session: session, decode: decode}
}

func (ts *TokenSource) Token() (*oauth2.Token, error) {
	if !ts.session.CheckAuth(ts.ctx) {
		return nil, ErrNoSession
	}

	accessToken := ts.session.AccessToken()
	claims, err := ts.decode(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}

	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      claims.Expiry(),
	}, nil
}
