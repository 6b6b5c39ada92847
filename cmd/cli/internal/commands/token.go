package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atendo/atendo/internal/client"
)

type TokenCmd struct {
	Header bool `help:"Print as an Authorization header value" default:"false"`
	Expiry bool `help:"Print the token expiry on a second line" default:"false"`
}

// Run prints a usable access token, refreshing first when it is about to expire.
func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := openSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	tok, err := client.NewTokenSource(ctx, s.manager, nil).Token()
	if err != nil {
		if errors.Is(err, client.ErrNoSession) {
			return errors.New("not logged in\n\nTo log in:\n  atendo login <email>")
		}
		return err
	}

	if t.Header {
		fmt.Fprintf(stdout, "%s %s\n", tok.Type(), tok.AccessToken)
	} else {
		fmt.Fprintln(stdout, tok.AccessToken)
	}

	if t.Expiry {
		fmt.Fprintln(stdout, tok.Expiry.UTC().Format(time.RFC3339))
	}

	return nil
}
