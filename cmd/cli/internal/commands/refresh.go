package commands

import (
	"context"
	"errors"
	"fmt"
)

type RefreshCmd struct{}

func (c *RefreshCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := openSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.manager.State().RefreshToken == "" {
		return errors.New("not logged in\n\nTo log in:\n  atendo login <email>")
	}

	if !s.manager.RefreshAccessToken(ctx) {
		return errors.New("refresh failed, the session has ended\n\nTo log in again:\n  atendo login <email>")
	}

	fmt.Fprintln(stdout, "Access token refreshed")
	if at, ok := s.manager.NextRefreshAt(); ok {
		fmt.Fprintf(stdout, "Next refresh at %s\n", at.Local().Format("15:04:05"))
	}
	return nil
}
