package commands

import (
	"context"
	"fmt"
)

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := openSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	s.manager.Logout(ctx)

	fmt.Fprintln(stdout, "Logged out")
	return nil
}
