package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/atendo/atendo/internal/client"
	"github.com/atendo/atendo/internal/models"
)

type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := openSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.manager.CheckAuth(ctx) {
		return errors.New("not logged in")
	}

	api, detach, err := s.apiClient()
	if err != nil {
		return err
	}
	defer detach()

	user, err := api.Me(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return errors.New("the server rejected the session\n\nTo log in again:\n  atendo login <email>")
		}
		return err
	}

	fmt.Fprintf(stdout, "%s <%s>\n", user.DisplayName(), user.Email)
	if user.Role != "" {
		fmt.Fprintf(stdout, "role: %s\n", user.Role)
	}
	if user.CompanyID != "" {
		fmt.Fprintf(stdout, "company: %s\n", user.CompanyID)
	}

	// keep the cached identity in step with the server
	if current := s.manager.State().User; current != nil && (current.FullName != user.FullName || current.Role != user.Role) {
		s.manager.UpdateUser(ctx, models.UserPatch{FullName: &user.FullName, Role: &user.Role})
	}

	return nil
}
