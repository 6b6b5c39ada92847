package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atendo/atendo/internal/storage"
	"github.com/atendo/atendo/internal/token"
)

type StatusCmd struct {
	JSON bool `help:"Print the status as JSON" default:"false"`
}

type statusOutput struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id,omitempty"`
	Email         string     `json:"email,omitempty"`
	Name          string     `json:"name,omitempty"`
	Role          string     `json:"role,omitempty"`
	Token         string     `json:"token_fingerprint,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	NextRefresh   *time.Time `json:"next_refresh,omitempty"`
	Server        string     `json:"server"`
	LoginURL      string     `json:"login_url"`
	StatePath     string     `json:"state_path,omitempty"`
}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := openSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	state := s.manager.State()
	out := statusOutput{
		Authenticated: state.IsAuthenticated,
		Server:        s.cfg.ServerURL,
		LoginURL:      s.auth.LoginURL(),
	}

	if fs, ok := s.store.(*storage.FileStorage); ok {
		out.StatePath = fs.Path()
	}

	if state.User != nil {
		out.UserID = string(state.User.ID)
		out.Email = state.User.Email
		out.Name = state.User.DisplayName()
		out.Role = state.User.Role
	}

	if state.AccessToken != "" {
		out.Token = token.Fingerprint(state.AccessToken)
		if claims, err := token.Decode(state.AccessToken); err == nil {
			exp := claims.Expiry()
			out.ExpiresAt = &exp
		}
	}

	if at, ok := s.manager.NextRefreshAt(); ok {
		out.NextRefresh = &at
	}

	if c.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if !out.Authenticated {
		fmt.Fprintf(stdout, "Not logged in (%s)\n", out.Server)
		return nil
	}

	fmt.Fprintf(stdout, "Logged in as %s <%s>\n", out.Name, out.Email)
	fmt.Fprintf(stdout, "Server:       %s\n", out.Server)
	if out.Role != "" {
		fmt.Fprintf(stdout, "Role:         %s\n", out.Role)
	}
	fmt.Fprintf(stdout, "Token:        %s\n", out.Token)
	if out.ExpiresAt != nil {
		fmt.Fprintf(stdout, "Expires:      %s (%s)\n", out.ExpiresAt.Local().Format(time.RFC3339), time.Until(*out.ExpiresAt).Round(time.Second))
	}
	if out.NextRefresh != nil {
		fmt.Fprintf(stdout, "Next refresh: %s\n", out.NextRefresh.Local().Format(time.RFC3339))
	}

	return nil
}
