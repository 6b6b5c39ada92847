package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atendo/atendo/internal/session"
	"github.com/atendo/atendo/internal/token"
	"github.com/rs/zerolog/log"
)

// WatchCmd keeps the session alive in the foreground, letting the refresh
// timer rotate tokens and logging every state change.
type WatchCmd struct {
	Location string        `help:"Current location, used to suppress refreshes on public routes" default:"/"`
	For      time.Duration `help:"Stop after this long (0 waits for a signal)" default:"0"`
}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.For > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.For)
		defer cancel()
	}

	s, err := openSessionAt(ctx, globals, func() string { return c.Location })
	if err != nil {
		return err
	}
	defer s.Close()

	unsubscribe := s.manager.Subscribe(logState)
	defer unsubscribe()

	state := s.manager.State()
	if !state.IsAuthenticated {
		return errors.New("not logged in\n\nTo log in:\n  atendo login <email>")
	}

	logState(state)
	if at, ok := s.manager.NextRefreshAt(); ok {
		log.Info().Time("at", at).Msg("refresh scheduled")
	}

	<-ctx.Done()
	log.Info().Msg("stopped watching")

	return nil
}

func logState(state session.State) {
	ev := log.Info().
		Bool("authenticated", state.IsAuthenticated).
		Bool("loading", state.IsLoading)

	if state.User != nil {
		ev = ev.Str("user", state.User.Email)
	}
	if state.AccessToken != "" {
		ev = ev.Str("token", token.Fingerprint(state.AccessToken))
		if claims, err := token.Decode(state.AccessToken); err == nil {
			ev = ev.Time("expires", claims.Expiry())
		}
	}
	if state.Error != "" {
		ev = ev.Str("error", state.Error)
	}

	ev.Msg("session state")
}
