package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/atendo/atendo/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login   commands.LoginCmd   `cmd:"" help:"Log in with email and password"`
		Logout  commands.LogoutCmd  `cmd:"" help:"End the session and clear stored tokens"`
		Status  commands.StatusCmd  `cmd:"" help:"Show the current session"`
		Refresh commands.RefreshCmd `cmd:"" help:"Refresh the access token now"`
		Whoami  commands.WhoamiCmd  `cmd:"" help:"Fetch the current user from the API"`
		Token   commands.TokenCmd   `cmd:"" help:"Print a valid access token"`
		Watch   commands.WatchCmd   `cmd:"" help:"Keep the session alive and log state changes"`

		Debug     bool   `help:"Enable debug mode."`
		Config    string `help:"Path to the config file" type:"path" env:"ATENDO_CONFIG"`
		Server    string `help:"Server URL, overrides the config file" env:"ATENDO_SERVER"`
		StateDir  string `help:"Directory holding the persisted session" type:"path" env:"ATENDO_STATE_DIR"`
		Telemetry bool   `help:"Export metrics and traces over OTLP" env:"ATENDO_TELEMETRY"`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("atendo"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	globals := &commands.Globals{
		Debug:     cli.Debug,
		Version:   version,
		Config:    cli.Config,
		Server:    cli.Server,
		StateDir:  cli.StateDir,
		Telemetry: cli.Telemetry,
	}

	flush := commands.Setup(ctx, globals)
	err := cmd.Run(globals)
	flush()
	cmd.FatalIfErrorf(err)
}
