package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/atendo/atendo/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug      bool `help:"Enable debug mode."`
		Version    kong.VersionFlag
		Serve      commands.ServeCmd      `cmd:"" help:"Start the development auth server"`
		IssueToken commands.IssueTokenCmd `cmd:"" help:"Sign an access token with a signing key"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("atendo-auth"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
