package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/bifrost/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Ensure    commands.EnsureCmd    `cmd:"" help:"Issue a certificate for a TLS subject, creating its CA if needed"`
		Get       commands.GetCmd       `cmd:"" help:"Print a previously issued certificate"`
		Bootstrap commands.BootstrapCmd `cmd:"" help:"Provision the DynamoDB certificates table"`
		CardHash  commands.CardHashCmd  `cmd:"" help:"Encrypt card data with the gateway card hash key"`
		Terminal  commands.TerminalCmd  `cmd:"" help:"Manage terminal configuration tables"`
		Debug     bool                  `help:"Enable debug mode."`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
