package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/avaliahq/tenancy/cmd/tenctl/internal/commands"
	"github.com/joho/godotenv"
)

var (
	version = "dev"
	cli     struct {
		Verify     commands.VerifyCmd     `cmd:"" help:"Verify the schema-level isolation policies"`
		Provision  commands.ProvisionCmd  `cmd:"" help:"Provision a new organization"`
		Orgs       commands.OrgsCmd       `cmd:"" help:"List organizations"`
		Deactivate commands.DeactivateCmd `cmd:"" help:"Deactivate an organization"`
		Reactivate commands.ReactivateCmd `cmd:"" help:"Reactivate an organization"`
		Sweep      commands.SweepCmd      `cmd:"" help:"Release expired usage reservations once"`
		Audit      commands.AuditCmd      `cmd:"" help:"Show recent audit entries"`
		Token      commands.TokenCmd      `cmd:"" help:"Generate a JWT token for development"`
		Debug      bool                   `help:"Enable debug mode."`
		Version    kong.VersionFlag
	}
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
