package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/wolfeidau/bifrost/internal/cardhash"
	"github.com/wolfeidau/bifrost/internal/config"
	"github.com/wolfeidau/bifrost/internal/store"
)

type TerminalCmd struct {
	Sync   TerminalSyncCmd   `cmd:"" help:"Replace the terminal tables with the gateway's"`
	Select TerminalSelectCmd `cmd:"" help:"Print the application entry for a card brand and payment method"`
}

type TerminalSyncCmd struct {
	Endpoint string       `help:"gateway API endpoint" default:"https://api.pagar.me/1" env:"BIFROST_GATEWAY_ENDPOINT"`
	Issuer   config.Flags `embed:""`
}

func (cmd *TerminalSyncCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log := setup(ctx, globals)

	iss, err := openIssuer(ctx, &cmd.Issuer)
	if err != nil {
		return err
	}
	defer iss.Close()

	n, err := syncTerminalTables(ctx, cardhash.NewClient(cmd.Endpoint), iss.Terminals)
	if err != nil {
		return err
	}

	log.Info().Int("rows", n).Msg("terminal tables synced")
	return nil
}

type TerminalSelectCmd struct {
	Brand         string       `arg:"" help:"card brand"`
	PaymentMethod int          `arg:"" help:"payment method"`
	Issuer        config.Flags `embed:""`
}

func (cmd *TerminalSelectCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, _ = setup(ctx, globals)

	iss, err := openIssuer(ctx, &cmd.Issuer)
	if err != nil {
		return err
	}
	defer iss.Close()

	app, err := iss.Terminals.SelectApplication(ctx, cmd.Brand, cmd.PaymentMethod)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(app)
}

type terminalTableSource interface {
	GetTerminalTable(ctx context.Context, tableType string, out any) error
}

// syncTerminalTables fetches every table and then replaces the stored tables
// in one step, so a failed fetch or write leaves them intact.
func syncTerminalTables(ctx context.Context, src terminalTableSource, ts store.TerminalStore) (int, error) {
	var (
		rows   []store.AcquirerRow
		tables store.TerminalTables
	)

	if err := src.GetTerminalTable(ctx, "acquirers", &rows); err != nil {
		return 0, err
	}
	if err := src.GetTerminalTable(ctx, "risk_management", &tables.RiskManagement); err != nil {
		return 0, err
	}
	if err := src.GetTerminalTable(ctx, "applications", &tables.Applications); err != nil {
		return 0, err
	}

	for _, row := range rows {
		entry, err := row.Entry()
		if err != nil {
			return 0, fmt.Errorf("failed to convert acquirer %d: %w", row.Number, err)
		}
		tables.Acquirers = append(tables.Acquirers, entry)
	}

	if err := ts.Replace(ctx, tables); err != nil {
		return 0, fmt.Errorf("failed to replace terminal tables: %w", err)
	}

	return tables.Len(), nil
}
