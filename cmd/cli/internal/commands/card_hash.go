package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/bifrost/internal/cardhash"
)

type CardHashCmd struct {
	Endpoint      string `help:"gateway API endpoint" default:"https://api.pagar.me/1" env:"BIFROST_GATEWAY_ENDPOINT"`
	EncryptionKey string `help:"gateway encryption key" required:"" env:"BIFROST_ENCRYPTION_KEY"`
	Data          string `arg:"" help:"card data to encrypt"`
}

func (cmd *CardHashCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, _ = setup(ctx, globals)

	hash, err := cardhash.NewClient(cmd.Endpoint).CardHash(ctx, cmd.EncryptionKey, cmd.Data)
	if err != nil {
		return err
	}

	fmt.Println(hash)
	return nil
}
