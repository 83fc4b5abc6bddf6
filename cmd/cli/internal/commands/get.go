package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wolfeidau/bifrost/internal/config"
	"github.com/wolfeidau/bifrost/internal/pki"
	"github.com/wolfeidau/bifrost/internal/store"
)

type GetCmd struct {
	TLSSubject string       `help:"subject of the leaf certificate" required:""`
	CASubject  string       `help:"subject of the issuing CA" required:"" name:"ca-subject"`
	Root       bool         `help:"print the CA root instead of the leaf"`
	Issuer     config.Flags `embed:""`
}

func (cmd *GetCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, _ = setup(ctx, globals)

	iss, err := openIssuer(ctx, &cmd.Issuer)
	if err != nil {
		return err
	}
	defer iss.Close()

	if cmd.Root {
		root, err := iss.Chain.Root(ctx, cmd.CASubject)
		if err != nil {
			return notIssued(err, cmd.CASubject)
		}
		_, err = os.Stdout.Write(pki.EncodeCertificatePEM(root))
		return err
	}

	leaf, err := iss.Chain.Get(ctx, cmd.TLSSubject, cmd.CASubject)
	if err != nil {
		return notIssued(err, cmd.TLSSubject)
	}
	_, err = os.Stdout.Write(pki.EncodeCertificatePEM(leaf.Certificate))
	return err
}

func notIssued(err error, subject string) error {
	if errors.Is(err, store.ErrCertNotFound) {
		return fmt.Errorf("no certificate issued for %q", subject)
	}
	return err
}
