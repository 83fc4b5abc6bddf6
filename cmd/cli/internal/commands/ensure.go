package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wolfeidau/bifrost/internal/config"
)

type EnsureCmd struct {
	TLSSubject string       `help:"subject of the leaf certificate" required:""`
	CASubject  string       `help:"subject of the issuing CA" required:"" name:"ca-subject"`
	OutDir     string       `help:"output directory for PEM files" default:"./certs" type:"path"`
	Issuer     config.Flags `embed:""`
}

func (cmd *EnsureCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log := setup(ctx, globals)

	iss, err := openIssuer(ctx, &cmd.Issuer)
	if err != nil {
		return err
	}
	defer iss.Close()

	leaf, err := iss.Chain.EnsureIssued(ctx, cmd.TLSSubject, cmd.CASubject)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cmd.OutDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	stem := filepath.Join(cmd.OutDir, fileName(cmd.TLSSubject))

	certPath := stem + "-cert.pem"
	if err := saveCertificate(certPath, leaf.Certificate); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}

	if leaf.PrivateKey == nil {
		log.Warn().Str("subject", cmd.TLSSubject).Msg("private key is not held by the key vault, only the certificate was written")
	} else {
		keyPath := stem + "-key.pem"
		if err := savePrivateKey(keyPath, leaf.PrivateKey); err != nil {
			return fmt.Errorf("failed to save private key: %w", err)
		}
		log.Info().Str("path", keyPath).Msg("private key written")
	}

	root, err := iss.Chain.Root(ctx, cmd.CASubject)
	if err != nil {
		return fmt.Errorf("failed to get root certificate: %w", err)
	}
	caPath := filepath.Join(cmd.OutDir, fileName(cmd.CASubject)+"-ca.pem")
	if err := saveCertificate(caPath, root); err != nil {
		return fmt.Errorf("failed to save root certificate: %w", err)
	}

	log.Info().
		Str("cert", certPath).
		Str("ca", caPath).
		Str("serial_number", leaf.Certificate.SerialNumber.Text(16)).
		Time("not_after", leaf.Certificate.NotAfter).
		Msg("certificate written")

	return nil
}
