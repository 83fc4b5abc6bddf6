package commands

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/bifrost/internal/config"
	"github.com/wolfeidau/bifrost/internal/pki"
	"github.com/wolfeidau/bifrost/internal/store"
	"github.com/wolfeidau/bifrost/internal/store/memory"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		subject  string
		expected string
	}{
		{subject: "svc.local", expected: "svc.local"},
		{subject: "Payment Terminal 7", expected: "Payment_Terminal_7"},
		{subject: "../etc/passwd", expected: ".._etc_passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			require.Equal(t, tt.expected, fileName(tt.subject))
		})
	}
}

func TestEnsureCmd_Run(t *testing.T) {
	dir := t.TempDir()

	cmd := &EnsureCmd{
		TLSSubject: "svc.local",
		CASubject:  "Local CA",
		OutDir:     filepath.Join(dir, "certs"),
		Issuer: config.Flags{
			Algorithm:    "SHA256WithECDSA",
			KeyStrength:  256,
			Store:        config.BackendFile,
			StorePath:    filepath.Join(dir, "store"),
			KeyVault:     config.BackendFile,
			KeyVaultPath: filepath.Join(dir, "keys"),
		},
	}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	certPEM, err := os.ReadFile(filepath.Join(dir, "certs", "svc.local-cert.pem"))
	require.NoError(t, err)
	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	require.Equal(t, "svc.local", cert.Subject.CommonName)
	require.Equal(t, "Local CA", cert.Issuer.CommonName)

	info, err := os.Stat(filepath.Join(dir, "certs", "svc.local-key.pem"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	caPEM, err := os.ReadFile(filepath.Join(dir, "certs", "Local_CA-ca.pem"))
	require.NoError(t, err)
	root, err := pki.ParseCertificatePEM(caPEM)
	require.NoError(t, err)
	require.NoError(t, cert.CheckSignatureFrom(root))
}

type fakeTables struct {
	tables map[string]string
	err    error
}

func (f *fakeTables) GetTerminalTable(ctx context.Context, tableType string, out any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.tables[tableType]), out)
}

func TestSyncTerminalTables(t *testing.T) {
	ctx := context.Background()

	tables := map[string]string{
		"acquirers": `[{"number": 1, "cryptography_method": 2, "key_index": 3,
			"session_key": "MDEyMzQ1Njc4OUFCQ0RFRjAxMjM0NTY3ODlBQkNERUY=",
			"emv_tags_length": 1, "emv_tags": [40706, 40707]}]`,
		"risk_management": `[{"acquirer_number": 1, "record_number": 1, "floor_limit": 1000}]`,
		"applications":    `[{"payment_method": 1, "card_brand": "visa", "acquirer_number": 1, "record_number": 4}]`,
	}

	ts := memory.NewTerminalStore()
	require.NoError(t, ts.StoreApplication(ctx, store.ApplicationEntry{PaymentMethod: 9, CardBrand: "stale"}))

	n, err := syncTerminalTables(ctx, &fakeTables{tables: tables}, ts)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = ts.SelectApplication(ctx, "stale", 9)
	require.ErrorIs(t, err, store.ErrTerminalRowNotFound)

	app, err := ts.SelectApplication(ctx, "visa", 1)
	require.NoError(t, err)
	require.Equal(t, 4, app.RecordNumber)

	acquirers, err := ts.Acquirers(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.AcquirerEntry{{
		Number:             1,
		CryptographyMethod: 2,
		KeyIndex:           3,
		SessionKey:         "0123456789ABCDEF0123456789ABCDEF",
		EmvTags:            "40706",
	}}, acquirers)

	failures := []struct {
		name  string
		src   *fakeTables
		errIs error
	}{
		{name: "fetch failure", src: &fakeTables{err: errors.New("offline")}},
		{name: "short session key", src: &fakeTables{tables: map[string]string{
			"acquirers":       `[{"number": 2, "session_key": "c2hvcnQ=", "emv_tags": []}]`,
			"risk_management": `[]`,
			"applications":    `[{"payment_method": 2, "card_brand": "elo", "record_number": 1}]`,
		}}, errIs: store.ErrInvalidTerminalRow},
		{name: "application without brand", src: &fakeTables{tables: map[string]string{
			"acquirers":       `[]`,
			"risk_management": `[]`,
			"applications":    `[{"payment_method": 2, "record_number": 1}]`,
		}}, errIs: store.ErrInvalidTerminalRow},
	}

	for _, tt := range failures {
		t.Run(tt.name+" keeps tables", func(t *testing.T) {
			_, err := syncTerminalTables(ctx, tt.src, ts)
			require.Error(t, err)
			if tt.errIs != nil {
				require.ErrorIs(t, err, tt.errIs)
			}

			_, err = ts.SelectApplication(ctx, "visa", 1)
			require.NoError(t, err)

			acquirers, err := ts.Acquirers(ctx)
			require.NoError(t, err)
			require.Len(t, acquirers, 1)
		})
	}
}
