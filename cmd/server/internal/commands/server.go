package commands

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/bifrost/internal/config"
	"github.com/wolfeidau/bifrost/internal/issuer"
	"github.com/wolfeidau/bifrost/internal/logger"
	"github.com/wolfeidau/bifrost/internal/pki"
	"github.com/wolfeidau/bifrost/internal/store"
	"github.com/wolfeidau/bifrost/internal/telemetry"
	"github.com/wolfeidau/bifrost/internal/tlsconfig"
)

type ServeCmd struct {
	Listen      string        `help:"HTTPS listen address" default:"0.0.0.0:8443" env:"BIFROST_LISTEN"`
	CASubject   string        `help:"subject of the CA issuing served certificates" required:"" name:"ca-subject" env:"BIFROST_CA_SUBJECT"`
	DefaultHost string        `help:"certificate subject for clients that send no SNI" default:"localhost" env:"BIFROST_DEFAULT_HOST"`
	CacheTTL    time.Duration `help:"how long a resolved certificate is served before it is looked up again" default:"1h" env:"BIFROST_CACHE_TTL"`
	Tracing     bool          `help:"enable tracing" default:"false" env:"BIFROST_TRACING"`

	Issuer config.Flags `embed:""`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(log.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("starting server")

	if c.Tracing {
		log.Info().Msg("tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "bifrost-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown telemetry")
			}
		}()
	}

	cfg, err := c.Issuer.Load()
	if err != nil {
		return err
	}

	iss, err := issuer.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer iss.Close()

	// /ca.pem needs a root to serve
	if _, err := iss.Chain.EnsureIssued(ctx, c.DefaultHost, c.CASubject); err != nil {
		return fmt.Errorf("failed to issue certificate for default host: %w", err)
	}

	tlsConfig, err := tlsconfig.ServerConfig(tlsconfig.Config{
		CASubject:   c.CASubject,
		DefaultHost: c.DefaultHost,
		Source:      iss.Chain,
		CacheTTL:    c.CacheTTL,
	})
	if err != nil {
		return err
	}

	srv := configureHTTPServer(c.Listen, logger.NewHTTPRequests(log)(newHandler(iss.Chain, c.CASubject)))
	srv.TLSConfig = tlsConfig
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown server")
		}
	}()

	log.Info().Str("addr", c.Listen).Str("ca_subject", c.CASubject).Msg("starting HTTPS server")
	if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}

type rootSource interface {
	Root(ctx context.Context, caSubject string) (*x509.Certificate, error)
}

func newHandler(roots rootSource, caSubject string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /ca.pem", func(w http.ResponseWriter, r *http.Request) {
		root, err := roots.Root(r.Context(), caSubject)
		if err != nil {
			if errors.Is(err, store.ErrCertNotFound) {
				http.NotFound(w, r)
				return
			}
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to get root certificate")
			http.Error(w, "certificate store unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/x-pem-file")
		_, _ = w.Write(pki.EncodeCertificatePEM(root))
	})

	return mux
}
