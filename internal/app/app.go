package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/auth"
	"github.com/roomrelay/relayd/internal/config"
	"github.com/roomrelay/relayd/internal/core"
	"github.com/roomrelay/relayd/internal/store"
	"github.com/roomrelay/relayd/internal/store/disk"
	"github.com/roomrelay/relayd/internal/store/sqlite"
	transporthttp "github.com/roomrelay/relayd/internal/transport/http"
	transporttcp "github.com/roomrelay/relayd/internal/transport/tcp"
)

// App wires together the hub, stores and both transports.
type App struct {
	tcp             *transporttcp.Server
	http            *stdhttp.Server
	hub             *core.Hub
	uploads         store.UploadStore
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	uploads, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init upload ledger: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("upload ledger initialized")

	blobs, err := disk.New(cfg.UploadDir)
	if err != nil {
		uploads.Close()
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}

	hub := core.New(core.Options{
		DefaultRoom:    cfg.DefaultRoom,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SessionBuffer:  cfg.SessionBuffer,
	}, uploads, blobs, jwtCfg, logger)

	return &App{
		tcp:             transporttcp.NewServer(hub, cfg.TCPAddr, cfg.MaxFrameBytes, logger),
		http:            transporthttp.NewServer(hub, uploads, blobs, jwtCfg, cfg, logger),
		hub:             hub,
		uploads:         uploads,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Run starts both transports and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 2)

	if err := a.tcp.Listen(); err != nil {
		a.cleanup()
		return fmt.Errorf("listen tcp: %w", err)
	}
	a.log.Info().Str("addr", a.tcp.Addr().String()).Msg("tcp relay listening")

	go func() {
		serverErr <- a.tcp.Serve(ctx)
	}()

	go func() {
		a.log.Info().Str("addr", a.http.Addr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down")
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		// Context cancellation already stops the TCP accept loop.
		err := <-serverErr
		a.cleanup()
		return err
	}
}

// cleanup closes the upload ledger.
func (a *App) cleanup() {
	if a.uploads != nil {
		if err := a.uploads.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close upload ledger")
		} else {
			a.log.Info().Msg("upload ledger closed")
		}
	}
}
