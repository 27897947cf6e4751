package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voiceline-ai/voiceline/internal/dotenv"
	"github.com/voiceline-ai/voiceline/pkg/gateway/config"
	gatewayserver "github.com/voiceline-ai/voiceline/pkg/gateway/server"
	"github.com/voiceline-ai/voiceline/pkg/store"
)

type serverDeps struct {
	loadConfig     func() (config.Config, error)
	buildProviders func(context.Context, config.Config) (gatewayserver.Providers, error)
	openStore      func(context.Context, string) (store.Store, error)
	newServer      func(config.Config, *slog.Logger, store.Store, gatewayserver.Providers) *gatewayserver.Server
	signalNotify   func(chan<- os.Signal, ...os.Signal)
	signalStop     func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig:     config.LoadFromEnv,
		buildProviders: gatewayserver.BuildProviders,
		openStore: func(ctx context.Context, url string) (store.Store, error) {
			return store.Open(ctx, url)
		},
		newServer: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// No ReadTimeout: media stream connections stay open for the length of
// a phone call.
func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func run(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildProviders == nil {
		return errors.New("missing buildProviders dependency")
	}
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var st store.Store = store.Noop{}
	if cfg.DatabaseURL != "" {
		if deps.openStore == nil {
			return errors.New("missing openStore dependency")
		}
		opened, err := deps.openStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		st = opened
	}
	defer st.Close()

	providers, err := deps.buildProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	srv := deps.newServer(cfg, logger, st, providers)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting voiceline server",
		"addr", cfg.Addr,
		"domain", cfg.PublicDomain,
		"engine", cfg.Engine,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.WaitSessions(waitCtx) {
		closed := srv.CloseSessions()
		logger.Warn("grace period elapsed with live calls", "closed", closed)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voiceline server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "voiceline-server: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voiceline-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
