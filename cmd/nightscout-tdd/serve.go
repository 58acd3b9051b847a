package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"

	repository "github.com/adamlounds/nightscout-tdd/adapters"
	"github.com/adamlounds/nightscout-tdd/config"
	"github.com/adamlounds/nightscout-tdd/controllers"
	"github.com/adamlounds/nightscout-tdd/models"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the report over http",
		Long: `Serve the report at /, the chart at /tdd.png and json at /api/v1/tdd.json.
Every request fetches fresh treatments. Query params days, asof, order and
dense override the configured defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFromCmd(cmd))
		},
	}
}

// run serves until a signal arrives. It returns the listen error when the
// server could not start or stopped for any reason other than shutdown.
func run(ctx context.Context, cfg *config.ReportConfig) error {
	log := slogctx.FromCtx(ctx)
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	authRepository := repository.NewEnvAuthRepository(cfg.APISecretHash, cfg.DefaultRole, cfg.AuthTokens)
	authService := &models.AuthService{AuthRepository: authRepository}

	reportC := controllers.ReportController{
		ReportBuilder: newTDDService(cfg),
		Defaults:      reportOptions(cfg),
	}
	authMW := controllers.AuthnMiddleware{
		AuthService: authService,
	}
	r := controllers.NewRouter(reportC, authMW)

	server := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return serverCtx },
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-serverCtx.Done():
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(serverCtx), time.Second*10)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Error("graceful shutdown timed out, forcing exit")
			} else {
				log.Error("cannot shutdown server", slog.Any("error", err))
			}
		}
		serverStopCtx()
	}()

	log.Info("Starting server on", "address", cfg.Server.Address)
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server terminated", slog.Any("error", err))
		serverStopCtx()
		return fmt.Errorf("serve on %s: %w", cfg.Server.Address, err)
	}
	<-serverCtx.Done()
	log.Info("shutdown ok")
	return nil
}
