package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/server"
	"github.com/sells-group/portfolio-discovery/internal/webhook"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		env.StartBackground(ctx)

		var verifier *webhook.Verifier
		if cfg.Webhook.CurrentSigningKey != "" || cfg.Webhook.NextSigningKey != "" {
			verifier = webhook.NewVerifier(cfg.Webhook.CurrentSigningKey, cfg.Webhook.NextSigningKey, cfg.Webhook.Issuer)
		} else {
			zap.L().Warn("webhook signing keys not set, queue endpoint disabled")
		}

		api := server.New(server.Deps{
			Runs:        env.Registry,
			Starter:     env.Service,
			Events:      env.Hub,
			Verifier:    verifier,
			CORSOrigins: cfg.Server.CORSOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
