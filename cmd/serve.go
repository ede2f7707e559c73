package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yhwhpe/response-orchestrator/app"
	"github.com/yhwhpe/response-orchestrator/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the consumer and the ops HTTP endpoint",
	Run: func(_ *cobra.Command, _ []string) {
		cfg, err := config.Load(cfgFile)
		exitOnError(err)

		a, err := app.New(cfg)
		exitOnError(err)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           a.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("[SERVE] Ops endpoint listening on :%s", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[SERVE] ❌ HTTP server failed: %v", err)
			}
		}()

		err = a.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		exitOnError(err)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
