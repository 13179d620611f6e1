package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/sar-colorize/internal/handlers"
	"github.com/Brownie44l1/sar-colorize/internal/pipeline"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP colorization service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			p, err := pipeline.Load(cfg.Models, pipeline.WithLogger(logrus.NewEntry(logger)))
			if err != nil {
				logger.WithError(err).Fatal("Model weights do not match the network definition")
			}
			defer p.Close()

			gin.SetMode(cfg.Server.GinMode)
			handler := handlers.NewHandler(p, cfg.Server.MaxUploadMB, logrus.NewEntry(logger))
			router := handlers.NewRouter(handler, cfg.Server.AllowOrigins)

			srv := &http.Server{
				Addr:    ":" + cfg.Server.Port,
				Handler: router,
			}

			go func() {
				logger.WithFields(logrus.Fields{
					"port":     cfg.Server.Port,
					"pipeline": p.State().String(),
					"classes":  p.Vocabulary().Names(),
				}).Info("Server starting")
				logger.Info("Endpoints:")
				logger.Info("  GET  /health          - Health check")
				logger.Info("  POST /colorize        - Colorize an uploaded SAR image")
				logger.Info("  POST /colorize/array  - Colorize a raw pixel array")
				logger.Infof("💡 Upload test: curl -X POST -F \"image=@sar.png\" http://localhost:%s/colorize", cfg.Server.Port)

				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Fatal("Server failed")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			logger.Info("Shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			logger.Info("Server exited")
			return nil
		},
	}
}
