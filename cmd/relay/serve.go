package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kehao95/relay/internal/config"
	"github.com/kehao95/relay/internal/httpapi"
)

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP message intake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			go a.watchConfig(ctx)

			srv := httpapi.NewServer(a.cfg.Listen, a.cfg.MaxConns,
				httpapi.NewRouter(a.gateway, a.ctl, a.logger.Named("http")),
				a.logger.Named("http"))
			serveErr := srv.ListenAndServe(ctx)
			if serveErr != nil {
				a.logger.Error("http intake failed", zap.Error(serveErr))
			}
			if err := a.close(); err != nil && serveErr == nil {
				return err
			}
			return serveErr
		},
	}
}
