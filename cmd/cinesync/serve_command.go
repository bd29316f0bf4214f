package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cinesync/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				addr := strings.TrimSpace(bind)
				if addr == "" {
					addr = rt.cfg.Server.Bind
				}
				router := httpapi.NewRouter(rt.manager, rt.registry, rt.logger)
				srv, err := httpapi.NewServer(addr, router, rt.logger)
				if err != nil {
					return err
				}
				srv.Serve()
				fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", srv.Addr())

				<-c.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(c), shutdownTimeout)
				defer cancel()
				if err := srv.Close(shutdownCtx); err != nil {
					rt.logger.Warn("http server shutdown failed", zap.Error(err))
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (default server.bind)")
	return cmd
}
