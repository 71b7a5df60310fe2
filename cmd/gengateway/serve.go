package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ineyio/gengateway/meter/prom"
	"github.com/ineyio/gengateway/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			pm := prom.New(reg)

			a, err := newApp(ctx, opts, pm)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if addr == "" {
				addr = ":8080"
			}

			sopts := []server.Option{server.WithGatherer(reg), server.WithLogger(a.logger)}
			if len(a.cfg.Server.AllowedOrigins) > 0 {
				sopts = append(sopts, server.WithAllowedOrigins(a.cfg.Server.AllowedOrigins...))
			}
			if a.cache.admin != nil {
				sopts = append(sopts, server.WithCacheAdmin(a.cache.admin))
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(a.gateway, sopts...).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				t := time.NewTicker(15 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-t.C:
						pm.SetBreakerOpen(a.gateway.Stats().BreakerOpen)
					}
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
