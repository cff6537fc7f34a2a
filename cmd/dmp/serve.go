package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/absfs/dmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveHandler(c *cli.Context) (err error) {
	mappings, err := parseMappings(c.Args())
	if err != nil {
		return err
	}

	log, err := dmp.NewLogger(c.Bool(debugFlag.Name))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	opts := dmp.DefaultOptions()
	opts.Logger = log
	mod, err := dmp.Load(opts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, mod.Close())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, m := range mappings {
		if _, err := mod.Create(ctx, m.name, m.device, false); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if mp := c.String(mountFlag.Name); mp != "" {
		mopts := dmp.DefaultMountOptions(mp)
		mopts.Debug = c.Bool(debugFlag.Name)
		mopts.Logger = log
		sfs, err := dmp.Mount(mod.Namespace(), mopts)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return sfs.Unmount()
		})
		g.Go(sfs.Wait)
	}

	if addr := c.String(metricsFlag.Name); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(dmp.NewCollector(mod.Namespace()))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("serving", zap.Strings("devices", mod.Registry().Names()))
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}
