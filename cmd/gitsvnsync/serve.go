// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/microsoft/gitsvnsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(serveCmd))
}

type serveCmd struct{}

func (serveCmd) Name() string { return "serve" }

func (serveCmd) Summary() string {
	return "Run the sync scheduler until interrupted."
}

func (serveCmd) Description() string {
	return `

Runs sync cycles on the configured poll interval until SIGINT/SIGTERM, serving Prometheus metrics
on -metrics-addr in the meantime. On a signal, the step in progress (one revision or one commit
replay) finishes and its bookkeeping is written; the rest of the cycle is not started.
`
}

func (serveCmd) Handle(p subcmd.ParseFunc) error {
	cfgPath := configFlag()
	metricsAddr := flag.String("metrics-addr", ":9273", "Address to serve Prometheus metrics on.")
	if err := p(); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.orchestrator.Recover(ctx); err != nil {
		return err
	}

	server := &http.Server{Addr: *metricsAddr, Handler: d.metrics.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
	defer server.Close()

	return d.orchestrator.Serve(ctx)
}
