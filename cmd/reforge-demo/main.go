// Package main is a minimal demo host for the reforge client: it
// bootstraps a Client from flags/env, serves its Prometheus registry on
// /metrics, and prints the requested key once the initial sync completes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reforgehq/reforge-go"
)

const (
	defaultPort    = "9090"
	serviceName    = "reforge-demo"
	serviceVersion = "0.1.0"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		key         = flag.String("key", "", "Config key to print once ready")
		localOnly   = flag.Bool("local-only", false, "Run with Datasources=LOCAL_ONLY (no network)")
		datafile    = flag.String("datafile", "", "Path to an x_datafile used in -local-only mode")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	opts := []reforge.OptionFunc{reforge.WithLogging("info", "json")}
	if *localOnly {
		opts = append(opts, reforge.WithDatasources(reforge.DatasourcesLocalOnly))
		if *datafile != "" {
			opts = append(opts, reforge.WithXDatafile(*datafile))
		}
	}

	options, err := reforge.NewOptions(opts...)
	if err != nil {
		slog.Error("invalid reforge options", "error", err)
		os.Exit(1)
	}

	client, err := reforge.New(options)
	if err != nil {
		slog.Error("reforge client failed to bootstrap", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(client.MetricsRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if client.IsReady() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	server := &http.Server{Addr: ":" + port, Handler: mux}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("metrics server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
			os.Exit(1)
		}
	}()

	if *key != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if !client.WaitForReady(ctx) {
				slog.Warn("client did not become ready within timeout")
				return
			}
			entry, err := client.MustGet(*key)
			if err != nil {
				slog.Warn("key lookup failed", "key", *key, "error", err)
				return
			}
			slog.Info("key resolved", "key", *key, "id", entry.ID)
		}()
	}

	<-quit
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server forced to shutdown", "error", err)
	}
}
