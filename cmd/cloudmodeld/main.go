// Command cloudmodeld runs the CloudModel serializer as a standalone
// websocket server, grounded on roach88-nysm's cobra-based "run" command
// (flags, signal-driven graceful shutdown) with the server wiring itself
// borrowed from drpcorg-chotki's network.Net HTTP listener setup.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/server"
	"github.com/matthewsj/cloudmodel/pkg/transport/websocket"
)

type options struct {
	port      int
	staticDir string
	verbose   bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "cloudmodeld",
		Short:         "Run the CloudModel serializer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", 3000, "port to listen on")
	cmd.Flags().StringVar(&opts.staticDir, "static-dir", "", "directory of static assets to serve at /, e.g. a chat demo's web client")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := logging.NewDefaultLogger(level)

	if opts.staticDir != "" {
		if _, err := os.Stat(opts.staticDir); err != nil {
			return fmt.Errorf("static-dir %q: %w", opts.staticDir, err)
		}
	}

	metrics := server.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	serializer := server.New(log, metrics)
	wsServer := websocket.NewServer(serializer, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/cloudmodel", server.NewDebugHandler(serializer))
	if opts.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.staticDir)))
	}

	addr := fmt.Sprintf(":%d", opts.port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.Info("cloudmodeld: received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("cloudmodeld: listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		if err := httpServer.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
	}

	log.Info("cloudmodeld: stopped")
	return nil
}
