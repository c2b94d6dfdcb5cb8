// evocrew: an MCP server that orchestrates crews of self-evolving agents.
//
// Usage:
//
//	evocrew serve                 # Start the MCP server (stdio or http, per config)
//	evocrew bootstrap-admin-key    # Mint the admin API key if none exists yet, print it, and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evocrew/evocrew/internal/config"
	"github.com/evocrew/evocrew/internal/mcpserver"
	"github.com/evocrew/evocrew/internal/security"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// exitError carries the process exit code a failure should produce,
// distinguishing operator-fixable problems (bad config, unreachable store)
// from everything else so a supervising process (systemd, k8s) can tell
// them apart without scraping log text.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// configError marks err as an invalid-configuration failure (exit code 2).
func configError(err error) error { return &exitError{code: 2, err: err} }

// storeError marks err as a store-unreachable-at-boot failure (exit code 3).
func storeError(err error) error { return &exitError{code: 3, err: err} }

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ec *exitError
		if errors.As(err, &ec) {
			code = ec.code
		}
		os.Exit(code)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "evocrew",
		Short:   "Orchestrate crews of self-evolving agents over MCP",
		Version: mcpserver.Version,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(bootstrapAdminKeyCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return configError(fmt.Errorf("loading configuration: %w", err))
	}

	log, err := buildLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	k, err := mcpserver.New(ctx, &cfg, log)
	if err != nil {
		return storeError(fmt.Errorf("building kernel: %w", err))
	}
	defer func() {
		if err := k.Close(); err != nil {
			log.Warn("error closing kernel", zap.Error(err))
		}
	}()

	if err := k.Supervisor.Start(ctx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	defer k.Supervisor.Stop(context.Background())

	switch cfg.Transport {
	case config.TransportHTTP:
		return serveHTTP(ctx, &cfg, k, log)
	default:
		log.Info("serving over stdio")
		return server.ServeStdio(k.MCP, server.WithStdioContextFunc(func(c context.Context) context.Context {
			return k.AdminKeyCtx(c)
		}))
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, k *mcpserver.Kernel, log *zap.Logger) error {
	addr := mcpserver.Addr(cfg.Host, cfg.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mcpserver.NewHTTPHandler(k),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving over http", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func bootstrapAdminKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin-key",
		Short: "Mint the admin API key if none exists yet, and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return configError(fmt.Errorf("loading configuration: %w", err))
			}
			st, err := store.New(store.Config{DataDir: cfg.DataRoot})
			if err != nil {
				return storeError(fmt.Errorf("opening store: %w", err))
			}
			defer st.Close()

			plaintext, minted, err := security.EnsureAdminKey(context.Background(), st, cfg.AdminBootstrapKey)
			if err != nil {
				return fmt.Errorf("bootstrapping admin key: %w", err)
			}
			if !minted {
				fmt.Fprintln(os.Stderr, "an admin key already exists; no new key was minted")
				return nil
			}
			fmt.Println(plaintext)
			return nil
		},
	}
}

func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
