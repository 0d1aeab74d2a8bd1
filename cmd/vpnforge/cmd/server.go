package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vpnforge/vpnforge/api"
	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/vpn"
)

var (
	serverHost string
	serverPort int
	tlsCert    string
	tlsKey     string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the orchestrator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		logger := cfg.Logging.NewLogger()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logRec := audit.NewLog(logger)
		rec := audit.Recorder(logRec)
		trail, err := openTrail(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening audit trail: %w", err)
		}
		if trail != nil {
			defer trail.Close()
			rec = audit.NewMulti(logRec, trail)
		}

		mgr, err := buildManager(ctx, cfg, rec)
		if err != nil {
			return err
		}

		apiOpts := []api.Option{
			api.WithLogger(logger),
			api.WithToken(cfg.Server.Token),
		}
		if trail != nil {
			apiOpts = append(apiOpts, api.WithAuditStore(trail))
		}
		if cfg.RateLimit.Enabled {
			apiOpts = append(apiOpts, api.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}

		var sup *vpn.Supervisor
		if cfg.VPN.Enabled {
			sup = vpn.New(cfg.VPN.Binary, cfg.VPN.ConfigFile,
				vpn.WithArgs(cfg.VPN.Args...),
				vpn.WithLogger(logger),
				vpn.WithBackoff(cfg.VPN.RestartBackoff(), cfg.VPN.RestartBackoffMax()))
			apiOpts = append(apiOpts, api.WithReloadHook(func() {
				if err := sup.Reload(); err != nil && !errors.Is(err, vpn.ErrNotRunning) {
					logger.Warn("vpn daemon reload failed", "error", err)
				}
			}))
		}

		a := api.New(mgr, apiOpts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", promhttp.Handler())
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsCert != "" && tlsKey != "" {
				server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
				err = server.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		// A nil channel never fires, so the select below ignores the
		// supervisor when it is disabled.
		var supDone chan error
		if sup != nil {
			supDone = make(chan error, 1)
			go func() { supDone <- sup.Run(ctx) }()
		}

		printBanner()
		fmt.Printf("Starting server on %s (store: %s, output: %s)...\n",
			cfg.Server.Addr(), cfg.Store.Dir, cfg.Store.Output)

		shutdown := func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(sctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			fmt.Println("\nReceived shutdown signal, shutting down...")
			return shutdown()
		case err := <-done:
			return err
		case err := <-supDone:
			// The supervisor only returns while ctx is live when the
			// daemon binary cannot be started at all.
			if serr := shutdown(); serr != nil {
				logger.Warn("shutdown after supervisor failure", "error", serr)
			}
			return fmt.Errorf("vpn supervisor: %w", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&serverHost, "host", "127.0.0.1", "Address to listen on")
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
