package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"brokerd/internal/broker"
	"brokerd/internal/common/fsutil"
	"brokerd/internal/config"
	"brokerd/internal/feature"
	"brokerd/internal/httpapi"
	"brokerd/internal/remote"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		cfgPath        string
		addr           string
		bin            string
		capacity       int
		queueDepth     int
		timeoutSeconds int
		artifactDir    string
		logLevel       string
	)

	root := &cobra.Command{
		Use:           "brokerd",
		Short:         "Bounded concurrent broker for external AI-completion CLIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (.toml/.yaml/.json)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if cfgPath != "" {
				path, err := fsutil.ExpandHome(cfgPath)
				if err != nil {
					return err
				}
				loaded, err := config.Load(path)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags override the config file.
			if cmd.Flags().Changed("addr") || cfg.Addr == "" {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("bin") || cfg.Bin == "" {
				cfg.Bin = bin
			}
			if cmd.Flags().Changed("capacity") {
				cfg.Capacity = capacity
			}
			if cmd.Flags().Changed("queue-depth") {
				cfg.QueueDepth = queueDepth
			}
			if cmd.Flags().Changed("timeout-seconds") {
				cfg.TimeoutSeconds = timeoutSeconds
			}
			if cmd.Flags().Changed("artifact-dir") {
				cfg.ArtifactDir = artifactDir
			}
			if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
				cfg.LogLevel = logLevel
			}
			return runServe(cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	serve.Flags().StringVar(&bin, "bin", "claude", "External CLI executable")
	serve.Flags().IntVar(&capacity, "capacity", 0, "Max concurrent subprocesses (0=default)")
	serve.Flags().IntVar(&queueDepth, "queue-depth", 0, "Max queued requests (0=default)")
	serve.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 0, "Default request timeout in seconds (0=default)")
	serve.Flags().StringVar(&artifactDir, "artifact-dir", "", "Directory for temp payload files")
	serve.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.AddCommand(serve)

	return root
}

func runServe(cfg config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	artifactDir, err := fsutil.ExpandHome(cfg.ArtifactDir)
	if err != nil {
		return fmt.Errorf("artifact dir: %w", err)
	}
	if err := fsutil.EnsureDir(artifactDir); err != nil {
		return fmt.Errorf("artifact dir: %w", err)
	}

	b := broker.New(broker.Config{
		Bin:            cfg.Bin,
		Capacity:       cfg.Capacity,
		QueueDepth:     cfg.QueueDepth,
		DefaultTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Grace:          time.Duration(cfg.GraceSeconds) * time.Second,
		ArtifactDir:    artifactDir,
		StatusTTL:      time.Duration(cfg.StatusTTLSeconds) * time.Second,
		ScrubEnv:       cfg.ScrubEnv,
		Logger:         log.With().Str("component", "broker").Logger(),
	})
	rc := remote.New(cfg.Remote.BaseURL, cfg.Remote.Model, cfg.Remote.APIKeyEnv, cfg.Remote.MaxTokens)
	feats := feature.New(b, rc, log.With().Str("component", "feature").Logger())

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins)
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(b, feats)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("bin", cfg.Bin).Msg("brokerd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful http shutdown error")
	}
	b.Shutdown()
	return nil
}
