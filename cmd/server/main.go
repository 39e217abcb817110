// Command server runs the chat relay: it accepts a conversation on
// POST /api/generate and streams the assistant reply back as plain text.
//
// Configuration is read from a YAML file (--config, CHATRELAY_CONFIG,
// ./config.yaml or /etc/chatrelay/config.yaml) with environment overrides:
//
//	OPENAI_API_KEY            - Upstream API key (required)
//	OPENAI_API_MODEL          - Model name (default: gpt-3.5-turbo)
//	OPENAI_API_BASE_URL       - Upstream base URL (default: https://api.openai.com)
//	SITE_PASSWORD             - Shared password required by the relay (optional)
//	CHATRELAY_PORT            - Listen port (default: 8080)
//	CHATRELAY_LOG_LEVEL       - trace, debug, info, warn or error (default: info)
//	CHATRELAY_DEBUG           - Debug categories: upstream, streaming, transport, all
//	CHATRELAY_TRACING_ENABLED - Export OpenTelemetry traces over OTLP/HTTP
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/chatrelay/pkg/auth"
	"github.com/rhuss/chatrelay/pkg/config"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
	transporthttp "github.com/rhuss/chatrelay/pkg/transport/http"
	"github.com/rhuss/chatrelay/pkg/upstream"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "Stream chat completions to clients as plain text",
		Long: `chatrelay accepts a conversation on POST /api/generate, forwards it to an
OpenAI-compatible chat completions endpoint and streams the reply back as
plain text while it is being generated.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgFile)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")
	cmd.CompletionOptions.DisableDefaultCmd = true

	return cmd
}

func run(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)
	debug.Init(cfg.Logging.Debug)
	if cats := debug.Categories(); len(cats) > 0 {
		logger.Info("debug categories enabled", "categories", cats)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	tr := cfg.Observability.Tracing
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingOptions{
		Enabled:     tr.Enabled,
		Endpoint:    tr.Endpoint,
		Insecure:    tr.Insecure,
		ServiceName: tr.ServiceName,
		SampleRatio: tr.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	client := upstream.NewClient(upstream.Config{
		BaseURL:               cfg.Upstream.BaseURL,
		APIKey:                cfg.Upstream.APIKey,
		Model:                 cfg.Upstream.Model,
		SystemPrompt:          cfg.Upstream.SystemPrompt,
		ResponseHeaderTimeout: cfg.Upstream.ResponseHeaderTimeout,
		Logger:                logger,
	})
	defer client.Close()

	gate := auth.NewPasswordGate(cfg.Site.Password)
	if gate.Enabled() {
		logger.Info("site password enabled")
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithReadHeaderTimeout(cfg.Server.ReadTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithPasswordGate(gate),
		transporthttp.WithLogger(logger),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithMetrics(cfg.Observability.Metrics.Path))
	}

	logger.Info("relay configured",
		"version", version,
		"upstream", cfg.Upstream.BaseURL,
		"model", client.Model(),
		"metrics", cfg.Observability.Metrics.Enabled,
		"tracing", tr.Enabled,
	)

	return transporthttp.NewServer(client, opts...).ListenAndServe()
}

// newLogger builds the process logger from the logging section.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: debug.ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
