// Command pipegate-client runs on the tunneled host: it keeps an outbound
// WebSocket open to a pipegate-server and replays every tunneled request
// against a local origin server, reconnecting with backoff when the
// connection drops.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/brandongregoryscott/pipegate/internal/clientrelay"
	"github.com/brandongregoryscott/pipegate/internal/config"
	"github.com/brandongregoryscott/pipegate/internal/logger"
)

func main() {
	flags := pflag.NewFlagSet("pipegate-client", pflag.ExitOnError)
	configPath := flags.String("config", "", "optional YAML config file")
	localURL := flags.String("local-url", "", "origin base URL requests are replayed against")
	serverURL := flags.String("server-url", "", "pipegate-server base URL (ws://, wss://, http:// or https://)")
	connID := flags.String("conn-id", "", "connection id to claim (random UUID when omitted)")
	clientToken := flags.String("client-token", "", "bearer token presented at handshake")
	logLevel := flags.String("log-level", "", "zerolog level")
	pretty := flags.Bool("pretty", false, "human-readable console logging")
	noReconnect := flags.Bool("no-reconnect", false, "exit on the first connection loss instead of retrying")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if flags.Changed("local-url") {
		cfg.LocalURL = *localURL
	}
	if flags.Changed("server-url") {
		cfg.ServerURL = *serverURL
	}
	if flags.Changed("conn-id") {
		cfg.ConnID = *connID
	}
	if flags.Changed("client-token") {
		cfg.ClientToken = *clientToken
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("pretty") {
		cfg.LogPretty = *pretty
	}
	if cfg.ConnID == "" {
		cfg.ConnID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Client()
	log.Info().
		Str("conn_id", cfg.ConnID).
		Str("server_url", cfg.ServerURL).
		Str("local_url", cfg.LocalURL).
		Msg("starting relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := clientrelay.New(cfg.ServerURL, cfg.ConnID, cfg.ClientToken, cfg.LocalURL)
	if *noReconnect {
		if err := relay.Run(ctx); err != nil {
			log.Error().Err(err).Msg("relay stopped")
			os.Exit(1)
		}
		return
	}
	relay.RunWithReconnect(ctx, clientrelay.DefaultBackoff)
	log.Info().Msg("relay stopped")
}
