// Command pipegate-server runs the publicly reachable half of PipeGate: it
// accepts tunnel WebSocket handshakes from clients and forwards public HTTP
// traffic addressed to /{conn_id}/... over the matching tunnel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/brandongregoryscott/pipegate/internal/admin"
	"github.com/brandongregoryscott/pipegate/internal/apperr"
	"github.com/brandongregoryscott/pipegate/internal/auth"
	"github.com/brandongregoryscott/pipegate/internal/config"
	"github.com/brandongregoryscott/pipegate/internal/httpgateway"
	"github.com/brandongregoryscott/pipegate/internal/logger"
	"github.com/brandongregoryscott/pipegate/internal/metrics"
	"github.com/brandongregoryscott/pipegate/internal/middleware"
	"github.com/brandongregoryscott/pipegate/internal/registry"
)

const drainTimeout = 10 * time.Second

func main() {
	flags := pflag.NewFlagSet("pipegate-server", pflag.ExitOnError)
	configPath := flags.String("config", "", "optional YAML config file")
	host := flags.String("host", "", "listen address")
	port := flags.Int("port", 0, "listen port")
	clientToken := flags.String("client-token", "", "shared secret clients must present")
	jwtSecret := flags.String("jwt-secret", "", "HMAC secret for JWT client tokens (instead of --client-token)")
	sslCertFile := flags.String("ssl-certfile", "", "TLS certificate file (PEM)")
	sslKeyFile := flags.String("ssl-keyfile", "", "TLS private key file (PEM)")
	requestTimeout := flags.Int("request-timeout-seconds", 0, "dispatch deadline for tunneled requests")
	maxBodyBytes := flags.Int64("max-body-bytes", 0, "maximum public request body size")
	redisURL := flags.String("redis-url", "", "optional Redis URL for presence events")
	presenceChannel := flags.String("presence-channel", "", "Redis pub/sub channel for presence events")
	adminToken := flags.String("admin-token", "", "bearer token gating /admin endpoints (disabled when empty)")
	logLevel := flags.String("log-level", "", "zerolog level")
	pretty := flags.Bool("pretty", false, "human-readable console logging")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyServerFlags(&cfg, flags, serverFlagValues{
		host: host, port: port, clientToken: clientToken, jwtSecret: jwtSecret,
		sslCertFile: sslCertFile, sslKeyFile: sslKeyFile,
		requestTimeout: requestTimeout, maxBodyBytes: maxBodyBytes,
		redisURL: redisURL, presenceChannel: presenceChannel, adminToken: adminToken,
		logLevel: logLevel, pretty: pretty,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Log

	var validator auth.Validator
	if cfg.JWTSecret != "" {
		validator = auth.NewJWTValidator(cfg.JWTSecret)
		log.Info().Msg("client auth: JWT")
	} else {
		validator = auth.NewStaticTokenValidator(cfg.ClientToken)
		log.Info().Msg("client auth: static token")
	}

	var presence *registry.PresencePublisher
	if cfg.RedisURL != "" {
		presence, err = registry.NewPresencePublisher(cfg.RedisURL, cfg.PresenceChannel)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis url")
		}
		defer presence.Close()
		log.Info().Msg("presence mirroring enabled")
	}

	reg := registry.New()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.StructuredLogger())

	router.GET("/metrics", metrics.Handler())
	if cfg.AdminToken != "" {
		admin.NewHandler(reg, auth.NewStaticTokenValidator(cfg.AdminToken)).Register(router)
	}
	auth.NewGate(validator, reg, presence).Register(router)
	httpgateway.New(reg,
		httpgateway.WithDispatchDeadline(time.Duration(cfg.RequestTimeoutSeconds)*time.Second),
		httpgateway.WithMaxBodyBytes(cfg.MaxBodyBytes),
	).Register(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		var err error
		if cfg.SSLCertFile != "" {
			log.Info().Str("addr", srv.Addr).Msg("listening (TLS)")
			err = srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
		} else {
			log.Info().Str("addr", srv.Addr).Msg("listening")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Stop accepting new public requests and upgrades first, then tear down
	// the remaining tunnels so their in-flight waiters fail fast.
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("listener shutdown incomplete")
	}
	reg.DrainAll(apperr.New(apperr.CodeTunnelClosed, "server shutting down"), drainTimeout)
	log.Info().Msg("shutdown complete")
}

// serverFlagValues bundles the parsed flag pointers so applyServerFlags can
// overlay only the flags the operator actually set.
type serverFlagValues struct {
	host, clientToken, jwtSecret, sslCertFile, sslKeyFile *string
	redisURL, presenceChannel, adminToken, logLevel       *string
	port, requestTimeout                                  *int
	maxBodyBytes                                          *int64
	pretty                                                *bool
}

func applyServerFlags(cfg *config.ServerConfig, flags *pflag.FlagSet, v serverFlagValues) {
	if flags.Changed("host") {
		cfg.Host = *v.host
	}
	if flags.Changed("port") {
		cfg.Port = *v.port
	}
	if flags.Changed("client-token") {
		cfg.ClientToken = *v.clientToken
	}
	if flags.Changed("jwt-secret") {
		cfg.JWTSecret = *v.jwtSecret
	}
	if flags.Changed("ssl-certfile") {
		cfg.SSLCertFile = *v.sslCertFile
	}
	if flags.Changed("ssl-keyfile") {
		cfg.SSLKeyFile = *v.sslKeyFile
	}
	if flags.Changed("request-timeout-seconds") {
		cfg.RequestTimeoutSeconds = *v.requestTimeout
	}
	if flags.Changed("max-body-bytes") {
		cfg.MaxBodyBytes = *v.maxBodyBytes
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL = *v.redisURL
	}
	if flags.Changed("presence-channel") {
		cfg.PresenceChannel = *v.presenceChannel
	}
	if flags.Changed("admin-token") {
		cfg.AdminToken = *v.adminToken
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *v.logLevel
	}
	if flags.Changed("pretty") {
		cfg.LogPretty = *v.pretty
	}
}
