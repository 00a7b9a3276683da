package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkcode/darkcode-server/internal/admin"
	"github.com/darkcode/darkcode-server/internal/agent"
	"github.com/darkcode/darkcode-server/internal/api"
	"github.com/darkcode/darkcode-server/internal/cache"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/daemon"
	"github.com/darkcode/darkcode-server/internal/health"
	"github.com/darkcode/darkcode-server/internal/history"
	xglog "github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/netguard"
	"github.com/darkcode/darkcode-server/internal/qr"
	"github.com/darkcode/darkcode-server/internal/replay"
	"github.com/darkcode/darkcode-server/internal/security"
	"github.com/darkcode/darkcode-server/internal/session"
	"github.com/darkcode/darkcode-server/internal/telemetry"
	"github.com/darkcode/darkcode-server/internal/tlsutil"
	"github.com/darkcode/darkcode-server/internal/version"
	"github.com/darkcode/darkcode-server/internal/ws"
)

// resolveConfigPath prefers an explicit -config flag and falls back to
// the default location inside ConfigDir. The loader tolerates a
// missing file, so the fallback works before `init` ever ran.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	return config.Default().ConfigFilePath()
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("darkcode-server serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	port := fs.Int("port", 0, "listen port override")
	host := fs.String("host", "", "bind host override")
	workdir := fs.String("workdir", "", "agent working directory override")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	xglog.Configure(xglog.Config{Service: "darkcode-server"})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectiveConfigPath := resolveConfigPath(*configPath)
	loader := config.NewLoader(effectiveConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	if *port != 0 {
		cfg.Port = *port
	}
	if *host != "" {
		cfg.BindHost = *host
	}
	if *workdir != "" {
		if abs, err := filepath.Abs(*workdir); err == nil {
			cfg.WorkingDir = abs
		} else {
			cfg.WorkingDir = *workdir
		}
	}

	if err := config.ValidateForServe(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration not ready to serve, run 'darkcode-server init' first")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", net.JoinHostPort(cfg.EffectiveBindHost(), strconv.Itoa(cfg.Port))).
		Str("working_dir", cfg.WorkingDir).
		Msg("starting darkcode-server")

	if probe := agent.Probe(ctx, cfg.AgentBin); probe.Found {
		logger.Info().
			Str("event", "agent.detected").
			Str("bin", probe.Path).
			Str("agent_version", probe.Version).
			Msg("coding agent found")
	}

	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "configdir.create_failed").
			Str("config_dir", cfg.ConfigDir).
			Msg("failed to create config directory")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.checks_failed").
			Msg("startup checks failed")
	}

	// Refuse to double-start before touching any database.
	pidfile := daemon.NewPidfile(cfg.PIDFilePath())
	if err := pidfile.Acquire(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "pidfile.acquire_failed").
			Str("pidfile", pidfile.Path()).
			Msg("another server instance appears to be running")
	}
	defer func() {
		if err := pidfile.Release(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove pidfile")
		}
	}()

	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		certPath, keyPath, err := tlsutil.EnsureCertificates(tlsutil.Config{
			CertPath: cfg.CertPath(),
			KeyPath:  cfg.KeyPath(),
			Logger:   xglog.WithComponent("tls"),
		})
		if err != nil {
			logger.Error().
				Err(err).
				Str("event", "tls.ensure_failed").
				Msg("failed to ensure tls certificates")
			return 1
		}
		clientCA := ""
		if cfg.MTLSEnabled {
			clientCA = cfg.ClientCAPath()
		}
		tlsConfig, err = tlsutil.ServerConfig(certPath, keyPath, clientCA)
		if err != nil {
			logger.Error().
				Err(err).
				Str("event", "tls.config_failed").
				Msg("failed to build tls configuration")
			return 1
		}
		logger.Info().
			Str("event", "tls.enabled").
			Bool("mtls", cfg.MTLSEnabled).
			Str("cert", certPath).
			Msg("tls enabled")
	}

	holder := config.NewHolder(cfg, config.NewLoader(effectiveConfigPath), effectiveConfigPath)

	guests, err := security.NewGuestManager(cfg.GuestDBPath())
	if err != nil {
		logger.Error().Err(err).Str("event", "store.open_failed").Msg("failed to open guest database")
		return 1
	}
	defer guests.Close()

	limiter, err := security.NewLimiter(cfg.SecurityDBPath(), security.DefaultLimiterConfig())
	if err != nil {
		logger.Error().Err(err).Str("event", "store.open_failed").Msg("failed to open security database")
		return 1
	}
	defer limiter.Close()

	historyStore, err := history.New(cfg.HistoryDBPath())
	if err != nil {
		logger.Error().Err(err).Str("event", "store.open_failed").Msg("failed to open history database")
		return 1
	}
	defer historyStore.Close()

	spool, err := replay.Open(cfg.ReplayDirPath(), cfg.ReplayTTL)
	if err != nil {
		logger.Error().Err(err).Str("event", "store.open_failed").Msg("failed to open replay spool")
		return 1
	}
	defer spool.Close()

	sessionCache := cache.New(cfg, xglog.WithComponent("cache"))
	defer sessionCache.Close()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "darkcode-server",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	}, outboundPolicy(cfg))
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("telemetry configuration rejected")
		return 1
	}

	state := daemon.NewState()
	hub := session.NewHub(cfg.MaxSessionsPerIP)
	runner := agent.NewRunner(cfg.AgentBin, cfg.WorkingDir)

	healthMgr := health.NewManager(version.String())
	healthMgr.RegisterChecker(health.NewAgentChecker(func() string { return holder.Get().AgentBin }))
	healthMgr.RegisterChecker(health.NewWorkdirChecker(func() string { return holder.Get().WorkingDir }))
	healthMgr.RegisterChecker(health.NewHistoryChecker(historyStore))
	healthMgr.RegisterChecker(health.NewStateChecker(state.Get))

	wsHandler := ws.NewHandler(ws.Deps{
		Holder:      holder,
		Hub:         hub,
		Guests:      guests,
		Limiter:     limiter,
		Runner:      runner,
		History:     historyStore,
		Spool:       spool,
		ServerState: state.Get,
	})

	var adminRoutes chi.Router
	if cfg.AdminEnabled {
		adminServer, err := admin.NewServer(admin.Deps{
			Holder:      holder,
			Hub:         hub,
			Guests:      guests,
			Limiter:     limiter,
			Cache:       sessionCache,
			StartedAt:   time.Now(),
			ServerState: state.Get,
		})
		if err != nil {
			logger.Error().Err(err).Str("event", "admin.init_failed").Msg("failed to build admin dashboard")
			return 1
		}
		adminRoutes = adminServer.Routes()
	}

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = "darkcode-server"
	}
	handler, err := api.New(api.Deps{
		Health:         healthMgr,
		WS:             wsHandler,
		Admin:          adminRoutes,
		TracingService: tracingService,
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "router.init_failed").Msg("failed to build router")
		return 1
	}

	deps := daemon.Deps{
		Logger:    logger,
		Handler:   handler,
		TLSConfig: tlsConfig,
		State:     state,
	}
	if cfg.MetricsAddr != "" {
		deps.MetricsHandler = promhttp.Handler()
		deps.MetricsAddr = cfg.MetricsAddr
	}

	serverCfg := daemon.DefaultServerConfig(net.JoinHostPort(cfg.EffectiveBindHost(), strconv.Itoa(cfg.Port)))
	manager, err := daemon.NewManager(serverCfg, deps)
	if err != nil {
		logger.Error().Err(err).Str("event", "manager.init_failed").Msg("failed to create server manager")
		return 1
	}

	// LIFO: clients are drained before the tracer flushes its spans.
	manager.RegisterShutdownHook("telemetry", provider.Shutdown)
	manager.RegisterShutdownHook("websocket_drain", func(context.Context) error {
		wsHandler.Shutdown()
		return nil
	})

	if err := qr.PrintServerInfo(os.Stdout, cfg); err != nil {
		logger.Warn().Err(err).Msg("failed to print connection info")
	}

	retention := history.NewRetention(historyStore, cfg.HistoryRetentionDays)
	app := daemon.NewApp(logger, manager, holder, retention)
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("server failed")
		return 1
	}

	logger.Info().Msg("server exiting")
	return 0
}

// outboundPolicy widens the outbound boundary with the operator's
// allowlist. Entries with a slash are CIDRs, everything else is a
// host.
func outboundPolicy(cfg config.Config) netguard.Policy {
	var policy netguard.Policy
	for _, entry := range cfg.OutboundAllow {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			policy.ExtraCIDRs = append(policy.ExtraCIDRs, entry)
		} else {
			policy.ExtraHosts = append(policy.ExtraHosts, entry)
		}
	}
	return policy
}
