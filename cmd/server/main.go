package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ricardoV94/prediction-market/internal/api"
	"github.com/ricardoV94/prediction-market/internal/config"
	"github.com/ricardoV94/prediction-market/internal/exchange"
	"github.com/ricardoV94/prediction-market/internal/ledger"
	"github.com/ricardoV94/prediction-market/internal/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	setupLogging(cfg.Log)

	// --- Ledger backend ---
	log, cleanup, err := openLedger(cfg.Ledger)
	if err != nil {
		slog.Error("ledger open failed", "backend", cfg.Ledger.Backend, "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exchange: full replay on startup ---
	start := time.Now()
	x, err := exchange.New(context.Background(), log)
	if err != nil {
		slog.Error("ledger replay failed", "err", err)
		os.Exit(1)
	}
	x.RejectStaleQuotes = cfg.Exchange.RejectStaleQuotes
	metrics.ReplaysTotal.Inc()
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	slog.Info("ledger replayed", "events", x.Cursor(), "took", time.Since(start).String())

	// --- Optional Redis trade notifications ---
	var notifier api.Notifier
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis url", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		notifier = api.NewRedisNotifier(rdb, cfg.Redis.Channel)
		slog.Info("trade notifications enabled", "channel", cfg.Redis.Channel)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API service ---
	svc := api.NewService(x, wsHub, notifier)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"prediction-market"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/api/v1", svc.Router())

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("prediction-market listening", "addr", cfg.Server.Addr, "ledger", cfg.Ledger.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	slog.Info("shutting down prediction-market")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

// loadConfig reads the YAML config when a path is given, otherwise
// builds a default config from environment variables.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}

	cfg := config.Default()
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Ledger.Backend = "postgres"
		cfg.Ledger.DatabaseURL = dbURL
	} else if path := os.Getenv("LEDGER_PATH"); path != "" {
		cfg.Ledger.Path = path
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	return cfg, cfg.Validate()
}

// setupLogging installs the default slog handler: JSON to stdout, or
// rotated through lumberjack when a log file is configured.
func setupLogging(cfg config.LogConfig) {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
}

// openLedger constructs the configured ledger backend.
func openLedger(cfg config.LedgerConfig) (ledger.Log, []func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL ledger")
		return ledger.NewPostgresLog(pool), []func(){pool.Close}, nil

	case "memory":
		slog.Warn("using in-memory ledger, events will not persist")
		return ledger.NewMemoryLog(), nil, nil

	default: // "file", enforced by config validation
		fl, err := ledger.OpenFileLog(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("file ledger opened", "path", cfg.Path)
		return fl, []func(){func() { fl.Close() }}, nil
	}
}
