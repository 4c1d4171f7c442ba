package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liuran001/BiliSummary-Go/plugins/bilibili"
	"github.com/liuran001/BiliSummary-Go/plugins/llm"
	"github.com/liuran001/BiliSummary-Go/summary/analysis"
	"github.com/liuran001/BiliSummary-Go/summary/config"
	"github.com/liuran001/BiliSummary-Go/summary/db"
	logpkg "github.com/liuran001/BiliSummary-Go/summary/logger"
	"github.com/liuran001/BiliSummary-Go/summary/metrics"
	"github.com/liuran001/BiliSummary-Go/summary/worker"
)

// App wires all application dependencies.
type App struct {
	Config   *config.Config
	Logger   *logpkg.Logger
	DB       *db.Repository
	Pool     *worker.Pool
	Bilibili *bilibili.BilibiliPlatform
	LLM      *llm.Client
	Analysis *analysis.Service
	Build    BuildInfo

	metricsServer *http.Server
}

// BuildInfo provides build-time metadata.
type BuildInfo struct {
	RuntimeVer string
	BinVersion string
	CommitSHA  string
	BuildTime  string
	BuildArch  string
}

// Options adjusts a run without touching the config file.
type Options struct {
	ReuseCached bool
}

// New builds the application container.
func New(ctx context.Context, configPath string, build BuildInfo, opts Options) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logpkg.NewInDir(conf.GetString("LogDir"), conf.GetString("LogLevel"), conf.GetString("LogFormat"), conf.GetBool("LogSource"))
	if err != nil {
		return nil, err
	}

	gormLogger := logpkg.NewGormLogger(log.Slog(), logpkg.ParseGormLevel(conf.GetString("GormLogLevel")))
	databasePath := conf.GetString("Database")
	if strings.TrimSpace(databasePath) == "" {
		databasePath = "cache.db"
	}

	repo, err := db.NewSQLiteRepository(databasePath, gormLogger)
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("init db: %w", err)
	}
	poolMaxOpen := conf.GetInt("DBMaxOpenConns")
	poolMaxIdle := conf.GetInt("DBMaxIdleConns")
	poolMaxLifetimeSec := conf.GetInt("DBConnMaxLifetimeSec")
	if err := repo.ConfigurePool(poolMaxOpen, poolMaxIdle, time.Duration(poolMaxLifetimeSec)*time.Second); err != nil {
		_ = repo.Close()
		_ = log.Close()
		return nil, fmt.Errorf("configure db pool: %w", err)
	}

	pool := worker.New(conf.GetInt("WorkerPoolSize"))

	source, err := bilibili.NewFromConfig(conf, log.With("plugin", "bilibili"))
	if err != nil {
		pool.StopNow()
		_ = repo.Close()
		_ = log.Close()
		return nil, fmt.Errorf("init bilibili: %w", err)
	}

	llmOpts := conf.LLM()
	if llmOpts.APIKey == "" {
		log.Warn("llm: no api_key configured", "api_base", llmOpts.APIBase)
	}
	chat := llm.New(log.With("plugin", "llm"), llmOpts)

	service := analysis.New(source, chat, repo, pool, log, analysis.Options{
		Model:       chat.Model(),
		SegmentTTL:  segmentTTL(conf),
		MaxComments: conf.GetInt("MaxPromptComments"),
		ReplyPages:  conf.Bilibili().CommentPages,
		ReuseCached: opts.ReuseCached,
	})

	return &App{
		Config:   conf,
		Logger:   log,
		DB:       repo,
		Pool:     pool,
		Bilibili: source,
		LLM:      chat,
		Analysis: service,
		Build:    build,
	}, nil
}

func segmentTTL(conf *config.Config) time.Duration {
	return time.Duration(conf.GetInt("SegmentCacheTTLHours")) * time.Hour
}

// Start purges stale cache rows and serves metrics when MetricsAddr is set.
func (a *App) Start(ctx context.Context) error {
	if ttl := segmentTTL(a.Config); ttl > 0 {
		purged, err := a.DB.PurgeSegments(ctx, time.Now().Add(-ttl))
		if err != nil {
			a.Logger.Warn("failed to purge danmaku segments", "error", err)
		} else if purged > 0 {
			a.Logger.Info("purged stale danmaku segments", "count", purged)
		}
	}

	addr := strings.TrimSpace(a.Config.GetString("MetricsAddr"))
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.Logger.Info("metrics server listening", "addr", addr)
	return nil
}

// Shutdown releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown metrics server: %w", err)
		}
	}

	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			a.Pool.StopNow()
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown worker pool: %w", err)
			}
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			if a.Logger != nil {
				a.Logger.Error("failed to close database", "error", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("close database: %w", err)
			}
		}
	}

	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("close logger: %w", err)
			}
		}
	}

	return firstErr
}
