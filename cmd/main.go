// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"geoheat/internal/api"
	"geoheat/internal/heatmap"
	"geoheat/internal/iplocate"
	"geoheat/internal/kvcache"
	"geoheat/internal/logger"
	"geoheat/internal/metrics"
	"geoheat/internal/middleware"
	"geoheat/internal/migrate"
	"geoheat/internal/spatialindex"
	"geoheat/internal/store"
	"geoheat/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	l.Info("db_open_ok")
	if err := db.PingContext(ctx); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)

	// Redis 不可用时缓存退化为每次重算，不影响读路径；显式禁用时改用进程内缓存
	var cacheStore kvcache.Store
	if rc := utils.OpenRedisFromEnv(); rc == nil {
		cacheStore = kvcache.NewMemoryStore(utils.EnvInt("HEATMAP_MEMORY_CACHE_CAP", 4096))
		l.Info("redis_disabled", "fallback", "memory")
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		cacheStore = kvcache.NewRedisStore(rc)
	}

	ttl := time.Duration(utils.EnvInt("HEATMAP_CACHE_TTL_S", int(heatmap.CacheTTL/time.Second))) * time.Second
	cache := heatmap.NewCache(cacheStore, ttl, utils.EnvMillis("HEATMAP_CACHE_OP_TIMEOUT_MS", 200*time.Millisecond))
	agg := heatmap.NewAggregator(st, heatmap.WithZeroIsMissing(os.Getenv("HEATMAP_ZERO_IS_MISSING") == "true"))
	svc := heatmap.NewService(agg, cache, heatmap.WithQueryTimeout(utils.EnvMillis("HEATMAP_QUERY_TIMEOUT_MS", 5*time.Second)))
	l.Debug("config_heatmap", "ttl", ttl, "zero_is_missing", os.Getenv("HEATMAP_ZERO_IS_MISSING") == "true")

	var locator *iplocate.Locator
	if p := os.Getenv("GEOIP_DB_PATH"); p != "" {
		if locator, err = iplocate.Open(p); err != nil {
			l.Error("geoip_open_error", "path", p, "err", err)
		} else {
			defer locator.Close()
			l.Info("geoip_ready", "path", p)
		}
	}

	if os.Getenv("INDEX_SCHEDULE_ENABLED") == "true" {
		loc, err := time.LoadLocation(os.Getenv("INDEX_SCHEDULE_TZ"))
		if err != nil {
			l.Error("index_schedule_tz_error", "err", err)
			loc = time.UTC
		}
		m := spatialindex.NewMaintainer(st, utils.EnvInt("INDEX_PRECISION", spatialindex.DefaultPrecision), utils.EnvInt("INDEX_BATCH_SIZE", spatialindex.DefaultBatchSize))
		spatialindex.StartNightlyBackfill(ctx, m, loc, utils.EnvInt("INDEX_SCHEDULE_HOUR", 3))
	}

	apiMux := api.BuildRoutes(svc, locator, api.Config{
		DefaultPrecision: utils.EnvInt("HEATMAP_DEFAULT_PRECISION", 5),
		MaxCells:         utils.EnvInt("HEATMAP_MAX_CELLS", 0),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
	})
	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", api.Health(db.PingContext))

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.Info("shutdown_begin")
		_ = s.Shutdown(sctx)
	}()

	certPath, keyPath := os.Getenv("TLS_CERT_PATH"), os.Getenv("TLS_KEY_PATH")
	if certPath != "" && keyPath != "" {
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		err = s.ListenAndServeTLS(certPath, keyPath)
	} else {
		l.Info("listening", "addr", addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_done")
}
