package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoheat/internal/logger"
	"geoheat/internal/migrate"
	"geoheat/internal/spatialindex"
	"geoheat/internal/store"
	"geoheat/internal/utils"

	"github.com/joho/godotenv"
)

// 文档注释：空间索引维护 CLI
// 背景：backfill 只为缺失 geohash_index 的帖子补齐索引；regenerate 在修改精度后全量重写。
// 约束：两者都可重复执行；中断后重跑会从头扫描，已完成的记录计为 unchanged。
func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	mode := flag.String("mode", spatialindex.JobBackfill, "backfill|regenerate")
	precision := flag.Int("precision", utils.EnvInt("INDEX_PRECISION", spatialindex.DefaultPrecision), "geohash precision 1-12")
	batch := flag.Int("batch", utils.EnvInt("INDEX_BATCH_SIZE", spatialindex.DefaultBatchSize), "records per batch")
	timeout := flag.Duration("timeout", 0, "abort after this duration, 0 means no limit")
	dsn := flag.String("dsn", "", "postgres DSN, defaults to PG_* environment")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	var (
		db  *sql.DB
		err error
	)
	if *dsn != "" {
		db, err = utils.OpenPostgres(*dsn)
	} else {
		db, err = utils.OpenPostgresFromEnv()
	}
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	m := spatialindex.NewMaintainer(store.AttachDB(db), *precision, *batch)
	var rep spatialindex.Report
	switch *mode {
	case spatialindex.JobBackfill:
		rep, err = m.Backfill(ctx)
	case spatialindex.JobRegenerate:
		rep, err = m.Regenerate(ctx, *precision)
	default:
		l.Error("index_mode_invalid", "mode", *mode)
		flag.Usage()
		os.Exit(2)
	}
	l.Info("index_report",
		"job", rep.Job,
		"precision", rep.Precision,
		"batches", rep.Batches,
		"processed", rep.Processed,
		"updated", rep.Updated,
		"unchanged", rep.Unchanged,
		"failed", rep.Failed,
		"duration", rep.Duration.Round(time.Millisecond),
	)
	if err != nil {
		l.Error("index_job_error", "job", *mode, "err", err)
		os.Exit(1)
	}
}
