// 包 spatialindex：帖子 geohash 索引字段的批量回填与重建
package spatialindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geoheat/internal/geohash"
	"geoheat/internal/logger"
	"geoheat/internal/metrics"
)

const (
	DefaultBatchSize = 100
	DefaultPrecision = 7

	JobBackfill   = "backfill"
	JobRegenerate = "regenerate"
)

var ErrRecordFailed = errors.New("spatial index record failed")

// Record：维护任务读取的最小帖子视图
type Record struct {
	ID      string
	Lat     float64
	Lng     float64
	Geohash string
}

// IndexStore：维护任务依赖的存储操作
type IndexStore interface {
	ScanIndexBatch(ctx context.Context, after string, missingOnly bool, limit int) ([]Record, error)
	SetGeohash(ctx context.Context, id string, value string) error
}

// Report：一次运行的统计；Processed = Updated + Unchanged + Failed
type Report struct {
	Job       string
	Precision int
	Batches   int
	Processed int
	Updated   int
	Unchanged int
	Failed    int
	Duration  time.Duration
}

// Maintainer：同一集合同一时刻只应运行一个实例；并发运行结果仍一致，只是浪费
type Maintainer struct {
	store     IndexStore
	precision int
	batchSize int
}

// NewMaintainer：precision 为回填使用的默认精度，batchSize<=0 时取 100
func NewMaintainer(store IndexStore, precision, batchSize int) *Maintainer {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Maintainer{store: store, precision: geohash.ClampPrecision(precision), batchSize: batchSize}
}

// Backfill：为有坐标但缺少索引的帖子计算默认精度的 geohash
func (m *Maintainer) Backfill(ctx context.Context) (Report, error) {
	return m.run(ctx, JobBackfill, m.precision, true)
}

// Regenerate：以新精度重算全部有坐标帖子的索引，覆盖已有值
func (m *Maintainer) Regenerate(ctx context.Context, precision int) (Report, error) {
	return m.run(ctx, JobRegenerate, geohash.ClampPrecision(precision), false)
}

// run：id 游标分页，批与批之间检查 ctx；单条失败记录后跳过，仅取批失败时终止
func (m *Maintainer) run(ctx context.Context, job string, precision int, missingOnly bool) (Report, error) {
	l := logger.L().With("job", job, "precision", precision)
	rep := Report{Job: job, Precision: precision}
	start := time.Now()
	l.Info("index_job_begin", "batch_size", m.batchSize)

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			l.Warn("index_job_cancelled", "processed", rep.Processed, "cursor", cursor, "err", err)
			return rep, err
		}
		batch, err := m.store.ScanIndexBatch(ctx, cursor, missingOnly, m.batchSize)
		if err != nil {
			rep.Duration = time.Since(start)
			l.Error("index_batch_fetch_error", "cursor", cursor, "err", err)
			return rep, fmt.Errorf("%s: fetch batch after %q: %w", job, cursor, err)
		}
		if len(batch) == 0 {
			break
		}
		rep.Batches++
		metrics.IndexBatchesTotal.WithLabelValues(job).Inc()
		for _, r := range batch {
			rep.Processed++
			switch err := m.apply(ctx, r, precision); {
			case err == nil:
				rep.Updated++
				metrics.IndexRecordsTotal.WithLabelValues(job, "updated").Inc()
			case errors.Is(err, errUnchanged):
				rep.Unchanged++
				metrics.IndexRecordsTotal.WithLabelValues(job, "unchanged").Inc()
			default:
				rep.Failed++
				metrics.IndexRecordsTotal.WithLabelValues(job, "failed").Inc()
				l.Warn("index_record_failed", "post_id", r.ID, "err", err)
			}
		}
		cursor = batch[len(batch)-1].ID
		l.Debug("index_batch_done", "batch", rep.Batches, "size", len(batch), "cursor", cursor)
		if len(batch) < m.batchSize {
			break
		}
	}
	rep.Duration = time.Since(start)
	l.Info("index_job_done", "processed", rep.Processed, "updated", rep.Updated, "unchanged", rep.Unchanged,
		"failed", rep.Failed, "batches", rep.Batches, "duration_ms", rep.Duration.Milliseconds())
	return rep, nil
}

var errUnchanged = errors.New("unchanged")

func (m *Maintainer) apply(ctx context.Context, r Record, precision int) error {
	g, err := geohash.Encode(r.Lat, r.Lng, precision)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRecordFailed, r.ID, err)
	}
	if g == r.Geohash {
		return errUnchanged
	}
	if err := m.store.SetGeohash(ctx, r.ID, g); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRecordFailed, r.ID, err)
	}
	return nil
}
