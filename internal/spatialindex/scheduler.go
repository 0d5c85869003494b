package spatialindex

import (
	"context"
	"time"

	"geoheat/internal/logger"
)

// nextDailyAt：loc 时区下一次 hour 整点（严格晚于 now）
func nextDailyAt(now time.Time, loc *time.Location, hour int) time.Time {
	now = now.In(loc)
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// StartNightlyBackfill：后台协程每天在 hour 点执行一次 Backfill，ctx 结束时退出
// 约束：hour 超出 [0,23] 时按 3 点处理；单次失败只记录日志，不影响后续调度
func StartNightlyBackfill(ctx context.Context, m *Maintainer, loc *time.Location, hour int) {
	l := logger.L()
	if loc == nil {
		loc = time.UTC
	}
	if hour < 0 || hour > 23 {
		hour = 3
	}
	go func() {
		for {
			next := nextDailyAt(time.Now(), loc, hour)
			l.Info("index_schedule_next", "at", next)
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				l.Info("index_schedule_stopped")
				return
			case <-t.C:
			}
			if _, err := m.Backfill(ctx); err != nil {
				l.Error("index_schedule_run_error", "err", err)
			}
		}
	}()
}
