package migrate

import (
	"database/sql"

	"geoheat/internal/logger"
)

// 背景：首次运行自动创建帖子表与热力图/空间索引所需索引
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；坐标与创建时间允许为空
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
            id TEXT PRIMARY KEY,
            lat DOUBLE PRECISION NULL,
            lng DOUBLE PRECISION NULL,
            geohash_index TEXT NULL,
            tags TEXT[] NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NULL,
            visibility TEXT NOT NULL DEFAULT 'PUBLIC'
        )`,
		`CREATE INDEX IF NOT EXISTS idx_posts_lat_lng ON posts(lat, lng) WHERE visibility = 'PUBLIC'`,
		`CREATE INDEX IF NOT EXISTS idx_posts_geohash ON posts(geohash_index)`,
		// 回填任务只扫描缺失索引的记录
		`CREATE INDEX IF NOT EXISTS idx_posts_geohash_missing ON posts(id)
            WHERE lat IS NOT NULL AND lng IS NOT NULL AND (geohash_index IS NULL OR geohash_index = '')`,
		`CREATE INDEX IF NOT EXISTS idx_posts_tags ON posts USING GIN(tags)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
