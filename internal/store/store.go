// 包 store：帖子表的 PostgreSQL 访问层，只覆盖热力图读取与空间索引维护所需的字段
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"geoheat/internal/heatmap"
	"geoheat/internal/logger"
	"geoheat/internal/spatialindex"

	"github.com/lib/pq"
)

// Store：持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

const heatmapSelect = `SELECT id, lat, lng, geohash_index, tags, created_at, visibility FROM posts`

// QueryHeatmapPosts：公开且有坐标、落在闭区间矩形内的帖子，可选时间窗与标签（忽略大小写与首尾空白）
func (s *Store) QueryHeatmapPosts(ctx context.Context, f heatmap.PostFilter) ([]heatmap.Post, error) {
	conds := []string{
		"visibility = $1",
		"lat IS NOT NULL",
		"lng IS NOT NULL",
		"lat BETWEEN $2 AND $3",
		"lng BETWEEN $4 AND $5",
	}
	args := []any{string(heatmap.VisibilityPublic), f.Box.MinLat, f.Box.MaxLat, f.Box.MinLng, f.Box.MaxLng}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.Tag != "" {
		args = append(args, strings.ToLower(strings.TrimSpace(f.Tag)))
		conds = append(conds, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE lower(btrim(t)) = $%d)", len(args)))
	}
	query := heatmapSelect + " WHERE " + strings.Join(conds, " AND ")
	logger.L().Debug("db_heatmap_query", "bbox", f.Box.Canonical(), "since", f.Since, "tag", f.Tag)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query heatmap posts: %w", err)
	}
	defer rows.Close()
	var out []heatmap.Post
	for rows.Next() {
		var (
			p         heatmap.Post
			lat, lng  sql.NullFloat64
			gh        sql.NullString
			tags      []string
			createdAt sql.NullTime
			vis       string
		)
		if err := rows.Scan(&p.ID, &lat, &lng, &gh, pq.Array(&tags), &createdAt, &vis); err != nil {
			return nil, fmt.Errorf("scan heatmap post: %w", err)
		}
		if lat.Valid && lng.Valid {
			p.Location = &heatmap.Location{Lat: lat.Float64, Lng: lng.Float64, GeohashIndex: gh.String}
		}
		p.Tags = tags
		if createdAt.Valid {
			p.CreatedAt = createdAt.Time
		}
		p.Visibility = heatmap.Visibility(vis)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heatmap posts: %w", err)
	}
	return out, nil
}

// ScanIndexBatch：按 id 游标分页读取有坐标的帖子；missingOnly 时只取 geohash_index 为空的记录
// 约束：id 严格大于 after，按 id 升序，更新当前页不会影响后续页的可见性
func (s *Store) ScanIndexBatch(ctx context.Context, after string, missingOnly bool, limit int) ([]spatialindex.Record, error) {
	if limit <= 0 {
		limit = spatialindex.DefaultBatchSize
	}
	query := `SELECT id, lat, lng, geohash_index FROM posts
        WHERE lat IS NOT NULL AND lng IS NOT NULL AND id > $1`
	if missingOnly {
		query += ` AND (geohash_index IS NULL OR geohash_index = '')`
	}
	query += ` ORDER BY id LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("scan index batch: %w", err)
	}
	defer rows.Close()
	var out []spatialindex.Record
	for rows.Next() {
		var r spatialindex.Record
		var gh sql.NullString
		if err := rows.Scan(&r.ID, &r.Lat, &r.Lng, &gh); err != nil {
			return nil, fmt.Errorf("scan index record: %w", err)
		}
		r.Geohash = gh.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index batch: %w", err)
	}
	return out, nil
}

// SetGeohash：只更新空间索引字段
func (s *Store) SetGeohash(ctx context.Context, id string, value string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET geohash_index = $2 WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("set geohash %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set geohash %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// NewPost：种子数据写入参数
type NewPost struct {
	ID         string
	Lat, Lng   *float64
	Tags       []string
	CreatedAt  time.Time
	Visibility heatmap.Visibility
}

// InsertPost：写入一条帖子，geohash_index 留空交给维护任务回填
func (s *Store) InsertPost(ctx context.Context, p NewPost) error {
	var created any
	if !p.CreatedAt.IsZero() {
		created = p.CreatedAt.UTC()
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO posts(id, lat, lng, tags, created_at, visibility)
        VALUES($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Lat, p.Lng, pq.Array(tags), created, string(p.Visibility),
	)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	return nil
}
