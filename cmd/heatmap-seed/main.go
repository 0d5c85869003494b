package main

import (
	"context"
	"flag"
	"math"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"geoheat/internal/heatmap"
	"geoheat/internal/kvcache"
	"geoheat/internal/logger"
	"geoheat/internal/migrate"
	"geoheat/internal/store"
	"geoheat/internal/utils"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// 文档注释：本地调试用的帖子种子数据
// 背景：围绕中心点按高斯分布生成帖子，创建时间均匀分布在最近 days 天内，少量帖子缺少时间或不公开。
// 约束：geohash_index 留空，由 spatial-index backfill 补齐；写入后清空热力图缓存。
func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	n := flag.Int("n", 1000, "number of posts")
	lat := flag.Float64("lat", 37.7749, "centre latitude")
	lng := flag.Float64("lng", -122.4194, "centre longitude")
	spread := flag.Float64("spread", 0.1, "standard deviation in degrees")
	days := flag.Int("days", 14, "createdAt spread in days")
	tagList := flag.String("tags", "food,hiking,music,coffee,art", "comma separated tag pool")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)

	ctx := context.Background()
	rnd := rand.New(rand.NewPCG(*seed, *seed>>1))
	pool := strings.Split(*tagList, ",")
	now := time.Now().UTC()
	inserted := 0
	for i := 0; i < *n; i++ {
		p := randomPost(rnd, now, *lat, *lng, *spread, *days, pool)
		if err := st.InsertPost(ctx, p); err != nil {
			l.Error("seed_insert_error", "id", p.ID, "err", err)
			continue
		}
		inserted++
	}
	l.Info("seed_done", "inserted", inserted, "requested", *n)

	if rc := utils.OpenRedisFromEnv(); rc != nil {
		defer rc.Close()
		c := heatmap.NewCache(kvcache.NewRedisStore(rc), heatmap.CacheTTL, time.Second)
		l.Info("seed_cache_invalidated", "keys", c.InvalidateAll(ctx))
	}
}

func randomPost(rnd *rand.Rand, now time.Time, lat, lng, spread float64, days int, pool []string) store.NewPost {
	p := store.NewPost{ID: uuid.NewString(), Visibility: heatmap.VisibilityPublic}
	switch r := rnd.IntN(20); {
	case r == 0:
		p.Visibility = heatmap.VisibilityPrivate
	case r == 1:
		p.Visibility = heatmap.VisibilityFollowers
	}
	if rnd.IntN(50) != 0 {
		la := clamp(lat+rnd.NormFloat64()*spread, -90, 90)
		ln := clamp(lng+rnd.NormFloat64()*spread, -180, 180)
		p.Lat, p.Lng = &la, &ln
	}
	if rnd.IntN(25) != 0 && days > 0 {
		p.CreatedAt = now.Add(-time.Duration(rnd.Int64N(int64(days) * int64(24*time.Hour))))
	}
	for _, t := range pool {
		if t = strings.TrimSpace(t); t != "" && rnd.IntN(3) == 0 {
			p.Tags = append(p.Tags, t)
		}
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
