// 包 utils：PostgreSQL/Redis 连接工具，统一环境变量读取
package utils

import (
	"database/sql"
	"os"

	_ "github.com/lib/pq"
)

// OpenPostgres：使用显式 DSN 打开连接池
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return db, nil
}

// BuildPostgresDSNFromEnv：PG_HOST/PG_PORT/PG_USER/PG_PASSWORD/PG_DB/PG_SSLMODE 组装 DSN
func BuildPostgresDSNFromEnv() string {
	host := os.Getenv("PG_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("PG_USER")
	if user == "" {
		user = "postgres"
	}
	pass := os.Getenv("PG_PASSWORD")
	db := os.Getenv("PG_DB")
	if db == "" {
		db = "geoheat"
	}
	ssl := os.Getenv("PG_SSLMODE")
	if ssl == "" {
		ssl = "disable"
	}
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

// OpenPostgresFromEnv：按 PG_* 组装 DSN 打开连接池，PG_MAX_OPEN_CONNS / PG_MAX_IDLE_CONNS 覆盖池大小
func OpenPostgresFromEnv() (*sql.DB, error) {
	db, err := OpenPostgres(BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	if n := EnvInt("PG_MAX_OPEN_CONNS", 0); n > 0 {
		db.SetMaxOpenConns(n)
	}
	if n := EnvInt("PG_MAX_IDLE_CONNS", 0); n > 0 {
		db.SetMaxIdleConns(n)
	}
	return db, nil
}
