package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"ladderbot/internal/config"
)

var memorySeq atomic.Int64

// Store 封装 SQLite 连接，用于持久化调度日志。
type Store struct {
	db *sql.DB
}

// NewSQLite 根据配置初始化 SQLite 存储。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	conn.SetMaxOpenConns(maxOpen)
	maxIdle := cfg.MaxIdleConns
	if cfg.InMemory && maxIdle < 1 {
		// 最后一个连接关闭时内存库即被销毁
		maxIdle = 1
	}
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pragmas := []string{"PRAGMA synchronous=NORMAL;"}
	if !cfg.InMemory {
		pragmas = append([]string{"PRAGMA journal_mode=WAL;"}, pragmas...)
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("设置 SQLite 参数 %q 失败: %w", pragma, err)
		}
	}

	return &Store{db: conn}, nil
}

// 内存库使用共享缓存，保证连接池中的多个连接看到同一份数据。
func buildDSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.InMemory {
		return fmt.Sprintf("file:ladderbot-%d?mode=memory&cache=shared&_busy_timeout=5000", memorySeq.Add(1)), nil
	}
	if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		return "", err
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", cfg.Path), nil
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}
