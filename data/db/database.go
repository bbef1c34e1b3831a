// Package db 提供号码池持久化使用的最小数据库抽象
//
// 只覆盖存储实现真正需要的能力：查询、执行与事务。
// 具体驱动（modernc sqlite、pgx）由上层通过空导入注册。
package db

import (
	"context"
	"database/sql"
	"time"
)

// IDatabase 通用数据库接口
type IDatabase interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// 事务
	Begin(ctx context.Context) (ITransaction, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (ITransaction, error)

	Ping(ctx context.Context) error
	Close() error
}

// IDialectNameProvider 可选接口：提供底层数据库方言名称
//
// 实现方返回 driver 名（"sqlite"、"pgx"、"postgres"），
// 存储层据此决定占位符、行锁与唯一键错误识别方式。
type IDialectNameProvider interface {
	GetDialectName() string
}

// ITransaction 事务接口
type ITransaction interface {
	IDatabase

	Commit() error
	Rollback() error
}

// IRows 查询结果集接口
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// IRow 单行结果接口
type IRow interface {
	Scan(dest ...any) error
}

// DBConfig 数据库配置
type DBConfig struct {
	Driver string // sqlite, pgx
	DSN    string

	// 连接池
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// PingTimeout 打开后的可用性检查超时，0 表示 3s
	PingTimeout time.Duration
}
