// Package dialect 抽象存储层用到的数据库方言差异
package dialect

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	core "policykit/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// pgUniqueViolation SQLSTATE unique_violation
const pgUniqueViolation = "23505"

// Dialect 表示当前数据库的方言能力
//
// 目前只抽象存储层实际用到的能力：
//   - Rebind: 占位符转换
//   - SkipLocked: 预留号码时跳过被其他事务锁定的行
//   - UniqueViolation: 唯一键/主键冲突错误识别
type Dialect struct {
	name Name
}

// New 根据 driver 或方言名构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// Rebind 将通用占位符 ? 转换为方言特定形式。
//
// 仅对 Postgres 做替换，将 ? 依次替换为 $1、$2...。
// 简单字符扫描，不识别字符串字面量中的 ?，SQL 中不要写含 ? 的字面量。
func (d Dialect) Rebind(query string) string {
	if d.name != NamePostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	argIndex := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// SkipLocked 返回行锁子句；SQLite 以库级写锁串行化写入，不需要
func (d Dialect) SkipLocked() string {
	if d.name == NamePostgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// AutoIncrementPK 自增主键列定义
func (d Dialect) AutoIncrementPK() string {
	if d.name == NamePostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
//
// 优先使用驱动的结构化错误（pgconn.PgError 的 SQLSTATE、modernc sqlite 的扩展错误码），
// 无法识别时退回错误消息关键字匹配。
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	default:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}
