// Package sqlstore 基于关系数据库实现号码池存储
//
// 预留使用单条条件 UPDATE ... RETURNING 完成状态迁移，Postgres 下附加
// FOR UPDATE SKIP LOCKED 让并发预留互不阻塞；消费依赖消费表唯一索引，
// 重复消费表现为唯一键冲突并映射为 ErrAlreadyConsumed。
package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	core "policykit/data/db"
	"policykit/data/db/basic"
	"policykit/data/db/dialect"
	"policykit/domain/entity"
	"policykit/errors"
	"policykit/logging"
	"policykit/numbering"
)

// defaultReserveAttempts 预留竞争时的最大尝试次数
const defaultReserveAttempts = 5

// Store SQL 号码池存储
type Store struct {
	db              core.IDatabase
	dialect         dialect.Dialect
	logger          logging.Logger
	reserveAttempts int
}

// Option 存储选项
type Option func(*Store)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReserveAttempts 设置预留竞争重试上限
func WithReserveAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.reserveAttempts = n
		}
	}
}

// New 创建 SQL 存储；方言从 database 推断
func New(database core.IDatabase, opts ...Option) *Store {
	s := &Store{
		db:              database,
		dialect:         dialect.FromDatabase(database),
		logger:          logging.OrGlobal(nil, "numbering.sqlstore"),
		reserveAttempts: defaultReserveAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 创建号码池与消费台账表
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema(s.dialect) {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return errors.WrapDatabaseError(ctx, err, "migrate")
		}
	}
	return nil
}

var _ numbering.IStore = (*Store)(nil)

func (s *Store) Add(ctx context.Context, tenantID string, category numbering.Category, numbers []string) (numbering.AddResult, error) {
	query := fmt.Sprintf(`INSERT INTO %s (tenant_id, category, number, status) VALUES (?, ?, ?, ?)
ON CONFLICT (tenant_id, category, number) DO NOTHING`, poolTable)

	var added, duplicates []string
	err := basic.RunInTx(ctx, s.db, func(tx core.ITransaction) error {
		added, duplicates = nil, nil
		for _, n := range numbers {
			res, err := tx.Exec(ctx, query, tenantID, string(category), n, string(numbering.StatusAvailable))
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 1 {
				added = append(added, n)
			} else {
				duplicates = append(duplicates, n)
			}
		}
		return nil
	})
	if err != nil {
		return numbering.AddResult{}, errors.WrapDatabaseError(ctx, err, "add numbers")
	}
	return numbering.NewAddResult(added, duplicates), nil
}

func (s *Store) Reserve(ctx context.Context, tenantID string, category numbering.Category, at time.Time) (numbering.Entry, error) {
	ticks := entity.ToTicks(at)
	query := fmt.Sprintf(`UPDATE %[1]s SET status = ?, reserved_at = ?
WHERE id = (SELECT id FROM %[1]s WHERE tenant_id = ? AND category = ? AND status = ? ORDER BY id LIMIT 1%[2]s)
AND status = ?
RETURNING number`, poolTable, s.dialect.SkipLocked())

	for attempt := 1; attempt <= s.reserveAttempts; attempt++ {
		var number string
		err := s.db.QueryRow(ctx, query,
			string(numbering.StatusReserved), ticks,
			tenantID, string(category), string(numbering.StatusAvailable),
			string(numbering.StatusAvailable),
		).Scan(&number)
		if err == nil {
			return numbering.Entry{
				Key:        numbering.Key{TenantID: tenantID, Category: category, Number: number},
				Status:     numbering.StatusReserved,
				ReservedAt: entity.FromTicks(ticks),
			}, nil
		}
		if !stdErrors.Is(err, sql.ErrNoRows) {
			return numbering.Entry{}, errors.WrapDatabaseError(ctx, err, "reserve number")
		}

		// 没有行被更新：要么池空，要么候选行被并发事务抢走
		available, err := s.countStatus(ctx, s.db, tenantID, category, string(numbering.StatusAvailable))
		if err != nil {
			return numbering.Entry{}, errors.WrapDatabaseError(ctx, err, "count available")
		}
		if available == 0 {
			return numbering.Entry{}, numbering.PoolExhausted(tenantID, category)
		}
		s.logger.Debug(ctx, "预留竞争，重试",
			logging.String("tenant_id", tenantID),
			logging.String("category", string(category)),
			logging.Int("attempt", attempt))
	}
	return numbering.Entry{}, numbering.ErrReservationContention.
		WithContext("tenant_id", tenantID).
		WithContext("category", string(category))
}

func (s *Store) countStatus(ctx context.Context, q core.IDatabase, tenantID string, category numbering.Category, status string) (int64, error) {
	var n int64
	err := q.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = ? AND category = ? AND status = ?`, poolTable),
		tenantID, string(category), status,
	).Scan(&n)
	return n, err
}

// status 返回号码当前状态；号码不存在时返回 ErrNumberNotFound
func (s *Store) status(ctx context.Context, q core.IDatabase, key numbering.Key) (string, error) {
	var st string
	err := q.QueryRow(ctx,
		fmt.Sprintf(`SELECT status FROM %s WHERE tenant_id = ? AND category = ? AND number = ?`, poolTable),
		key.TenantID, string(key.Category), key.Number,
	).Scan(&st)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return "", numbering.KeyError(numbering.ErrNumberNotFound, key)
	}
	return st, err
}

// notReservedError 把非预留状态翻译为领域错误
func notReservedError(st string, key numbering.Key) error {
	if st == statusConsumed {
		return numbering.KeyError(numbering.ErrAlreadyConsumed, key)
	}
	return numbering.KeyError(numbering.ErrNotReserved, key)
}

func (s *Store) Release(ctx context.Context, key numbering.Key) error {
	res, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, reserved_at = NULL
WHERE tenant_id = ? AND category = ? AND number = ? AND status = ?`, poolTable),
		string(numbering.StatusAvailable),
		key.TenantID, string(key.Category), key.Number,
		string(numbering.StatusReserved),
	)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "release number")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "release number")
	}
	if affected == 1 {
		return nil
	}

	st, err := s.status(ctx, s.db, key)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "release number")
	}
	return notReservedError(st, key)
}

func (s *Store) ReleaseExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, reserved_at = NULL WHERE status = ? AND reserved_at < ?`, poolTable),
		string(numbering.StatusAvailable),
		string(numbering.StatusReserved),
		entity.ToTicks(before),
	)
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "release expired")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "release expired")
	}
	return int(affected), nil
}

// Consume 在同一事务内把号码置为 consumed 并写入台账
//
// 事务的第一条语句就是写入，SQLite 下直接申请写锁并受 busy_timeout 保护，
// 不会出现先读后写时锁升级失败的 SQLITE_BUSY。
func (s *Store) Consume(ctx context.Context, c *numbering.Consumption) error {
	key := c.Key()
	err := basic.RunInTx(ctx, s.db, func(tx core.ITransaction) error {
		res, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET status = ? WHERE tenant_id = ? AND category = ? AND number = ? AND status = ?`, poolTable),
			statusConsumed, key.TenantID, string(key.Category), key.Number, string(numbering.StatusReserved),
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			st, err := s.status(ctx, tx, key)
			if err != nil {
				return err
			}
			return notReservedError(st, key)
		}

		_, err = tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, tenant_id, category, number, entity_id, entity_type, consumed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, consumptionTable),
			c.GetID().String(), c.TenantID, string(c.Category), c.Number,
			c.EntityID.String(), c.EntityType, c.CreatedTicks(),
		)
		if err != nil && s.dialect.IsUniqueViolation(err) {
			return numbering.KeyError(numbering.ErrAlreadyConsumed, key)
		}
		return err
	})
	return errors.WrapDatabaseError(ctx, err, "consume number")
}

func (s *Store) GetConsumption(ctx context.Context, key numbering.Key) (*numbering.Consumption, error) {
	var (
		id, entityID, entityType string
		consumedAt               int64
	)
	err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, entity_id, entity_type, consumed_at FROM %s
WHERE tenant_id = ? AND category = ? AND number = ?`, consumptionTable),
		key.TenantID, string(key.Category), key.Number,
	).Scan(&id, &entityID, &entityType, &consumedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, numbering.KeyError(numbering.ErrConsumptionNotFound, key)
	}
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "get consumption")
	}

	cid, err := entity.ParseID[numbering.Consumption](id)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "消费记录 id 损坏")
	}
	owner, err := uuid.Parse(entityID)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "消费记录 entity_id 损坏")
	}

	c := &numbering.Consumption{
		TenantID:   key.TenantID,
		Category:   key.Category,
		Number:     key.Number,
		EntityID:   owner,
		EntityType: entityType,
	}
	c.Reconstitute(cid, consumedAt)
	return c, nil
}

func (s *Store) Stats(ctx context.Context, tenantID string, category numbering.Category) (numbering.Stats, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT status, COUNT(*) FROM %s WHERE tenant_id = ? AND category = ? GROUP BY status`, poolTable),
		tenantID, string(category),
	)
	if err != nil {
		return numbering.Stats{}, errors.WrapDatabaseError(ctx, err, "stats")
	}
	defer rows.Close()

	var st numbering.Stats
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return numbering.Stats{}, errors.WrapDatabaseError(ctx, err, "stats")
		}
		switch status {
		case string(numbering.StatusAvailable):
			st.Available = n
		case string(numbering.StatusReserved):
			st.Reserved = n
		case statusConsumed:
			st.Consumed = n
		}
	}
	if err := rows.Err(); err != nil {
		return numbering.Stats{}, errors.WrapDatabaseError(ctx, err, "stats")
	}
	return st, nil
}
