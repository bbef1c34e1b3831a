package sqlstore

import (
	"policykit/data/db/dialect"
)

const (
	poolTable        = "number_pool"
	consumptionTable = "number_consumption"

	statusConsumed = "consumed"
)

// Schema 返回建表语句
//
// number_pool 上的 (tenant_id, category, number) 唯一索引保证批量加号幂等；
// number_consumption 上的同名唯一索引保证每个号码至多一条消费记录。
// 时间戳均以 100ns tick 存为 BIGINT。
func Schema(d dialect.Dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS number_pool (
	id ` + d.AutoIncrementPK() + `,
	tenant_id TEXT NOT NULL,
	category TEXT NOT NULL,
	number TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'available',
	reserved_at BIGINT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_number_pool_key ON number_pool (tenant_id, category, number)`,
		`CREATE INDEX IF NOT EXISTS ix_number_pool_status ON number_pool (tenant_id, category, status, id)`,
		`CREATE TABLE IF NOT EXISTS number_consumption (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	category TEXT NOT NULL,
	number TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	consumed_at BIGINT NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_number_consumption_key ON number_consumption (tenant_id, category, number)`,
	}
}
