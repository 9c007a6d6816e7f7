package repository

import (
	"testing"

	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Entities lists every table the repositories own, in dependency order.
func Entities() []interface{} {
	return []interface{}{
		&CompanyEntity{},
		&UserEntity{},
		&OrderEntity{},
		&TransactionEntity{},
		&InvoiceEntity{},
		&InvoiceItemEntity{},
		&PricingRuleEntity{},
		&PricingRuleServiceEntity{},
		&IntegrationLogEntity{},
	}
}

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

func setupTestDB(t *testing.T) *testDB {
	t.Helper()
	db := OpenTestDB(t)
	return &testDB{
		DB:    pg.Wrap(db, db),
		rawDB: db,
	}
}

// OpenTestDB opens a migrated in-memory sqlite database. The pool is pinned
// to one connection, every connection to ":memory:" is a separate database.
func OpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))
	return db
}
