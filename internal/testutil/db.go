// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/core-coin/speculum/internal/repository"
	"github.com/core-coin/speculum/pkg/logger"
)

var dbSeq atomic.Int64

// NewDB returns a migrated in-memory database private to t.
func NewDB(t *testing.T) *repository.PostgresDB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", name, dbSeq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db, err := repository.NewDB(conn, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
