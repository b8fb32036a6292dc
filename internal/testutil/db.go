// Package testutil은 패키지 테스트에서 공유하는 헬퍼를 제공합니다.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewTestDB는 테스트마다 격리된 인메모리 SQLite DB를 열고 마이그레이션합니다.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	require.NoError(t, storage.AutoMigrate(db))

	t.Cleanup(func() {
		_ = storage.Close(db)
	})
	return db
}

// NewTestRepository는 NewTestDB 위에 Repository를 생성합니다.
func NewTestRepository(t *testing.T, opts ...storage.Option) *storage.Repository {
	t.Helper()

	repo, err := storage.NewRepository(NewTestDB(t), opts...)
	require.NoError(t, err)
	return repo
}
