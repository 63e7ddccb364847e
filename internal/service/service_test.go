package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/linkstash-io/linkstash-back/internal/config"
	"github.com/linkstash-io/linkstash-back/internal/db"
	"github.com/linkstash-io/linkstash-back/internal/store"
)

// newTestDB opens an isolated in-memory SQLite (modernc.org/sqlite) and runs
// the migrations against it.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dial := gormsqlite.Dialector{
		DriverName: "sqlite",
		DSN:        "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}
	gdb, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite (modernc): %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return gdb
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func newLinksService(gdb *gorm.DB, pageSize int) *Links {
	return NewLinks(&config.Config{PageSize: pageSize}, gdb, testLogger())
}

func newCategoriesService(gdb *gorm.DB, batchLimit int) *Categories {
	return NewCategories(gdb, store.NewBatcher(gdb, batchLimit), testLogger())
}

// seedLinks creates n links for the user, one second apart so the
// newest-first ordering is unambiguous. Returns them oldest first.
func seedLinks(t *testing.T, gdb *gorm.DB, userID string, categoryID *string, n int) []db.Link {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	links := make([]db.Link, n)
	for i := 0; i < n; i++ {
		links[i] = db.Link{
			ID:         uuid.NewString(),
			URL:        "https://example.com/" + uuid.NewString(),
			CategoryID: categoryID,
			UserID:     userID,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
	}
	if res := gdb.CreateInBatches(&links, 200); res.Error != nil {
		t.Fatalf("failed to seed links: %v", res.Error)
	}
	return links
}

func seedCategory(t *testing.T, gdb *gorm.DB, userID, name string) *db.Category {
	t.Helper()
	cat := db.Category{
		Name:   name,
		UserID: userID,
	}
	if res := gdb.Create(&cat); res.Error != nil {
		t.Fatalf("failed to seed category: %v", res.Error)
	}
	return &cat
}

func strptr(s string) *string {
	return &s
}
