package sweeper

import (
	"testing"
	"time"

	"github.com/switchboardhq/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.KindDoc{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func seedPlaceholder(t *testing.T, db *gorm.DB, userID int64, age time.Duration) int64 {
	t.Helper()
	row := models.KindDoc{
		UserID: userID, Kind: models.KindPlaceholder,
		Name: "pending", JSON: "{}",
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed placeholder: %v", err)
	}
	created := time.Now().Add(-age)
	if err := db.Model(&models.KindDoc{}).Where("id = ?", row.ID).
		Update("created_at", created).Error; err != nil {
		t.Fatalf("backdate placeholder: %v", err)
	}
	return row.ID
}

func TestSweepOnceRemovesOnlyStale(t *testing.T) {
	db := openTestDB(t)
	stale := seedPlaceholder(t, db, 1, 48*time.Hour)
	fresh := seedPlaceholder(t, db, 2, time.Hour)

	// A real task of the same age must survive.
	task := models.KindDoc{
		UserID: 1, Kind: models.KindTask, Name: "task-1", JSON: "{}", IsActive: true,
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	db.Model(&models.KindDoc{}).Where("id = ?", task.ID).
		Update("created_at", time.Now().Add(-48*time.Hour))

	sw, err := New(db, "0 * * * *", 24*time.Hour)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	n, err := sw.SweepOnce()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d rows, want 1", n)
	}

	var count int64
	db.Model(&models.KindDoc{}).Where("id = ?", stale).Count(&count)
	if count != 0 {
		t.Error("stale placeholder survived")
	}
	db.Model(&models.KindDoc{}).Where("id IN ?", []int64{fresh, task.ID}).Count(&count)
	if count != 2 {
		t.Errorf("fresh rows remaining = %d, want 2", count)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	db := openTestDB(t)
	if _, err := New(db, "not a cron line", time.Hour); err == nil {
		t.Fatal("expected parse error")
	}
}
