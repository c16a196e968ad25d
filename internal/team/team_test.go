package team

import (
	"errors"
	"testing"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/kind"
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
	if err := db.AutoMigrate(&models.User{}, &models.KindDoc{}, &models.SharedTeam{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func seedBot(t *testing.T, db *gorm.DB, userID int64, name string) int64 {
	t.Helper()
	doc := kind.BotDoc{
		APIVersion: kind.APIVersion,
		Kind:       models.KindBot,
		Metadata:   kind.ObjectMeta{Name: name, Namespace: "default"},
	}
	body, err := kind.Marshal(&doc)
	if err != nil {
		t.Fatalf("marshal bot: %v", err)
	}
	row := models.KindDoc{
		UserID: userID, Kind: models.KindBot, Name: name,
		Namespace: "default", JSON: body, IsActive: true,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	return row.ID
}

func seedTeam(t *testing.T, db *gorm.DB, userID int64, name, mode string, botNames ...string) int64 {
	t.Helper()
	members := make([]kind.TeamMember, 0, len(botNames))
	for _, bn := range botNames {
		members = append(members, kind.TeamMember{
			BotRef: kind.Ref{Name: bn, Namespace: "default"},
		})
	}
	doc := kind.TeamDoc{
		APIVersion: kind.APIVersion,
		Kind:       models.KindTeam,
		Metadata:   kind.ObjectMeta{Name: name, Namespace: "default"},
		Spec:       kind.TeamSpec{Members: members, CollaborationMode: mode},
	}
	body, err := kind.Marshal(&doc)
	if err != nil {
		t.Fatalf("marshal team: %v", err)
	}
	row := models.KindDoc{
		UserID: userID, Kind: models.KindTeam, Name: name,
		Namespace: "default", JSON: body, IsActive: true,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed team: %v", err)
	}
	return row.ID
}

func TestResolveByIDOrdersMembers(t *testing.T) {
	db := openTestDB(t)
	coder := seedBot(t, db, 1, "coder")
	reviewer := seedBot(t, db, 1, "reviewer")
	teamID := seedTeam(t, db, 1, "builders", kind.ModePipeline, "coder", "reviewer")

	r, err := ResolveByID(db, teamID, 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !r.Pipeline() {
		t.Error("expected pipeline mode")
	}
	if len(r.BotIDs) != 2 || r.BotIDs[0] != coder || r.BotIDs[1] != reviewer {
		t.Errorf("bot ids = %v, want [%d %d]", r.BotIDs, coder, reviewer)
	}
}

func TestResolveByNameSkipsMissingBots(t *testing.T) {
	db := openTestDB(t)
	reviewer := seedBot(t, db, 1, "reviewer")
	seedTeam(t, db, 1, "builders", kind.ModeCollaborate, "ghost", "reviewer")

	r, err := ResolveByName(db, 1, "builders", "default")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Pipeline() {
		t.Error("collaborate team reported as pipeline")
	}
	if len(r.BotIDs) != 1 || r.BotIDs[0] != reviewer {
		t.Errorf("bot ids = %v", r.BotIDs)
	}
}

func TestResolveAllMembersMissing(t *testing.T) {
	db := openTestDB(t)
	teamID := seedTeam(t, db, 1, "ghosts", kind.ModePipeline, "gone-a", "gone-b")

	_, err := ResolveByID(db, teamID, 1)
	if !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := ResolveByID(db, 999, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("by id err = %v", err)
	}
	if _, err := ResolveByName(db, 1, "nope", "default"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("by name err = %v", err)
	}
}

func TestResolveSharedTeamFallback(t *testing.T) {
	db := openTestDB(t)
	seedBot(t, db, 1, "coder")
	teamID := seedTeam(t, db, 1, "builders", kind.ModePipeline, "coder")

	// User 2 does not own the team and cannot see it yet.
	if _, err := ResolveByID(db, teamID, 2); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("before share: %v", err)
	}

	rel := models.SharedTeam{UserID: 2, OriginalUserID: 1, IsActive: true}
	if err := db.Create(&rel).Error; err != nil {
		t.Fatalf("seed shared team: %v", err)
	}

	r, err := ResolveByID(db, teamID, 2)
	if err != nil {
		t.Fatalf("after share: %v", err)
	}
	if r.Row.UserID != 1 {
		t.Errorf("resolved owner = %d", r.Row.UserID)
	}
	if _, err := ResolveByName(db, 2, "builders", "default"); err != nil {
		t.Errorf("by name after share: %v", err)
	}
}
