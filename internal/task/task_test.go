package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/executor"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
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
	if err := db.AutoMigrate(
		&models.User{},
		&models.KindDoc{},
		&models.Subtask{},
		&models.SubtaskAttachment{},
		&models.SharedTask{},
		&models.SharedTeam{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func testManager(db *gorm.DB) *Manager {
	return NewManager(db, executor.Noop{}, 72*time.Hour, 24*time.Hour)
}

func seedUser(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	u := models.User{UserName: name, IsActive: true}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u.ID
}

func seedBot(t *testing.T, db *gorm.DB, userID int64, name string) int64 {
	t.Helper()
	doc := kind.BotDoc{
		APIVersion: kind.APIVersion,
		Kind:       models.KindBot,
		Metadata:   kind.ObjectMeta{Name: name, Namespace: "default"},
		Spec:       kind.BotSpec{ModelConfig: map[string]any{"model": "test"}},
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

// seedPipelineTask creates a user, bots, a pipeline team and a task with one
// turn, returning (manager, userID, taskID).
func seedPipelineTask(t *testing.T, db *gorm.DB, botNames ...string) (*Manager, int64, int64) {
	t.Helper()
	userID := seedUser(t, db, "alice")
	for _, bn := range botNames {
		seedBot(t, db, userID, bn)
	}
	teamID := seedTeam(t, db, userID, "builders", kind.ModePipeline, botNames...)
	mgr := testManager(db)
	v, err := mgr.CreateOrAppend(userID, CreateRequest{
		TeamID: teamID,
		Prompt: "Fix bug",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return mgr, userID, v.ID
}

func TestAllocateIDUniqueAcrossUsers(t *testing.T) {
	db := openTestDB(t)
	a := seedUser(t, db, "alice")
	b := seedUser(t, db, "bob")

	idA, err := AllocateID(db, a)
	if err != nil {
		t.Fatalf("allocate for alice: %v", err)
	}
	idB, err := AllocateID(db, b)
	if err != nil {
		t.Fatalf("allocate for bob: %v", err)
	}
	if idA == idB {
		t.Errorf("ids collide: %d", idA)
	}
}

func TestAllocateIDReusedForSameUser(t *testing.T) {
	db := openTestDB(t)
	a := seedUser(t, db, "alice")

	first, err := AllocateID(db, a)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, err := AllocateID(db, a)
	if err != nil {
		t.Fatalf("allocate again: %v", err)
	}
	if first != second {
		t.Errorf("unconsumed allocation not reused: %d then %d", first, second)
	}
}

func TestValidateIDConsumesPlaceholder(t *testing.T) {
	db := openTestDB(t)
	a := seedUser(t, db, "alice")

	id, err := AllocateID(db, a)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := ValidateID(db, id, a); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var count int64
	db.Model(&models.KindDoc{}).Where("id = ?", id).Count(&count)
	if count != 0 {
		t.Error("placeholder row should be consumed")
	}

	// Unknown id is invalid.
	if err := ValidateID(db, id+100, a); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown id: err = %v, want ErrValidation", err)
	}
}

func TestCreateWithPreAllocatedID(t *testing.T) {
	db := openTestDB(t)
	userID := seedUser(t, db, "alice")
	seedBot(t, db, userID, "a")
	teamID := seedTeam(t, db, userID, "solo", kind.ModePipeline, "a")
	mgr := testManager(db)

	id, err := AllocateID(db, userID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// Passing the allocated id creates the task under exactly that id.
	v, err := mgr.CreateOrAppend(userID, CreateRequest{ExistingTaskID: id, TeamID: teamID, Prompt: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.ID != id {
		t.Errorf("task id = %d, allocated %d", v.ID, id)
	}

	var count int64
	db.Model(&models.KindDoc{}).
		Where("id = ? AND kind = ?", id, models.KindPlaceholder).Count(&count)
	if count != 0 {
		t.Error("placeholder not consumed")
	}
}

func TestCreatePipelineChain(t *testing.T) {
	db := openTestDB(t)
	mgr, userID, taskID := seedPipelineTask(t, db, "bot-a", "bot-b")

	v, err := mgr.Get(taskID, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Status != kind.StatePending {
		t.Errorf("task status = %s, want PENDING", v.Status)
	}
	if v.Title != "Fix bug" {
		t.Errorf("title = %q", v.Title)
	}

	subs, err := store.SubtasksByTask(db, taskID, false)
	if err != nil {
		t.Fatalf("subtasks: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("got %d subtasks, want 3", len(subs))
	}
	if subs[0].Role != models.RoleUser || subs[0].MessageID != 1 || subs[0].ParentID != 0 {
		t.Errorf("user subtask = role %s msg %d parent %d", subs[0].Role, subs[0].MessageID, subs[0].ParentID)
	}
	if subs[0].Status != string(kind.StateCompleted) {
		t.Errorf("user subtask status = %s", subs[0].Status)
	}
	for i, sub := range subs[1:] {
		if sub.Role != models.RoleAssistant {
			t.Errorf("subtask %d role = %s", i+1, sub.Role)
		}
		if sub.MessageID != int64(i+2) {
			t.Errorf("subtask %d message id = %d, want %d", i+1, sub.MessageID, i+2)
		}
		if sub.ParentID != int64(i+1) {
			t.Errorf("subtask %d parent = %d, want %d", i+1, sub.ParentID, i+1)
		}
		if sub.Status != string(kind.StatePending) || sub.Progress != 0 {
			t.Errorf("subtask %d = %s/%d", i+1, sub.Status, sub.Progress)
		}
		if len(sub.BotIDs) != 1 {
			t.Errorf("subtask %d bound to %d bots, want 1", i+1, len(sub.BotIDs))
		}
	}
}

func TestCreateThreeMemberPipeline(t *testing.T) {
	db := openTestDB(t)
	_, _, taskID := seedPipelineTask(t, db, "a", "b", "c")

	subs, err := store.SubtasksByTask(db, taskID, false)
	if err != nil {
		t.Fatalf("subtasks: %v", err)
	}
	if len(subs) != 4 {
		t.Fatalf("got %d subtasks, want 1 USER + 3 ASSISTANT", len(subs))
	}
	for i := 1; i < len(subs); i++ {
		if subs[i].MessageID != subs[i-1].MessageID+1 {
			t.Errorf("message ids not strictly increasing at %d", i)
		}
		if subs[i].ParentID != subs[i-1].MessageID {
			t.Errorf("subtask %d parent = %d, want %d", i, subs[i].ParentID, subs[i-1].MessageID)
		}
	}
}

func TestSingleAssistantMode(t *testing.T) {
	db := openTestDB(t)
	userID := seedUser(t, db, "alice")
	seedBot(t, db, userID, "a")
	seedBot(t, db, userID, "b")
	teamID := seedTeam(t, db, userID, "duo", kind.ModeCollaborate, "a", "b")

	mgr := testManager(db)
	v, err := mgr.CreateOrAppend(userID, CreateRequest{TeamID: teamID, Prompt: "hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	subs, _ := store.SubtasksByTask(db, v.ID, false)
	if len(subs) != 2 {
		t.Fatalf("got %d subtasks, want USER + 1 ASSISTANT", len(subs))
	}
	if len(subs[1].BotIDs) != 2 {
		t.Errorf("assistant bound to %d bots, want all 2", len(subs[1].BotIDs))
	}
}

func TestAppendCarriesExecutorBindings(t *testing.T) {
	db := openTestDB(t)
	mgr, userID, taskID := seedPipelineTask(t, db, "a", "b")

	// Simulate a finished first run with provisioned executors.
	subs, _ := store.SubtasksByTask(db, taskID, false)
	for i := range subs[1:] {
		sub := subs[i+1]
		db.Model(&models.Subtask{}).Where("id = ?", sub.ID).Updates(map[string]any{
			"status":             string(kind.StateCompleted),
			"executor_namespace": "default",
			"executor_name":      []string{"exec-a", "exec-b"}[i],
		})
	}
	completed := kind.StateCompleted
	if _, err := mgr.Update(taskID, userID, Patch{Status: &completed}); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	if _, err := mgr.CreateOrAppend(userID, CreateRequest{
		ExistingTaskID: taskID,
		Prompt:         "next turn",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	subs, _ = store.SubtasksByTask(db, taskID, false)
	if len(subs) != 6 {
		t.Fatalf("got %d subtasks after append, want 6", len(subs))
	}
	second := subs[3:]
	if second[0].Role != models.RoleUser {
		t.Fatalf("append should start with a USER subtask")
	}
	if second[1].ExecutorName != "exec-a" || second[2].ExecutorName != "exec-b" {
		t.Errorf("bindings not carried positionally: %q, %q",
			second[1].ExecutorName, second[2].ExecutorName)
	}

	v, _ := mgr.Get(taskID, userID)
	if v.Status != kind.StatePending || v.Progress != 0 {
		t.Errorf("appended task = %s/%d, want PENDING/0", v.Status, v.Progress)
	}
}

func TestAppendGuards(t *testing.T) {
	db := openTestDB(t)
	mgr, userID, taskID := seedPipelineTask(t, db, "a")

	// Mid-flight task rejects append.
	_, err := mgr.CreateOrAppend(userID, CreateRequest{ExistingTaskID: taskID, Prompt: "again"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("append on PENDING: err = %v, want ErrConflict", err)
	}

	// Unknown task.
	_, err = mgr.CreateOrAppend(userID, CreateRequest{ExistingTaskID: taskID + 99, Prompt: "x"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("append on missing: err = %v, want ErrNotFound", err)
	}

	// Deleted task is gone.
	if err := mgr.Delete(context.Background(), taskID, userID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = mgr.CreateOrAppend(userID, CreateRequest{ExistingTaskID: taskID, Prompt: "x"})
	if !errors.Is(err, apperr.ErrNotFound) && !errors.Is(err, apperr.ErrGone) {
		t.Errorf("append on deleted: err = %v", err)
	}
}

func TestPromptSizeCap(t *testing.T) {
	db := openTestDB(t)
	userID := seedUser(t, db, "alice")
	seedBot(t, db, userID, "a")
	teamID := seedTeam(t, db, userID, "solo", kind.ModePipeline, "a")

	mgr := testManager(db)
	big := make([]byte, maxPromptBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err := mgr.CreateOrAppend(userID, CreateRequest{TeamID: teamID, Prompt: string(big)})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("oversized prompt: err = %v, want ErrValidation", err)
	}
}

func TestTitleDerivation(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "a"
	}
	title := deriveTitle(long)
	if len([]rune(title)) != titleRunes+3 {
		t.Errorf("title length = %d", len([]rune(title)))
	}
	if title[len(title)-3:] != "..." {
		t.Errorf("title should end with ellipsis: %q", title)
	}
	if deriveTitle("short") != "short" {
		t.Error("short prompts keep their full title")
	}
}

func TestUpdateGuardDropsIllegalStatus(t *testing.T) {
	db := openTestDB(t)
	mgr, userID, taskID := seedPipelineTask(t, db, "a")

	cancelling := kind.StateCancelling
	if _, err := mgr.Update(taskID, userID, Patch{Status: &cancelling}); err != nil {
		t.Fatalf("set CANCELLING: %v", err)
	}

	// RUNNING is illegal from CANCELLING; the progress update still applies.
	running := kind.StateRunning
	progress := 42
	v, err := mgr.Update(taskID, userID, Patch{Status: &running, Progress: &progress})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v.Status != kind.StateCancelling {
		t.Errorf("status = %s, want CANCELLING preserved", v.Status)
	}
	if v.Progress != 42 {
		t.Errorf("progress = %d, want 42", v.Progress)
	}

	// Settling to CANCELLED is allowed and stamps completion.
	cancelled := kind.StateCancelled
	v, err = mgr.Update(taskID, userID, Patch{Status: &cancelled})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if v.Status != kind.StateCancelled || v.CompletedAt == nil {
		t.Errorf("settled = %s, completedAt %v", v.Status, v.CompletedAt)
	}

	// Terminal never regresses.
	pending := kind.StatePending
	v, _ = mgr.Update(taskID, userID, Patch{Status: &pending})
	if v.Status != kind.StateCancelled {
		t.Errorf("terminal regressed to %s", v.Status)
	}
}

func TestDeleteTombstonesEverything(t *testing.T) {
	db := openTestDB(t)
	mgr, userID, taskID := seedPipelineTask(t, db, "a", "b")

	if err := mgr.Delete(context.Background(), taskID, userID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var subs []models.Subtask
	db.Where("task_id = ?", taskID).Find(&subs)
	for _, sub := range subs {
		if sub.Status != string(kind.StateDelete) || !sub.ExecutorDeleted {
			t.Errorf("subtask %d = %s deleted=%v", sub.ID, sub.Status, sub.ExecutorDeleted)
		}
	}

	var row models.KindDoc
	db.First(&row, taskID)
	if row.IsActive {
		t.Error("task row should be inactive")
	}

	// Deleted tasks vanish from reads.
	if _, err := mgr.Get(taskID, userID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get deleted task: err = %v, want ErrNotFound", err)
	}
	views, err := mgr.List(userID, 20, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("deleted task still listed: %d entries", len(views))
	}
}

func TestGetDetail(t *testing.T) {
	db := openTestDB(t)
	mgr, userID, taskID := seedPipelineTask(t, db, "a")

	detail, err := mgr.GetDetail(taskID, userID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Task.ID != taskID {
		t.Errorf("task id = %d", detail.Task.ID)
	}
	if len(detail.Subtasks) != 2 {
		t.Fatalf("got %d subtasks, want 2", len(detail.Subtasks))
	}
	if detail.Subtasks[0].Prompt != "Fix bug" {
		t.Errorf("user prompt = %q", detail.Subtasks[0].Prompt)
	}
}
