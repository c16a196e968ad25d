package share

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
	"github.com/switchboardhq/switchboard/internal/task"
	"github.com/switchboardhq/switchboard/internal/team"
	"gorm.io/gorm"
)

// Engine performs share lookups and copies.
type Engine struct {
	db    *gorm.DB
	codec *TokenCodec
}

// NewEngine wires an Engine.
func NewEngine(db *gorm.DB, codec *TokenCodec) *Engine {
	return &Engine{db: db, codec: codec}
}

// GenerateToken builds a share token for one of the user's own tasks.
func (e *Engine) GenerateToken(userID, taskID int64) (string, error) {
	row, err := store.GetKindByID(e.db, taskID, userID, models.KindTask)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	return e.codec.Encode(userID, taskID)
}

// CopyRequest is the copier's input.
type CopyRequest struct {
	Token         string
	TargetTeamID  int64
	ModelOverride kind.TaskSettings // only model fields are read
	Repository    kind.Repository   // optional target workspace fields
}

// Copy materializes the shared task under targetUser. The new task, every
// duplicated subtask and every attachment commit in one transaction; any
// failure rolls the whole copy back.
func (e *Engine) Copy(targetUser int64, req CopyRequest) (int64, error) {
	ownerID, taskID, err := e.codec.Decode(req.Token)
	if err != nil {
		return 0, err
	}
	if ownerID == targetUser {
		return 0, apperr.ErrSelfCopy
	}

	original, err := store.GetKindByID(e.db, taskID, ownerID, models.KindTask)
	if err != nil {
		return 0, err
	}
	if original == nil {
		return 0, fmt.Errorf("shared task %d: %w", taskID, apperr.ErrNotFound)
	}

	relation, err := e.copyRelation(targetUser, taskID)
	if err != nil {
		return 0, err
	}

	var copiedID int64
	err = e.db.Transaction(func(tx *gorm.DB) error {
		copiedID, err = e.copyTx(tx, targetUser, ownerID, original, req)
		if err != nil {
			return err
		}
		return e.saveRelation(tx, relation, targetUser, ownerID, taskID, copiedID)
	})
	if err != nil {
		return 0, err
	}
	return copiedID, nil
}

// copyRelation enforces the one-copy-per-original guard. A relation whose
// copied task is still alive blocks the copy; a relation left behind after
// the user deleted their copy is reused in place so the unique index never
// trips on re-copy.
func (e *Engine) copyRelation(targetUser, originalTaskID int64) (*models.SharedTask, error) {
	var rel models.SharedTask
	err := e.db.Where("user_id = ? AND original_task_id = ?", targetUser, originalTaskID).
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("share: copy relation lookup: %w", err)
	}
	if rel.IsActive {
		existing, err := store.GetKindByID(e.db, rel.CopiedTaskID, targetUser, models.KindTask)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("task %d already copied as %d: %w",
				originalTaskID, rel.CopiedTaskID, apperr.ErrAlreadyCopied)
		}
	}
	return &rel, nil
}

func (e *Engine) saveRelation(tx *gorm.DB, rel *models.SharedTask, targetUser, ownerID, originalTaskID, copiedID int64) error {
	if rel == nil {
		rel = &models.SharedTask{
			UserID:         targetUser,
			OriginalUserID: ownerID,
			OriginalTaskID: originalTaskID,
		}
	}
	rel.CopiedTaskID = copiedID
	rel.IsActive = true
	err := tx.Save(rel).Error
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		// A concurrent copy won the unique index race.
		return fmt.Errorf("task %d: %w", originalTaskID, apperr.ErrAlreadyCopied)
	}
	if err != nil {
		return fmt.Errorf("share: save copy relation: %w", err)
	}
	return nil
}

// copyTx duplicates the task document, workspace, subtasks and attachments
// under the target user inside the caller's transaction.
func (e *Engine) copyTx(tx *gorm.DB, targetUser, ownerID int64, original *models.KindDoc, req CopyRequest) (int64, error) {
	var doc kind.TaskDoc
	if err := kind.Unmarshal(original.JSON, &doc); err != nil {
		return 0, err
	}
	settings := kind.SettingsFromLabels(doc.Metadata.Labels)

	// A copy never inherits the sharer's pinned model; the copier may pin
	// their own.
	settings.StripModelOverride()
	if req.ModelOverride.ModelID != "" {
		settings.ModelID = req.ModelOverride.ModelID
		settings.ForceOverrideModel = req.ModelOverride.ForceOverrideModel
	}

	tm, err := team.ResolveByID(tx, req.TargetTeamID, targetUser)
	if err != nil {
		return 0, err
	}

	newID, err := task.AllocateID(tx, targetUser)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, apperr.ErrInternal)
	}
	if err := task.ValidateID(tx, newID, targetUser); err != nil {
		return 0, err
	}

	wsRef, err := e.resolveWorkspace(tx, targetUser, ownerID, newID, settings, doc.Spec.WorkspaceRef, req.Repository)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	copied := kind.TaskDoc{
		APIVersion: kind.APIVersion,
		Kind:       models.KindTask,
		Metadata:   task.ObjectMetaForTask(newID, settings),
		Spec: kind.TaskSpec{
			Title:        doc.Spec.Title,
			Prompt:       doc.Spec.Prompt,
			TeamRef:      kind.Ref{Name: tm.Row.Name, Namespace: tm.Row.Namespace},
			WorkspaceRef: wsRef,
		},
		Status: kind.TaskStatus{
			Status:      kind.StateCompleted,
			Progress:    100,
			CreatedAt:   now,
			UpdatedAt:   now,
			CompletedAt: &now,
		},
	}
	body, err := kind.Marshal(&copied)
	if err != nil {
		return 0, err
	}
	row := models.KindDoc{
		ID:        newID,
		UserID:    targetUser,
		Kind:      models.KindTask,
		Name:      copied.Metadata.Name,
		Namespace: copied.Metadata.Namespace,
		JSON:      body,
		IsActive:  true,
	}
	if err := tx.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("share: create copied task %d: %w", newID, err)
	}

	if err := e.copySubtasks(tx, targetUser, original.ID, newID, tm.Row.ID); err != nil {
		return 0, err
	}
	return newID, nil
}

// copySubtasks duplicates every non-deleted subtask with a fresh identity.
// A copied task is always presented as finished: statuses are forced to
// COMPLETED/100 whatever the original's state was at share time, and the
// executor binding is cleared so first use provisions fresh.
func (e *Engine) copySubtasks(tx *gorm.DB, targetUser, originalTaskID, newTaskID, teamID int64) error {
	subs, err := store.SubtasksByTask(tx, originalTaskID, false)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, sub := range subs {
		if sub.Status == string(kind.StateDelete) {
			continue
		}
		dup := models.Subtask{
			UserID:       targetUser,
			TaskID:       newTaskID,
			TeamID:       teamID,
			Title:        sub.Title,
			BotIDs:       sub.BotIDs,
			Role:         sub.Role,
			Prompt:       sub.Prompt,
			Status:       string(kind.StateCompleted),
			Progress:     100,
			MessageID:    sub.MessageID,
			ParentID:     sub.ParentID,
			Result:       sub.Result,
			ErrorMessage: "",
			CompletedAt:  now,
		}
		if err := tx.Create(&dup).Error; err != nil {
			return fmt.Errorf("share: copy subtask %d: %w", sub.ID, err)
		}
		if err := e.copyAttachments(tx, targetUser, sub.ID, dup.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) copyAttachments(tx *gorm.DB, targetUser, fromSubtask, toSubtask int64) error {
	var atts []models.SubtaskAttachment
	if err := tx.Where("subtask_id = ?", fromSubtask).Find(&atts).Error; err != nil {
		return fmt.Errorf("share: load attachments of subtask %d: %w", fromSubtask, err)
	}
	for _, a := range atts {
		dup := a
		dup.ID = 0
		dup.SubtaskID = toSubtask
		dup.UserID = targetUser
		if err := tx.Create(&dup).Error; err != nil {
			return fmt.Errorf("share: copy attachment %d: %w", a.ID, err)
		}
	}
	return nil
}

// resolveWorkspace finds or provisions the copier's workspace. Code tasks
// must end up with one: an existing workspace matching (repo id, branch) is
// reused, supplied repository fields provision a new one, and otherwise the
// copy fails. Chat tasks take a workspace only when one can be carried over.
func (e *Engine) resolveWorkspace(tx *gorm.DB, targetUser, ownerID, newTaskID int64, settings kind.TaskSettings, originalRef kind.Ref, supplied kind.Repository) (kind.Ref, error) {
	repo := supplied
	if repo.GitURL == "" && originalRef.Name != "" {
		ws, err := store.GetKindByName(tx, ownerID, models.KindWorkspace, originalRef.Name, originalRef.Namespace)
		if err != nil {
			return kind.Ref{}, err
		}
		if ws != nil {
			var wsDoc kind.WorkspaceDoc
			if err := kind.Unmarshal(ws.JSON, &wsDoc); err != nil {
				return kind.Ref{}, err
			}
			repo = wsDoc.Spec.Repository
		}
	}

	if repo.GitRepoID != 0 && repo.BranchName != "" {
		if ref, ok, err := e.findWorkspace(tx, targetUser, repo.GitRepoID, repo.BranchName); err != nil {
			return kind.Ref{}, err
		} else if ok {
			return ref, nil
		}
	}

	if repo.GitURL == "" {
		if settings.TaskType == kind.TaskTypeCode {
			return kind.Ref{}, fmt.Errorf("code task copy: %w", apperr.ErrMissingWorkspace)
		}
		return kind.Ref{}, nil
	}

	doc := kind.WorkspaceDoc{
		APIVersion: kind.APIVersion,
		Kind:       models.KindWorkspace,
		Metadata: kind.ObjectMeta{
			Name:      fmt.Sprintf("task-%d-workspace", newTaskID),
			Namespace: "default",
		},
		Spec: kind.WorkspaceSpec{Repository: repo},
	}
	body, err := kind.Marshal(&doc)
	if err != nil {
		return kind.Ref{}, err
	}
	row := models.KindDoc{
		UserID:    targetUser,
		Kind:      models.KindWorkspace,
		Name:      doc.Metadata.Name,
		Namespace: doc.Metadata.Namespace,
		JSON:      body,
		IsActive:  true,
	}
	if err := tx.Create(&row).Error; err != nil {
		return kind.Ref{}, fmt.Errorf("share: provision workspace: %w", err)
	}
	return kind.Ref{Name: row.Name, Namespace: row.Namespace}, nil
}

// findWorkspace looks for an existing workspace of the user bound to the
// same repository and branch.
func (e *Engine) findWorkspace(tx *gorm.DB, userID, repoID int64, branch string) (kind.Ref, bool, error) {
	rows, err := store.ListKinds(tx, userID, models.KindWorkspace)
	if err != nil {
		return kind.Ref{}, false, err
	}
	for _, row := range rows {
		var doc kind.WorkspaceDoc
		if err := kind.Unmarshal(row.JSON, &doc); err != nil {
			log.Printf("share: workspace %d unreadable, skipping: %v", row.ID, err)
			continue
		}
		if doc.Spec.Repository.GitRepoID == repoID && doc.Spec.Repository.BranchName == branch {
			return kind.Ref{Name: row.Name, Namespace: row.Namespace}, true, nil
		}
	}
	return kind.Ref{}, false, nil
}
