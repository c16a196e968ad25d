package share

import (
	"errors"
	"fmt"
	"time"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
	"gorm.io/gorm"
)

// Info is what a prospective copier sees before joining: the sharer, the
// task title, and the repository binding for code tasks.
type Info struct {
	SharerName string           `json:"sharerName"`
	Title      string           `json:"title"`
	TaskType   string           `json:"taskType"`
	Repository *kind.Repository `json:"repository,omitempty"`
}

// Lookup decodes a token and returns the share preview. Fails ErrNotFound
// when the task is gone or deactivated.
func (e *Engine) Lookup(token string) (*Info, error) {
	ownerID, taskID, err := e.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	row, err := store.GetKindByID(e.db, taskID, ownerID, models.KindTask)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("shared task %d: %w", taskID, apperr.ErrNotFound)
	}
	var doc kind.TaskDoc
	if err := kind.Unmarshal(row.JSON, &doc); err != nil {
		return nil, err
	}
	settings := kind.SettingsFromLabels(doc.Metadata.Labels)
	info := &Info{Title: doc.Spec.Title, TaskType: settings.TaskType}

	var owner models.User
	if err := e.db.First(&owner, ownerID).Error; err == nil {
		info.SharerName = owner.UserName
	}

	if doc.Spec.WorkspaceRef.Name != "" {
		ws, err := store.GetKindByName(e.db, ownerID, models.KindWorkspace,
			doc.Spec.WorkspaceRef.Name, doc.Spec.WorkspaceRef.Namespace)
		if err != nil {
			return nil, err
		}
		if ws != nil {
			var wsDoc kind.WorkspaceDoc
			if err := kind.Unmarshal(ws.JSON, &wsDoc); err == nil {
				repo := wsDoc.Spec.Repository
				info.Repository = &repo
			}
		}
	}
	return info, nil
}

// CopyRecord is one row of a user's copy history.
type CopyRecord struct {
	OriginalTaskID int64     `json:"originalTaskId"`
	CopiedTaskID   int64     `json:"copiedTaskId"`
	SharerName     string    `json:"sharerName"`
	Title          string    `json:"title"`
	CopiedAt       time.Time `json:"copiedAt"`
}

// ListCopies returns the user's active copy relations, newest first.
func (e *Engine) ListCopies(userID int64) ([]CopyRecord, error) {
	var rels []models.SharedTask
	err := e.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("id DESC").Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("share: list copies for user %d: %w", userID, err)
	}
	records := make([]CopyRecord, 0, len(rels))
	for _, rel := range rels {
		rec := CopyRecord{
			OriginalTaskID: rel.OriginalTaskID,
			CopiedTaskID:   rel.CopiedTaskID,
			CopiedAt:       rel.CreatedAt,
		}
		var owner models.User
		if err := e.db.First(&owner, rel.OriginalUserID).Error; err == nil {
			rec.SharerName = owner.UserName
		}
		if row, err := store.GetKindByID(e.db, rel.CopiedTaskID, userID, models.KindTask); err == nil && row != nil {
			var doc kind.TaskDoc
			if err := kind.Unmarshal(row.JSON, &doc); err == nil {
				rec.Title = doc.Spec.Title
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// Remove deactivates a copy relation so the same original can be copied
// again later. The copied task itself is untouched; deleting it is the
// task lifecycle's job.
func (e *Engine) Remove(userID, originalTaskID int64) error {
	var rel models.SharedTask
	err := e.db.Where("user_id = ? AND original_task_id = ? AND is_active = ?",
		userID, originalTaskID, true).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("copy of task %d: %w", originalTaskID, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("share: find copy relation: %w", err)
	}
	rel.IsActive = false
	if err := e.db.Save(&rel).Error; err != nil {
		return fmt.Errorf("share: deactivate copy relation %d: %w", rel.ID, err)
	}
	return nil
}

// PublicSubtask is one turn of the read-only public feed. Binary payloads
// never leave through this shape.
type PublicSubtask struct {
	Role      string                `json:"role"`
	Prompt    string                `json:"prompt,omitempty"`
	Result    *models.SubtaskResult `json:"result,omitempty"`
	MessageID int64                 `json:"messageId"`
	CreatedAt time.Time             `json:"createdAt"`
}

// PublicView returns the shared task's conversation for anonymous viewing
// through a token, without copying anything.
func (e *Engine) PublicView(token string) (*Info, []PublicSubtask, error) {
	info, err := e.Lookup(token)
	if err != nil {
		return nil, nil, err
	}
	_, taskID, err := e.codec.Decode(token)
	if err != nil {
		return nil, nil, err
	}
	subs, err := store.SubtasksByTask(e.db, taskID, false)
	if err != nil {
		return nil, nil, err
	}
	feed := make([]PublicSubtask, 0, len(subs))
	for _, sub := range subs {
		if sub.Status == string(kind.StateDelete) {
			continue
		}
		feed = append(feed, PublicSubtask{
			Role:      sub.Role,
			Prompt:    sub.Prompt,
			Result:    sub.Result,
			MessageID: sub.MessageID,
			CreatedAt: sub.CreatedAt,
		})
	}
	return info, feed, nil
}
