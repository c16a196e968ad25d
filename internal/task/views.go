package task

import (
	"fmt"
	"time"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
)

// View is the joined task shape returned to clients: the task itself plus
// the display fields of its team, workspace and owner.
type View struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Prompt      string            `json:"prompt"`
	Status      kind.State        `json:"status"`
	Progress    int               `json:"progress"`
	Result      map[string]any    `json:"result,omitempty"`
	Error       string            `json:"errorMessage,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	TeamName    string            `json:"teamName"`
	TeamNS      string            `json:"teamNamespace"`
	UserName    string            `json:"userName,omitempty"`
	Repository  *kind.Repository  `json:"repository,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Detail is a task view together with its full subtask feed.
type Detail struct {
	Task     View          `json:"task"`
	Subtasks []SubtaskView `json:"subtasks"`
}

// SubtaskView is one conversation turn as shown to clients. Attachment
// binary payloads never leave through this shape.
type SubtaskView struct {
	ID          int64                 `json:"id"`
	Role        string                `json:"role"`
	Prompt      string                `json:"prompt,omitempty"`
	Status      string                `json:"status"`
	Progress    int                   `json:"progress"`
	MessageID   int64                 `json:"messageId"`
	ParentID    int64                 `json:"parentId"`
	Result      *models.SubtaskResult `json:"result,omitempty"`
	Error       string                `json:"errorMessage,omitempty"`
	Attachments []AttachmentView      `json:"attachments,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
}

// AttachmentView is attachment metadata without the payload.
type AttachmentView struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Status   string `json:"status"`
}

// Get returns the joined view of one task.
func (m *Manager) Get(taskID, userID int64) (*View, error) {
	row, err := store.GetKindByID(m.db, taskID, userID, models.KindTask)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	return m.buildView(row)
}

func (m *Manager) buildView(row *models.KindDoc) (*View, error) {
	var doc kind.TaskDoc
	if err := kind.Unmarshal(row.JSON, &doc); err != nil {
		return nil, err
	}
	v := &View{
		ID:          row.ID,
		Title:       doc.Spec.Title,
		Prompt:      doc.Spec.Prompt,
		Status:      doc.Status.Status,
		Progress:    doc.Status.Progress,
		Result:      doc.Status.Result,
		Error:       doc.Status.ErrorMessage,
		Labels:      doc.Metadata.Labels,
		TeamName:    doc.Spec.TeamRef.Name,
		TeamNS:      doc.Spec.TeamRef.Namespace,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		CompletedAt: doc.Status.CompletedAt,
	}

	var user models.User
	if err := m.db.First(&user, row.UserID).Error; err == nil {
		v.UserName = user.UserName
	}

	if doc.Spec.WorkspaceRef.Name != "" {
		ws, err := store.GetKindByName(m.db, row.UserID, models.KindWorkspace,
			doc.Spec.WorkspaceRef.Name, doc.Spec.WorkspaceRef.Namespace)
		if err != nil {
			return nil, err
		}
		if ws != nil {
			var wsDoc kind.WorkspaceDoc
			if err := kind.Unmarshal(ws.JSON, &wsDoc); err != nil {
				return nil, err
			}
			repo := wsDoc.Spec.Repository
			v.Repository = &repo
		}
	}
	return v, nil
}

// List returns a page of the user's tasks, newest first, excluding deleted
// ones.
func (m *Manager) List(userID int64, limit, offset int) ([]View, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []models.KindDoc
	err := m.db.Where("user_id = ? AND kind = ? AND is_active = ?", userID, models.KindTask, true).
		Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("task: list for user %d: %w", userID, err)
	}
	views := make([]View, 0, len(rows))
	for i := range rows {
		v, err := m.buildView(&rows[i])
		if err != nil {
			return nil, err
		}
		if v.Status == kind.StateDelete {
			continue
		}
		views = append(views, *v)
	}
	return views, nil
}

// GetDetail returns the task plus its ordered subtask feed with attachment
// metadata.
func (m *Manager) GetDetail(taskID, userID int64) (*Detail, error) {
	v, err := m.Get(taskID, userID)
	if err != nil {
		return nil, err
	}
	subs, err := store.SubtasksByTask(m.db, taskID, false)
	if err != nil {
		return nil, err
	}
	detail := &Detail{Task: *v}
	for _, sub := range subs {
		if sub.Status == string(kind.StateDelete) {
			continue
		}
		sv := SubtaskView{
			ID:        sub.ID,
			Role:      sub.Role,
			Prompt:    sub.Prompt,
			Status:    sub.Status,
			Progress:  sub.Progress,
			MessageID: sub.MessageID,
			ParentID:  sub.ParentID,
			Result:    sub.Result,
			Error:     sub.ErrorMessage,
			CreatedAt: sub.CreatedAt,
		}
		var atts []models.SubtaskAttachment
		if err := m.db.Select("id, subtask_id, original_filename, file_size, mime_type, status").
			Where("subtask_id = ?", sub.ID).Find(&atts).Error; err != nil {
			return nil, fmt.Errorf("task: attachments for subtask %d: %w", sub.ID, err)
		}
		for _, a := range atts {
			sv.Attachments = append(sv.Attachments, AttachmentView{
				ID:       a.ID,
				Filename: a.OriginalFilename,
				Size:     a.FileSize,
				MimeType: a.MimeType,
				Status:   a.Status,
			})
		}
		detail.Subtasks = append(detail.Subtasks, sv)
	}
	return detail, nil
}
