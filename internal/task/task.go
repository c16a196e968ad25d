// Package task implements the task lifecycle: creation and multi-turn
// append, partial updates under the state-machine guard, deletion with
// executor teardown, and the id allocation protocol.
package task

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/executor"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/repo"
	"github.com/switchboardhq/switchboard/internal/store"
	"github.com/switchboardhq/switchboard/internal/team"
	"gorm.io/gorm"
)

// maxPromptBytes caps the UTF-8 size of a single prompt.
const maxPromptBytes = 60000

// titleRunes is how much of the first prompt becomes the task title.
const titleRunes = 50

// Manager owns task lifecycle operations.
type Manager struct {
	db         *gorm.DB
	teardown   executor.Teardown
	repos      repo.Resolver
	chatExpiry time.Duration
	codeExpiry time.Duration
}

// NewManager wires a Manager. Expiry windows bound how long a finished task
// keeps accepting follow-up turns, per task type.
func NewManager(db *gorm.DB, teardown executor.Teardown, chatExpiry, codeExpiry time.Duration) *Manager {
	return &Manager{db: db, teardown: teardown, chatExpiry: chatExpiry, codeExpiry: codeExpiry}
}

// SetRepoResolver enables repository metadata lookups when a workspace is
// provisioned from a bare clone URL.
func (m *Manager) SetRepoResolver(r repo.Resolver) { m.repos = r }

// DB exposes the underlying handle for collaborators wired off the Manager.
func (m *Manager) DB() *gorm.DB { return m.db }

// CreateRequest is the input to CreateOrAppend.
type CreateRequest struct {
	// ExistingTaskID selects the append branch when non-zero.
	ExistingTaskID int64
	TeamID         int64
	TeamName       string
	TeamNamespace  string
	Prompt         string
	Settings       kind.TaskSettings
	Repository     kind.Repository
}

// CreateOrAppend creates a new task with its first subtask group, or appends
// the next group to an existing one. The task (plus workspace on the create
// branch) and every new subtask commit in one transaction.
func (m *Manager) CreateOrAppend(userID int64, req CreateRequest) (*View, error) {
	if len(req.Prompt) > maxPromptBytes {
		return nil, fmt.Errorf("task: prompt exceeds %d bytes: %w", maxPromptBytes, apperr.ErrValidation)
	}
	if err := req.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}

	var taskID int64
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if req.ExistingTaskID != 0 {
			// A pre-allocated id still points at a placeholder; only a
			// real task takes the append branch.
			var ph models.KindDoc
			phErr := tx.Where("id = ? AND user_id = ? AND kind = ?",
				req.ExistingTaskID, userID, models.KindPlaceholder).First(&ph).Error
			if phErr != nil && phErr != gorm.ErrRecordNotFound {
				return fmt.Errorf("task: inspect id %d: %w", req.ExistingTaskID, phErr)
			}
			if phErr == nil {
				taskID, err = m.createTx(tx, userID, req)
				return err
			}
			taskID, err = m.appendTx(tx, userID, req)
			return err
		}
		taskID, err = m.createTx(tx, userID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.Get(taskID, userID)
}

// appendTx is the continuation branch: revalidate the task and its team,
// reset it to PENDING and append the next subtask group.
func (m *Manager) appendTx(tx *gorm.DB, userID int64, req CreateRequest) (int64, error) {
	row, err := store.GetKindByID(tx, req.ExistingTaskID, userID, models.KindTask)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, fmt.Errorf("task %d: %w", req.ExistingTaskID, apperr.ErrNotFound)
	}
	var doc kind.TaskDoc
	if err := kind.Unmarshal(row.JSON, &doc); err != nil {
		return 0, err
	}
	settings := kind.SettingsFromLabels(doc.Metadata.Labels)

	switch st := doc.Status.Status; {
	case st == kind.StateDelete:
		return 0, fmt.Errorf("task %d deleted: %w", row.ID, apperr.ErrGone)
	case !st.Terminal():
		return 0, fmt.Errorf("task %d is %s: %w", row.ID, st, apperr.ErrConflict)
	}
	if settings.AutoDeleteExecutor {
		return 0, fmt.Errorf("task %d already cleared: %w", row.ID, apperr.ErrGone)
	}
	if settings.Source != kind.SourceChatShell {
		window := m.chatExpiry
		if settings.TaskType == kind.TaskTypeCode {
			window = m.codeExpiry
		}
		if window > 0 && time.Since(row.UpdatedAt) > window {
			return 0, fmt.Errorf("task %d append window elapsed: %w", row.ID, apperr.ErrExpired)
		}
	}

	tm, err := team.ResolveByName(tx, userID, doc.Spec.TeamRef.Name, doc.Spec.TeamRef.Namespace)
	if err != nil {
		return 0, err
	}

	doc.Status.Status = kind.StatePending
	doc.Status.Progress = 0
	doc.Status.ErrorMessage = ""
	doc.Status.UpdatedAt = time.Now()
	body, err := kind.Marshal(&doc)
	if err != nil {
		return 0, err
	}
	row.JSON = body
	if err := store.PutKind(tx, row); err != nil {
		return 0, err
	}

	if _, err := appendGroup(tx, row.ID, userID, tm, req.Prompt, doc.Spec.Title); err != nil {
		return 0, fmt.Errorf("task: append subtask group to %d: %w", row.ID, err)
	}
	return row.ID, nil
}

// createTx is the fresh-task branch: resolve the team, provision the
// workspace, claim an allocated id and persist the task with its first
// subtask group.
func (m *Manager) createTx(tx *gorm.DB, userID int64, req CreateRequest) (int64, error) {
	var tm *team.Resolved
	var err error
	if req.TeamID != 0 {
		tm, err = team.ResolveByID(tx, req.TeamID, userID)
	} else {
		tm, err = team.ResolveByName(tx, userID, req.TeamName, req.TeamNamespace)
	}
	if err != nil {
		return 0, err
	}

	taskID := req.ExistingTaskID
	if taskID == 0 {
		taskID, err = AllocateID(tx, userID)
		if err != nil {
			return 0, fmt.Errorf("%v: %w", err, apperr.ErrInternal)
		}
	}
	if err := ValidateID(tx, taskID, userID); err != nil {
		return 0, err
	}

	title := deriveTitle(req.Prompt)
	wsRef := kind.Ref{}
	if req.Settings.TaskType == kind.TaskTypeCode || req.Repository.GitURL != "" {
		m.enrichRepository(&req.Repository)
		ws, err := createWorkspace(tx, userID, taskID, req.Repository)
		if err != nil {
			return 0, err
		}
		wsRef = kind.Ref{Name: ws.Name, Namespace: ws.Namespace}
	}

	now := time.Now()
	doc := kind.TaskDoc{
		APIVersion: kind.APIVersion,
		Kind:       models.KindTask,
		Metadata:   ObjectMetaForTask(taskID, req.Settings),
		Spec: kind.TaskSpec{
			Title:  title,
			Prompt: req.Prompt,
			TeamRef: kind.Ref{
				Name:      tm.Row.Name,
				Namespace: tm.Row.Namespace,
			},
			WorkspaceRef: wsRef,
		},
		Status: kind.TaskStatus{
			Status:    kind.StatePending,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	body, err := kind.Marshal(&doc)
	if err != nil {
		return 0, err
	}
	row := models.KindDoc{
		ID:        taskID,
		UserID:    userID,
		Kind:      models.KindTask,
		Name:      doc.Metadata.Name,
		Namespace: doc.Metadata.Namespace,
		JSON:      body,
		IsActive:  true,
	}
	if err := tx.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("task: create %d: %w", taskID, err)
	}

	if _, err := appendGroup(tx, taskID, userID, tm, req.Prompt, title); err != nil {
		return 0, fmt.Errorf("task: first subtask group for %d: %w", taskID, err)
	}
	return taskID, nil
}

// ObjectMetaForTask builds a task document's metadata with the settings
// flattened into labels.
func ObjectMetaForTask(taskID int64, settings kind.TaskSettings) kind.ObjectMeta {
	return kind.ObjectMeta{
		Name:      fmt.Sprintf("task-%d", taskID),
		Namespace: "default",
		Labels:    settings.Labels(),
	}
}

// enrichRepository fills the numeric repo id and branch from the provider
// when the client sent only a clone URL. Best effort; an unresolved
// workspace still works, it just cannot be matched for reuse on copy.
func (m *Manager) enrichRepository(r *kind.Repository) {
	if m.repos == nil || r.GitURL == "" || r.GitRepoID != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	meta, err := m.repos.Lookup(ctx, r.GitURL)
	if err != nil {
		log.Printf("task: resolve repository %s: %v", r.GitURL, err)
		return
	}
	r.GitRepoID = meta.ID
	if r.GitRepo == "" {
		r.GitRepo = meta.FullName
	}
	if r.BranchName == "" {
		r.BranchName = meta.DefaultBranch
	}
}

func createWorkspace(tx *gorm.DB, userID, taskID int64, repo kind.Repository) (*models.KindDoc, error) {
	doc := kind.WorkspaceDoc{
		APIVersion: kind.APIVersion,
		Kind:       models.KindWorkspace,
		Metadata: kind.ObjectMeta{
			Name:      fmt.Sprintf("task-%d-workspace", taskID),
			Namespace: "default",
		},
		Spec: kind.WorkspaceSpec{Repository: repo},
	}
	body, err := kind.Marshal(&doc)
	if err != nil {
		return nil, err
	}
	row := models.KindDoc{
		UserID:    userID,
		Kind:      models.KindWorkspace,
		Name:      doc.Metadata.Name,
		Namespace: doc.Metadata.Namespace,
		JSON:      body,
		IsActive:  true,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("task: create workspace for %d: %w", taskID, err)
	}
	return &row, nil
}

// deriveTitle takes the leading part of the prompt as a display title.
func deriveTitle(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= titleRunes {
		return prompt
	}
	return string(runes[:titleRunes]) + "..."
}

// Delete tears the task down: best-effort executor cleanup, then a single
// commit marking every subtask DELETE and tombstoning the task document.
func (m *Manager) Delete(ctx context.Context, taskID, userID int64) error {
	row, err := store.GetKindByID(m.db, taskID, userID, models.KindTask)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}

	subs, err := store.SubtasksByTask(m.db, taskID, false)
	if err != nil {
		return err
	}
	seen := map[binding]bool{}
	for _, sub := range subs {
		if sub.ExecutorName == "" || sub.ExecutorDeleted || sub.Status == string(kind.StateDelete) {
			continue
		}
		b := binding{namespace: sub.ExecutorNamespace, name: sub.ExecutorName}
		if seen[b] {
			continue
		}
		seen[b] = true
		if err := m.teardown.Delete(ctx, b.namespace, b.name); err != nil {
			log.Printf("task: teardown executor %s/%s for task %d: %v", b.namespace, b.name, taskID, err)
		}
	}

	return m.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Subtask{}).Where("task_id = ?", taskID).
			Updates(map[string]any{
				"status":           string(kind.StateDelete),
				"executor_deleted": true,
			}).Error
		if err != nil {
			return fmt.Errorf("task: delete subtasks of %d: %w", taskID, err)
		}

		var doc kind.TaskDoc
		if err := kind.Unmarshal(row.JSON, &doc); err != nil {
			return err
		}
		now := time.Now()
		doc.Status.Status = kind.StateDelete
		doc.Status.UpdatedAt = now
		doc.Status.CompletedAt = &now
		body, err := kind.Marshal(&doc)
		if err != nil {
			return err
		}
		row.JSON = body
		row.IsActive = false
		return store.PutKind(tx, row)
	})
}
