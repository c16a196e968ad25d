package task

import (
	"fmt"
	"log"
	"time"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
	"gorm.io/gorm"
)

// Patch carries the optional fields of a partial update. Nil means "leave
// unchanged".
type Patch struct {
	Title        *string
	Prompt       *string
	Status       *kind.State
	Progress     *int
	Result       map[string]any
	ErrorMessage *string
	Repository   *kind.Repository
}

// Update applies a partial update to a task. An illegal status transition is
// dropped with a warning while every other supplied field still applies; this
// is last-write-wins except for status regression. Entering a terminal state
// stamps completedAt.
func (m *Manager) Update(taskID, userID int64, patch Patch) (*View, error) {
	err := m.db.Transaction(func(tx *gorm.DB) error {
		row, err := store.GetKindByID(tx, taskID, userID, models.KindTask)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
		}
		var doc kind.TaskDoc
		if err := kind.Unmarshal(row.JSON, &doc); err != nil {
			return err
		}

		if patch.Status != nil {
			target := *patch.Status
			if !target.Valid() {
				log.Printf("task: update %d: unknown status %q dropped", taskID, target)
			} else if !kind.AllowedTransition(doc.Status.Status, target) {
				log.Printf("task: update %d: transition %s -> %s dropped",
					taskID, doc.Status.Status, target)
			} else {
				doc.Status.Status = target
				if target.Terminal() {
					now := time.Now()
					doc.Status.CompletedAt = &now
				}
			}
		}
		if patch.Title != nil {
			doc.Spec.Title = *patch.Title
		}
		if patch.Prompt != nil {
			doc.Spec.Prompt = *patch.Prompt
		}
		if patch.Progress != nil {
			doc.Status.Progress = *patch.Progress
		}
		if patch.Result != nil {
			doc.Status.Result = patch.Result
		}
		if patch.ErrorMessage != nil {
			doc.Status.ErrorMessage = *patch.ErrorMessage
		}
		doc.Status.UpdatedAt = time.Now()

		if patch.Repository != nil && doc.Spec.WorkspaceRef.Name != "" {
			if err := updateWorkspace(tx, userID, doc.Spec.WorkspaceRef, *patch.Repository); err != nil {
				return err
			}
		}

		body, err := kind.Marshal(&doc)
		if err != nil {
			return err
		}
		row.JSON = body
		return store.PutKind(tx, row)
	})
	if err != nil {
		return nil, err
	}
	return m.Get(taskID, userID)
}

// updateWorkspace overwrites the git binding of a task's workspace. Only
// supplied fields replace existing ones.
func updateWorkspace(tx *gorm.DB, userID int64, ref kind.Ref, repo kind.Repository) error {
	row, err := store.GetKindByName(tx, userID, models.KindWorkspace, ref.Name, ref.Namespace)
	if err != nil {
		return err
	}
	if row == nil {
		log.Printf("task: workspace %s/%s missing, git fields dropped", ref.Namespace, ref.Name)
		return nil
	}
	var doc kind.WorkspaceDoc
	if err := kind.Unmarshal(row.JSON, &doc); err != nil {
		return err
	}
	if repo.GitURL != "" {
		doc.Spec.Repository.GitURL = repo.GitURL
	}
	if repo.GitRepo != "" {
		doc.Spec.Repository.GitRepo = repo.GitRepo
	}
	if repo.GitRepoID != 0 {
		doc.Spec.Repository.GitRepoID = repo.GitRepoID
	}
	if repo.GitDomain != "" {
		doc.Spec.Repository.GitDomain = repo.GitDomain
	}
	if repo.BranchName != "" {
		doc.Spec.Repository.BranchName = repo.BranchName
	}
	body, err := kind.Marshal(&doc)
	if err != nil {
		return err
	}
	row.JSON = body
	return store.PutKind(tx, row)
}

// SubtaskPatch is the partial-update shape for a subtask row.
type SubtaskPatch struct {
	Status       *kind.State
	Progress     *int
	Result       *models.SubtaskResult
	ErrorMessage *string
	ExecutorName *string
	ExecutorNS   *string
}

// UpdateSubtask applies a partial update to a subtask under the same
// transition guard as Update. Entering a terminal state stamps CompletedAt.
func (m *Manager) UpdateSubtask(subtaskID, userID int64, patch SubtaskPatch) (*models.Subtask, error) {
	var out *models.Subtask
	err := m.db.Transaction(func(tx *gorm.DB) error {
		sub, err := store.GetSubtask(tx, subtaskID, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("subtask %d: %w", subtaskID, apperr.ErrNotFound)
		}

		if patch.Status != nil {
			target := *patch.Status
			cur := kind.State(sub.Status)
			if !target.Valid() {
				log.Printf("task: subtask %d: unknown status %q dropped", subtaskID, target)
			} else if !kind.AllowedTransition(cur, target) {
				log.Printf("task: subtask %d: transition %s -> %s dropped", subtaskID, cur, target)
			} else {
				sub.Status = string(target)
				if target.Terminal() {
					sub.CompletedAt = time.Now()
				}
			}
		}
		if patch.Progress != nil {
			sub.Progress = *patch.Progress
		}
		if patch.Result != nil {
			sub.Result = patch.Result
		}
		if patch.ErrorMessage != nil {
			sub.ErrorMessage = *patch.ErrorMessage
		}
		if patch.ExecutorName != nil {
			sub.ExecutorName = *patch.ExecutorName
		}
		if patch.ExecutorNS != nil {
			sub.ExecutorNamespace = *patch.ExecutorNS
		}
		if err := tx.Save(sub).Error; err != nil {
			return fmt.Errorf("task: save subtask %d: %w", subtaskID, err)
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
