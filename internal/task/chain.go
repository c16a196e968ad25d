package task

import (
	"time"

	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
	"github.com/switchboardhq/switchboard/internal/team"
	"gorm.io/gorm"
)

type binding struct {
	namespace string
	name      string
}

// appendGroup builds and inserts the next conversation turn for a task: one
// USER subtask carrying the prompt, then the assistant subtasks the team's
// collaboration mode calls for. The caller supplies the transaction; nothing
// here commits.
func appendGroup(tx *gorm.DB, taskID, userID int64, tm *team.Resolved, prompt, title string) ([]models.Subtask, error) {
	existing, err := store.SubtasksByTask(tx, taskID, false)
	if err != nil {
		return nil, err
	}

	nextMsg := int64(1)
	parent := int64(0)
	if n := len(existing); n > 0 {
		parent = existing[n-1].MessageID
		nextMsg = parent + 1
	}

	now := time.Now()
	group := []models.Subtask{{
		UserID:      userID,
		TaskID:      taskID,
		TeamID:      tm.Row.ID,
		Title:       title,
		Role:        models.RoleUser,
		Prompt:      prompt,
		Status:      string(kind.StateCompleted),
		Progress:    100,
		MessageID:   nextMsg,
		ParentID:    parent,
		CompletedAt: now,
	}}
	parent = nextMsg
	nextMsg++

	if tm.Pipeline() {
		prior := priorBindings(existing)
		for i, botID := range tm.BotIDs {
			sub := models.Subtask{
				UserID:      userID,
				TaskID:      taskID,
				TeamID:      tm.Row.ID,
				Title:       title,
				BotIDs:      models.Int64List{botID},
				Role:        models.RoleAssistant,
				Status:      string(kind.StatePending),
				MessageID:   nextMsg,
				ParentID:    parent,
				CompletedAt: now,
			}
			if i < len(prior) {
				sub.ExecutorNamespace = prior[i].namespace
				sub.ExecutorName = prior[i].name
			}
			group = append(group, sub)
			parent = nextMsg
			nextMsg++
		}
	} else {
		sub := models.Subtask{
			UserID:      userID,
			TaskID:      taskID,
			TeamID:      tm.Row.ID,
			Title:       title,
			BotIDs:      models.Int64List(tm.BotIDs),
			Role:        models.RoleAssistant,
			Status:      string(kind.StatePending),
			MessageID:   nextMsg,
			ParentID:    parent,
			CompletedAt: now,
		}
		if n := len(existing); n > 0 {
			sub.ExecutorNamespace = existing[n-1].ExecutorNamespace
			sub.ExecutorName = existing[n-1].ExecutorName
		}
		group = append(group, sub)
	}

	for i := range group {
		if err := tx.Create(&group[i]).Error; err != nil {
			return nil, err
		}
	}
	return group, nil
}

// priorBindings recovers the executor bindings of the previous pipeline run
// so each member keeps its sandbox across turns. Subtasks are scanned
// backward until the previous USER boundary, then reversed so bindings line
// up positionally with the member order.
func priorBindings(existing []models.Subtask) []binding {
	var rev []binding
	for i := len(existing) - 1; i >= 0; i-- {
		if existing[i].Role == models.RoleUser {
			break
		}
		rev = append(rev, binding{
			namespace: existing[i].ExecutorNamespace,
			name:      existing[i].ExecutorName,
		})
	}
	out := make([]binding, len(rev))
	for i, b := range rev {
		out[len(rev)-1-i] = b
	}
	return out
}
