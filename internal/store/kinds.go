// Package store provides query helpers over the two durable record shapes:
// generic kind documents and subtask rows.
package store

import (
	"errors"
	"fmt"

	"github.com/switchboardhq/switchboard/internal/models"
	"gorm.io/gorm"
)

// GetKindByID loads an active document by id and kind, scoped to a user.
// Returns (nil, nil) when no matching row exists.
func GetKindByID(db *gorm.DB, id, userID int64, kind string) (*models.KindDoc, error) {
	var doc models.KindDoc
	err := db.Where("id = ? AND user_id = ? AND kind = ? AND is_active = ?",
		id, userID, kind, true).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s %d: %w", kind, id, err)
	}
	return &doc, nil
}

// GetKindByName loads an active document by (kind, name, namespace) under a
// user. Returns (nil, nil) when no matching row exists.
func GetKindByName(db *gorm.DB, userID int64, kind, name, namespace string) (*models.KindDoc, error) {
	var doc models.KindDoc
	err := db.Where("user_id = ? AND kind = ? AND name = ? AND namespace = ? AND is_active = ?",
		userID, kind, name, namespace, true).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s %s/%s: %w", kind, namespace, name, err)
	}
	return &doc, nil
}

// ListKinds returns all active documents of a kind under a user.
func ListKinds(db *gorm.DB, userID int64, kind string) ([]models.KindDoc, error) {
	var docs []models.KindDoc
	if err := db.Where("user_id = ? AND kind = ? AND is_active = ?", userID, kind, true).
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("store: list %s: %w", kind, err)
	}
	return docs, nil
}

// PutKind replaces a document's full JSON body and bumps its update time.
// The full-document replace is the optimistic update unit: the row is the
// unit of consistency and the last committed body wins.
func PutKind(db *gorm.DB, doc *models.KindDoc) error {
	if err := db.Save(doc).Error; err != nil {
		return fmt.Errorf("store: put %s %d: %w", doc.Kind, doc.ID, err)
	}
	return nil
}

// SubtasksByTask returns a task's subtasks ordered by message id.
func SubtasksByTask(db *gorm.DB, taskID int64, descending bool) ([]models.Subtask, error) {
	order := "message_id ASC"
	if descending {
		order = "message_id DESC"
	}
	var subs []models.Subtask
	if err := db.Where("task_id = ?", taskID).Order(order).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("store: subtasks for task %d: %w", taskID, err)
	}
	return subs, nil
}

// GetSubtask loads a subtask scoped to its owner. Returns (nil, nil) when
// absent.
func GetSubtask(db *gorm.DB, subtaskID, userID int64) (*models.Subtask, error) {
	var sub models.Subtask
	err := db.Where("id = ? AND user_id = ?", subtaskID, userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subtask %d: %w", subtaskID, err)
	}
	return &sub, nil
}
