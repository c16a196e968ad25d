package task

import (
	"fmt"
	"log"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/models"
	"gorm.io/gorm"
)

// AllocateID reserves a task id before the task body exists, so clients can
// label uploads and streams with the final id up front. The reservation is an
// inert Placeholder document: the kinds auto-increment hands out the id and
// the row never matches any task query. An unconsumed placeholder from an
// earlier allocation by the same user is returned as-is rather than stacking
// a new one.
func AllocateID(db *gorm.DB, userID int64) (int64, error) {
	var existing models.KindDoc
	err := db.Where("user_id = ? AND kind = ?", userID, models.KindPlaceholder).
		First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, fmt.Errorf("task: find placeholder for user %d: %w", userID, err)
	}
	ph := models.KindDoc{
		UserID:    userID,
		Kind:      models.KindPlaceholder,
		Name:      "pending",
		Namespace: "default",
		JSON:      "{}",
		IsActive:  false,
	}
	if err := db.Create(&ph).Error; err != nil {
		return 0, fmt.Errorf("task: allocate id for user %d: %w", userID, err)
	}
	return ph.ID, nil
}

// ValidateID checks a client-supplied allocated id. A live placeholder owned
// by the user is consumed (deleted) and the id accepted; an id already
// occupied by one of the user's tasks is accepted as-is so retries after a
// successful create stay valid. Anything else is rejected.
func ValidateID(db *gorm.DB, id, userID int64) error {
	var row models.KindDoc
	err := db.Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("task: id %d was never allocated: %w", id, apperr.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("task: validate id %d: %w", id, err)
	}
	switch row.Kind {
	case models.KindPlaceholder:
		if err := db.Delete(&models.KindDoc{}, row.ID).Error; err != nil {
			return fmt.Errorf("task: consume placeholder %d: %w", id, err)
		}
		return nil
	case models.KindTask:
		return nil
	default:
		log.Printf("task: validate id %d: occupied by %s document", id, row.Kind)
		return fmt.Errorf("task: id %d is not a task id: %w", id, apperr.ErrValidation)
	}
}
