// Package team resolves team documents and their member bots for task
// creation and append.
package team

import (
	"fmt"
	"log"

	"github.com/switchboardhq/switchboard/internal/apperr"
	"github.com/switchboardhq/switchboard/internal/kind"
	"github.com/switchboardhq/switchboard/internal/models"
	"github.com/switchboardhq/switchboard/internal/store"
	"gorm.io/gorm"
)

// Resolved is a team together with its parsed body and the bot ids its
// members bind to, in member order.
type Resolved struct {
	Row    *models.KindDoc
	Doc    kind.TeamDoc
	BotIDs []int64
}

// Pipeline reports whether the team runs its members as an ordered pipeline.
func (r *Resolved) Pipeline() bool {
	return r.Doc.Spec.CollaborationMode == kind.ModePipeline
}

// ResolveByID loads a team by id for a user, falling back to teams shared
// with the user when the user does not own one with that id.
func ResolveByID(db *gorm.DB, teamID, userID int64) (*Resolved, error) {
	row, err := store.GetKindByID(db, teamID, userID, models.KindTeam)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row, err = sharedTeamByID(db, teamID, userID)
		if err != nil {
			return nil, err
		}
	}
	if row == nil {
		return nil, fmt.Errorf("team %d: %w", teamID, apperr.ErrNotFound)
	}
	return resolveMembers(db, row)
}

// ResolveByName loads a team by name and namespace for a user, with the same
// shared-team fallback as ResolveByID.
func ResolveByName(db *gorm.DB, userID int64, name, namespace string) (*Resolved, error) {
	row, err := store.GetKindByName(db, userID, models.KindTeam, name, namespace)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row, err = sharedTeamByName(db, userID, name, namespace)
		if err != nil {
			return nil, err
		}
	}
	if row == nil {
		return nil, fmt.Errorf("team %s/%s: %w", namespace, name, apperr.ErrNotFound)
	}
	return resolveMembers(db, row)
}

// sharedTeamByID looks for teamID among teams whose owners share with userID.
func sharedTeamByID(db *gorm.DB, teamID, userID int64) (*models.KindDoc, error) {
	owners, err := sharedOwners(db, userID)
	if err != nil || len(owners) == 0 {
		return nil, err
	}
	var row models.KindDoc
	err = db.Where("id = ? AND user_id IN ? AND kind = ? AND is_active = ?",
		teamID, owners, models.KindTeam, true).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("team: shared lookup %d: %w", teamID, err)
	}
	return &row, nil
}

func sharedTeamByName(db *gorm.DB, userID int64, name, namespace string) (*models.KindDoc, error) {
	owners, err := sharedOwners(db, userID)
	if err != nil || len(owners) == 0 {
		return nil, err
	}
	var row models.KindDoc
	err = db.Where("user_id IN ? AND kind = ? AND name = ? AND namespace = ? AND is_active = ?",
		owners, models.KindTeam, name, namespace, true).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("team: shared lookup %s/%s: %w", namespace, name, err)
	}
	return &row, nil
}

func sharedOwners(db *gorm.DB, userID int64) ([]int64, error) {
	var owners []int64
	err := db.Model(&models.SharedTeam{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Pluck("original_user_id", &owners).Error
	if err != nil {
		return nil, fmt.Errorf("team: shared owners for user %d: %w", userID, err)
	}
	return owners, nil
}

// resolveMembers parses the team body and maps each member to its bot id.
// Members whose bot no longer exists are skipped with a warning; a team whose
// members all fail to resolve is unusable.
func resolveMembers(db *gorm.DB, row *models.KindDoc) (*Resolved, error) {
	var doc kind.TeamDoc
	if err := kind.Unmarshal(row.JSON, &doc); err != nil {
		return nil, fmt.Errorf("team %d: %w", row.ID, err)
	}
	if len(doc.Spec.Members) == 0 {
		return nil, fmt.Errorf("team %d has no members: %w", row.ID, apperr.ErrInvalidConfiguration)
	}
	resolved := &Resolved{Row: row, Doc: doc}
	for _, m := range doc.Spec.Members {
		bot, err := store.GetKindByName(db, row.UserID, models.KindBot, m.BotRef.Name, m.BotRef.Namespace)
		if err != nil {
			return nil, err
		}
		if bot == nil {
			log.Printf("team: team %d member bot %s/%s not found, skipping",
				row.ID, m.BotRef.Namespace, m.BotRef.Name)
			continue
		}
		resolved.BotIDs = append(resolved.BotIDs, bot.ID)
	}
	if len(resolved.BotIDs) == 0 {
		return nil, fmt.Errorf("team %d has no resolvable bots: %w", row.ID, apperr.ErrInvalidConfiguration)
	}
	return resolved, nil
}
