// Package models defines the GORM models for Switchboard's durable store.
package models

import "time"

// Document kind discriminator values stored in KindDoc.Kind.
const (
	KindTask        = "Task"
	KindTeam        = "Team"
	KindBot         = "Bot"
	KindWorkspace   = "Workspace"
	KindPlaceholder = "Placeholder"
)

// KindDoc is a generic typed JSON document. Tasks, Teams, Bots and Workspaces
// all live in one table, discriminated by Kind, with the typed body in JSON.
// Placeholder rows exist only to reserve an auto-increment id for a Task that
// has not been written yet.
type KindDoc struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"index:idx_kind_lookup;not null"`
	Kind      string `gorm:"size:32;index:idx_kind_lookup;not null"`
	Name      string `gorm:"size:191;index:idx_kind_lookup"`
	Namespace string `gorm:"size:64;index:idx_kind_lookup;default:default"`
	JSON      string `gorm:"type:json"`
	IsActive  bool   `gorm:"default:true;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table name aligned with the document terminology.
func (KindDoc) TableName() string { return "kinds" }
