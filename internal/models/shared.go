package models

import "time"

// SharedTask records that a user copied another user's shared task. One row
// per (user, original task); soft-deactivated on removal and reused in place
// on a later re-copy to avoid violating the unique index.
type SharedTask struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	UserID         int64 `gorm:"uniqueIndex:idx_shared_task_once;not null"`
	OriginalUserID int64 `gorm:"not null"`
	OriginalTaskID int64 `gorm:"uniqueIndex:idx_shared_task_once;not null"`
	CopiedTaskID   int64 `gorm:"not null"`
	IsActive       bool  `gorm:"default:true"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SharedTeam records that another user's team is visible to this user. Team
// resolution falls back to shared teams when a task references a team the
// user does not own.
type SharedTeam struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	UserID         int64 `gorm:"uniqueIndex:idx_shared_team_once;not null"`
	OriginalUserID int64 `gorm:"uniqueIndex:idx_shared_team_once;not null"`
	IsActive       bool  `gorm:"default:true"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// User is the minimal account row the core needs for ownership checks and
// display names. Authentication lives outside this service.
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserName  string `gorm:"size:128;uniqueIndex"`
	IsActive  bool   `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
