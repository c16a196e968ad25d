package models

import "time"

// Subtask roles.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// Subtask is one turn of a task's conversation. USER turns carry the prompt;
// ASSISTANT turns accumulate a streamed result. MessageID is strictly
// increasing per task and ParentID points at the previous turn's MessageID
// (0 for the first), forming a chain.
type Subtask struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	UserID            int64  `gorm:"index;not null"`
	TaskID            int64  `gorm:"index;not null"`
	TeamID            int64  `gorm:"not null"`
	Title             string `gorm:"size:255"`
	BotIDs            Int64List `gorm:"type:json"`
	Role              string    `gorm:"size:16;not null"`
	ExecutorNamespace string    `gorm:"size:64;not null;default:''"`
	ExecutorName      string    `gorm:"size:128;not null;default:''"`
	ExecutorDeleted   bool      `gorm:"default:false"`
	Prompt            string    `gorm:"type:mediumtext"`
	Status            string    `gorm:"size:16;index"`
	Progress          int       `gorm:"default:0"`
	MessageID         int64     `gorm:"index:idx_subtask_chain"`
	ParentID          int64
	Result            *SubtaskResult `gorm:"type:json"`
	ErrorMessage      string         `gorm:"size:1024;default:''"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// CompletedAt is NOT NULL in the schema; a placeholder timestamp is
	// written at creation and overwritten on real completion.
	CompletedAt time.Time `gorm:"not null"`
}

// SubtaskAttachment holds a file attached to a USER subtask. Binary payload
// and extracted text travel with the row so a task copy can duplicate them
// byte-for-byte.
type SubtaskAttachment struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	SubtaskID        int64  `gorm:"index;not null"`
	UserID           int64  `gorm:"index;not null"`
	OriginalFilename string `gorm:"size:255"`
	FileExtension    string `gorm:"size:16"`
	FileSize         int64
	MimeType         string `gorm:"size:128"`
	BinaryData       []byte `gorm:"type:longblob"`
	ExtractedText    string `gorm:"type:mediumtext"`
	TextLength       int
	Status           string `gorm:"size:16;default:ready"`
	ErrorMessage     string `gorm:"size:1024;default:''"`
	CreatedAt        time.Time
}
