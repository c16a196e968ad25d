package kind

import (
	"encoding/json"
	"fmt"
	"time"
)

// APIVersion stamped on every stored document.
const APIVersion = "switchboard.dev/v1"

// ObjectMeta is the common metadata block of a stored document.
type ObjectMeta struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Ref points at another document by name and namespace.
type Ref struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// TaskSpec is the immutable-ish body of a task.
type TaskSpec struct {
	Title        string `json:"title"`
	Prompt       string `json:"prompt"`
	TeamRef      Ref    `json:"teamRef"`
	WorkspaceRef Ref    `json:"workspaceRef"`
}

// TaskStatus is the mutable status block of a task.
type TaskStatus struct {
	Status       State          `json:"status"`
	Progress     int            `json:"progress"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"errorMessage"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// TaskDoc is the stored Task document.
type TaskDoc struct {
	APIVersion string     `json:"apiVersion"`
	Kind       string     `json:"kind"`
	Metadata   ObjectMeta `json:"metadata"`
	Spec       TaskSpec   `json:"spec"`
	Status     TaskStatus `json:"status"`
}

// Collaboration modes for a team.
const (
	ModePipeline    = "pipeline"
	ModeRoute       = "route"
	ModeCoordinate  = "coordinate"
	ModeCollaborate = "collaborate"
)

// TeamMember binds a bot into a team, optionally with a role label and a
// per-member prompt.
type TeamMember struct {
	BotRef Ref    `json:"botRef"`
	Role   string `json:"role,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// TeamSpec describes a team's members and how they collaborate.
type TeamSpec struct {
	Members           []TeamMember `json:"members"`
	CollaborationMode string       `json:"collaborationMode"`
	Description       string       `json:"description,omitempty"`
}

// TeamDoc is the stored Team document.
type TeamDoc struct {
	APIVersion string     `json:"apiVersion"`
	Kind       string     `json:"kind"`
	Metadata   ObjectMeta `json:"metadata"`
	Spec       TeamSpec   `json:"spec"`
}

// BotSpec points a bot at its model configuration.
type BotSpec struct {
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	ModelConfig  map[string]any `json:"modelConfig,omitempty"`
}

// BotDoc is the stored Bot document.
type BotDoc struct {
	APIVersion string     `json:"apiVersion"`
	Kind       string     `json:"kind"`
	Metadata   ObjectMeta `json:"metadata"`
	Spec       BotSpec    `json:"spec"`
}

// Repository is the git binding of a workspace.
type Repository struct {
	GitURL     string `json:"gitUrl"`
	GitRepo    string `json:"gitRepo"`
	GitRepoID  int64  `json:"gitRepoId,omitempty"`
	GitDomain  string `json:"gitDomain"`
	BranchName string `json:"branchName"`
}

// WorkspaceSpec wraps the repository binding.
type WorkspaceSpec struct {
	Repository Repository `json:"repository"`
}

// WorkspaceDoc is the stored Workspace document.
type WorkspaceDoc struct {
	APIVersion string        `json:"apiVersion"`
	Kind       string        `json:"kind"`
	Metadata   ObjectMeta    `json:"metadata"`
	Spec       WorkspaceSpec `json:"spec"`
}

// Marshal serializes a document body for the kinds table.
func Marshal(doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("kind: marshal document: %w", err)
	}
	return string(data), nil
}

// Unmarshal parses a kinds-table JSON body into the given document struct.
func Unmarshal(data string, doc any) error {
	if err := json.Unmarshal([]byte(data), doc); err != nil {
		return fmt.Errorf("kind: unmarshal document: %w", err)
	}
	return nil
}
