package kind

import "fmt"

// Task types.
const (
	TaskTypeChat = "chat"
	TaskTypeCode = "code"
)

// Visibility values.
const (
	VisibilityOnline  = "online"
	VisibilityOffline = "offline"
)

// SourceChatShell marks tasks created by the direct chat path; they are
// exempt from the append expiry window.
const SourceChatShell = "chat_shell"

// Label keys used when settings are flattened into document metadata.
const (
	labelTaskType      = "taskType"
	labelVisibility    = "type"
	labelAutoDelete    = "autoDeleteExecutor"
	labelSource        = "source"
	labelModelID       = "modelId"
	labelForceOverride = "forceOverrideBotModel"
)

// TaskSettings is the typed task configuration. It replaces the ad hoc label
// bag: every layer works with this struct and the label map exists only at
// the storage boundary.
type TaskSettings struct {
	TaskType           string
	Visibility         string
	AutoDeleteExecutor bool
	Source             string
	ModelID            string
	ForceOverrideModel bool
}

// Validate checks enum fields and fills defaults for empty ones.
func (s *TaskSettings) Validate() error {
	if s.TaskType == "" {
		s.TaskType = TaskTypeChat
	}
	if s.Visibility == "" {
		s.Visibility = VisibilityOnline
	}
	if s.TaskType != TaskTypeChat && s.TaskType != TaskTypeCode {
		return fmt.Errorf("kind: invalid task type %q", s.TaskType)
	}
	if s.Visibility != VisibilityOnline && s.Visibility != VisibilityOffline {
		return fmt.Errorf("kind: invalid visibility %q", s.Visibility)
	}
	return nil
}

// Labels flattens the settings into the stored label map. Optional model
// override fields are omitted when unset so a later strip-and-reapply only
// sees what was deliberately pinned.
func (s TaskSettings) Labels() map[string]string {
	labels := map[string]string{
		labelTaskType:   s.TaskType,
		labelVisibility: s.Visibility,
		labelAutoDelete: boolLabel(s.AutoDeleteExecutor),
		labelSource:     s.Source,
	}
	if s.ModelID != "" {
		labels[labelModelID] = s.ModelID
	}
	if s.ForceOverrideModel {
		labels[labelForceOverride] = "true"
	}
	return labels
}

// SettingsFromLabels parses a stored label map back into typed settings,
// defaulting missing fields the way the storage format always has.
func SettingsFromLabels(labels map[string]string) TaskSettings {
	s := TaskSettings{
		TaskType:           labels[labelTaskType],
		Visibility:         labels[labelVisibility],
		AutoDeleteExecutor: labels[labelAutoDelete] == "true",
		Source:             labels[labelSource],
		ModelID:            labels[labelModelID],
		ForceOverrideModel: labels[labelForceOverride] == "true",
	}
	if s.TaskType == "" {
		s.TaskType = TaskTypeChat
	}
	if s.Visibility == "" {
		s.Visibility = VisibilityOnline
	}
	return s
}

// StripModelOverride removes pinned-model fields, used when copying a shared
// task: a copy never inherits the source's model selection.
func (s *TaskSettings) StripModelOverride() {
	s.ModelID = ""
	s.ForceOverrideModel = false
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
