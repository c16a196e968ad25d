package kind

import "testing"

func TestStateValid(t *testing.T) {
	for _, s := range []State{StatePending, StateRunning, StateCancelling,
		StateCompleted, StateFailed, StateCancelled, StateDelete} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if State("UNKNOWN").Valid() {
		t.Error("UNKNOWN should not be valid")
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StatePending:    false,
		StateRunning:    false,
		StateCancelling: false,
		StateCompleted:  true,
		StateFailed:     true,
		StateCancelled:  true,
		StateDelete:     true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestAllowedTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateRunning, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateCancelling, true},
		{StateCancelling, StateCancelled, true},
		{StateCancelling, StateFailed, true},
		{StateCancelling, StateRunning, false},
		{StateCancelling, StateCompleted, false},
		{StateCompleted, StateRunning, false},
		{StateFailed, StatePending, false},
		{StateCancelled, StateCancelling, false},
		// terminal to terminal passes the guard
		{StateCompleted, StateFailed, true},
		// the guard is deliberately partial
		{StatePending, StateCompleted, true},
		// DELETE is never a generic update target
		{StateRunning, StateDelete, false},
		{StateCompleted, StateDelete, false},
	}
	for _, tt := range tests {
		if got := AllowedTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("AllowedTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskSettingsValidate(t *testing.T) {
	s := TaskSettings{}
	if err := s.Validate(); err != nil {
		t.Fatalf("empty settings should default: %v", err)
	}
	if s.TaskType != TaskTypeChat || s.Visibility != VisibilityOnline {
		t.Errorf("defaults = %q/%q", s.TaskType, s.Visibility)
	}

	s = TaskSettings{TaskType: "video"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for unknown task type")
	}
	s = TaskSettings{Visibility: "hidden"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for unknown visibility")
	}
}

func TestTaskSettingsLabelsRoundTrip(t *testing.T) {
	s := TaskSettings{
		TaskType:           TaskTypeCode,
		Visibility:         VisibilityOffline,
		AutoDeleteExecutor: true,
		Source:             SourceChatShell,
		ModelID:            "gpt-4o",
		ForceOverrideModel: true,
	}
	got := SettingsFromLabels(s.Labels())
	if got != s {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
}

func TestTaskSettingsStripModelOverride(t *testing.T) {
	s := TaskSettings{TaskType: TaskTypeChat, ModelID: "gpt-4o", ForceOverrideModel: true}
	s.StripModelOverride()
	if s.ModelID != "" || s.ForceOverrideModel {
		t.Errorf("override not stripped: %+v", s)
	}
	labels := s.Labels()
	if _, ok := labels["modelId"]; ok {
		t.Error("stripped modelId should not be in labels")
	}
}
