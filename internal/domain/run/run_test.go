package run

import (
	"encoding/json"
	"testing"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusInProgress, false},
		{StatusRequiresAction, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestFailurePayloadShape(t *testing.T) {
	payload := Failure("list_issues", "boom", "try again")

	var got ToolFailure
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Success {
		t.Error("success = true, want false")
	}
	if got.Function != "list_issues" || got.Error != "boom" || got.HowToFix != "try again" {
		t.Errorf("payload = %+v", got)
	}
}

func TestFailureOmitsEmptyHowToFix(t *testing.T) {
	payload := Failure("list_issues", "boom", "")

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := raw["howToFix"]; present {
		t.Error("empty howToFix should be omitted")
	}
}
