package tui

import (
	"strings"
	"testing"
)

func TestModelViewRendersProgress(t *testing.T) {
	m := NewModel("demo", 10, 2)
	updated, _ := m.Update(Progress{
		StashName: "demo", SequenceIndex: 1, SequenceCount: 2, SequenceName: "Setup",
		Completed: 3, Total: 10, Success: 2, Failed: 1, LastRequestKey: "create-user", LastStatus: 500,
	})
	view := updated.View()
	if !strings.Contains(view, "demo") || !strings.Contains(view, "Setup") || !strings.Contains(view, "create-user") {
		t.Fatalf("expected view to reflect progress state, got:\n%s", view)
	}
}

func TestModelDoneQuits(t *testing.T) {
	m := NewModel("demo", 1, 1)
	updated, cmd := m.Update(Done{ExitCode: 1})
	if cmd == nil {
		t.Fatalf("expected a quit command")
	}
	view := updated.View()
	if !strings.Contains(view, "exit code 1") {
		t.Fatalf("expected finished state in view, got:\n%s", view)
	}
}
