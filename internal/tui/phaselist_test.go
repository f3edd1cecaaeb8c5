package tui_test

import (
	"strings"
	"testing"
	"time"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/tui"
)

func TestPhaseListModel_RendersPhases(t *testing.T) {
	phases := []domain.PhaseRecord{
		{Phase: domain.PhasePreflight, Status: domain.PhaseSucceeded, Duration: 2 * time.Second},
		{Phase: domain.PhaseProvision, Status: domain.PhaseFailed, Duration: 7*time.Minute + 3*time.Second, Detail: "pod jenkins-0 in phase Pending"},
	}
	view := tui.NewPhaseListModel(phases).View()
	for _, want := range []string{"preflight", "provision", "2s", "7m03s", "phase Pending"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view, got:\n%s", want, view)
		}
	}
}

func TestPhaseListModel_EmptyShowsMessage(t *testing.T) {
	view := tui.NewPhaseListModel(nil).View()
	if !strings.Contains(view, "No phases") {
		t.Errorf("expected empty message, got:\n%s", view)
	}
}

func TestPhaseListModel_TruncatesLongDetail(t *testing.T) {
	detail := strings.Repeat("x", 100)
	view := tui.NewPhaseListModel([]domain.PhaseRecord{{Phase: domain.PhaseReport, Detail: detail}}).View()
	if strings.Contains(view, detail) {
		t.Errorf("expected detail to be truncated, got:\n%s", view)
	}
	if !strings.Contains(view, "…") {
		t.Errorf("expected ellipsis, got:\n%s", view)
	}
}
