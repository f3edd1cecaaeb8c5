package tui_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/release"
	"github.com/waabox/bgrelease/internal/tui"
)

func TestConsole_PhaseLines(t *testing.T) {
	var out strings.Builder
	c := tui.NewConsole(&out)

	c.PhaseStarted(domain.PhaseProvision)
	c.PhaseFinished(domain.PhaseRecord{Phase: domain.PhaseProvision, Status: domain.PhaseSucceeded, Duration: 90 * time.Second})
	c.Warnf("active service answered %d", 503)

	got := out.String()
	for _, want := range []string{"provision...", "provision (1m30s)", "active service answered 503"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got:\n%s", want, got)
		}
	}
}

func TestConsole_SummaryGreenActive(t *testing.T) {
	var out strings.Builder
	tui.NewConsole(&out).Summary(tui.Summary{
		Phases: []domain.PhaseRecord{{Phase: domain.PhaseStageGreen, Status: domain.PhaseSucceeded}},
		State: release.ReleaseState{
			Stage:             release.StageGreenDeployed,
			ActiveColor:       domain.Green,
			BlueVersionLabel:  "1.0 (BLUE)",
			GreenVersionLabel: "2.0 (GREEN)",
			GreenBuild:        "2",
		},
		ActiveAddress: "http://192.168.49.2:31080",
	})

	got := out.String()
	for _, want := range []string{`Green "2.0 (GREEN)" (build #2) is active`, "http://192.168.49.2:31080", "run succeeded"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got:\n%s", want, got)
		}
	}
}

func TestConsole_SummaryBlueRemainsAfterGreenFailure(t *testing.T) {
	var out strings.Builder
	tui.NewConsole(&out).Summary(tui.Summary{
		State: release.ReleaseState{
			Stage:             release.StageGreenPending,
			BlueVersionLabel:  "1.0 (BLUE)",
			GreenVersionLabel: "2.0 (GREEN)",
			BlueBuild:         "1",
		},
		Err: errors.New("stage-green: build failed"),
	})

	got := out.String()
	for _, want := range []string{"Blue \"1.0 (BLUE)\" (build #1) remains the active deployment", "was authored but not deployed", "run failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got:\n%s", want, got)
		}
	}
}
