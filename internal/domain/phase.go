package domain

import "time"

// Phase names one step of an orchestration run.
type Phase string

const (
	PhasePreflight   Phase = "preflight"
	PhaseProvision   Phase = "provision"
	PhaseConfigureCI Phase = "configure-ci"
	PhaseStageBlue   Phase = "stage-blue"
	PhaseStageGreen  Phase = "stage-green"
	PhaseReport      Phase = "report"
	PhaseCleanup     Phase = "cleanup"
)

// PhaseStatus is how far a phase got.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseSucceeded PhaseStatus = "succeeded"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// PhaseRecord is the outcome of one phase.
type PhaseRecord struct {
	Phase    Phase
	Status   PhaseStatus
	Duration time.Duration
	// Detail is a short human-readable note, e.g. the error or why it was skipped.
	Detail string
}
