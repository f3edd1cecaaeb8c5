// Package release tracks which color serves traffic and the version label of each.
//
// States are distinct types. An operation is only defined on the state it applies to,
// so a green deployment cannot be recorded before a blue one.
package release

import (
	"fmt"
	"time"

	"github.com/waabox/bgrelease/internal/domain"
)

// Stage names a release state.
type Stage string

const (
	StageUninitialized Stage = "uninitialized"
	StageBlueDeployed  Stage = "blue-deployed"
	StageGreenPending  Stage = "green-pending"
	StageGreenDeployed Stage = "green-deployed"
)

// ReleaseState is a snapshot of the release.
type ReleaseState struct {
	Stage             Stage
	ActiveColor       domain.Color
	BlueVersionLabel  string
	GreenVersionLabel string
	BlueBuild         domain.BuildID
	GreenBuild        domain.BuildID
	LastTransitionAt  time.Time
}

// Machine is implemented by every state.
type Machine interface {
	State() ReleaseState
}

// Uninitialized is the state before any build.
type Uninitialized struct {
	now func() time.Time
}

// BlueDeployed holds a succeeded first build.
type BlueDeployed struct {
	state ReleaseState
	now   func() time.Time
}

// GreenPending holds an authored but not yet built green version.
type GreenPending struct {
	state ReleaseState
	now   func() time.Time
}

// GreenDeployed is terminal.
type GreenDeployed struct {
	state ReleaseState
}

// New starts a release. A nil now uses time.Now.
func New(now func() time.Time) Uninitialized {
	if now == nil {
		now = time.Now
	}
	return Uninitialized{now: now}
}

func (u Uninitialized) State() ReleaseState {
	return ReleaseState{Stage: StageUninitialized, ActiveColor: domain.Blue}
}

// DeployBlue records the first build. rec must be Succeeded.
func (u Uninitialized) DeployBlue(rec domain.BuildRecord, label string) (BlueDeployed, error) {
	if err := requireSucceeded(domain.Blue, rec); err != nil {
		return BlueDeployed{}, err
	}
	if label == "" {
		return BlueDeployed{}, fmt.Errorf("blue version label is empty: %w", domain.ErrConfiguration)
	}
	return BlueDeployed{
		now: u.now,
		state: ReleaseState{
			Stage:            StageBlueDeployed,
			ActiveColor:      domain.Blue,
			BlueVersionLabel: label,
			BlueBuild:        rec.ID,
			LastTransitionAt: u.now(),
		},
	}, nil
}

func (b BlueDeployed) State() ReleaseState { return b.state }

// AuthorGreen marks the green version as written. No external confirmation is needed.
func (b BlueDeployed) AuthorGreen(label string) (GreenPending, error) {
	if label == "" {
		return GreenPending{}, fmt.Errorf("green version label is empty: %w", domain.ErrConfiguration)
	}
	if label == b.state.BlueVersionLabel {
		return GreenPending{}, fmt.Errorf("green version label %q equals the blue one: %w", label, domain.ErrConfiguration)
	}
	s := b.state
	s.Stage = StageGreenPending
	s.GreenVersionLabel = label
	s.LastTransitionAt = b.now()
	return GreenPending{state: s, now: b.now}, nil
}

func (g GreenPending) State() ReleaseState { return g.state }

// CompleteGreen records the second build and makes green active. On error the caller
// keeps g, and blue stays the active deployment.
func (g GreenPending) CompleteGreen(rec domain.BuildRecord) (GreenDeployed, error) {
	if err := requireSucceeded(domain.Green, rec); err != nil {
		return GreenDeployed{}, err
	}
	if rec.ID == g.state.BlueBuild {
		return GreenDeployed{}, fmt.Errorf("green build #%s is the blue build: %w", rec.ID, domain.ErrBuildFailure)
	}
	s := g.state
	s.Stage = StageGreenDeployed
	s.ActiveColor = domain.Green
	s.GreenBuild = rec.ID
	s.LastTransitionAt = g.now()
	return GreenDeployed{state: s}, nil
}

func (d GreenDeployed) State() ReleaseState { return d.state }

func requireSucceeded(color domain.Color, rec domain.BuildRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%s build has no identifier: %w", color, domain.ErrBuildFailure)
	}
	if rec.Status != domain.BuildSucceeded {
		return fmt.Errorf("%s build #%s ended %s: %w", color, rec.ID, rec.Status, domain.ErrBuildFailure)
	}
	return nil
}
