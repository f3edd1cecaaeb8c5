// Package providertest provides scripted in-memory collaborators for tests.
package providertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/waabox/bgrelease/internal/domain"
)

// Resolution records one ResolveInputGate call.
type Resolution struct {
	Build    domain.BuildID
	InputID  string
	Decision domain.Decision
}

type fakeBuild struct {
	id       domain.BuildID
	script   []domain.BuildRecord
	pos      int
	queueFor int
}

// FakeCI is a scripted domain.CIServer. Each Trigger consumes the next entry of
// Scripts; GetBuildStatus walks that script one entry per call and repeats the last.
type FakeCI struct {
	mu sync.Mutex

	Version string
	// PingFailures makes the first N Ping calls fail with domain.ErrUnavailable.
	PingFailures int
	Scripts      [][]domain.BuildRecord
	// QueueChecks is how many ResolveTicket calls report "still queued" per build.
	QueueChecks int
	// LoseTickets makes ResolveTicket answer domain.ErrNotFound.
	LoseTickets bool
	// ExtraBuilds simulates builds triggered by someone else right after ours.
	ExtraBuilds int
	TriggerErr  error

	Jobs        map[string]string
	Resolutions []Resolution
	Triggered   int
	PingCalls   int

	lastBuild int
	byTicket  map[domain.QueueTicket]*fakeBuild
	byID      map[domain.BuildID]*fakeBuild
}

var _ domain.CIServer = (*FakeCI)(nil)

func (f *FakeCI) init() {
	if f.byTicket == nil {
		f.byTicket = map[domain.QueueTicket]*fakeBuild{}
		f.byID = map[domain.BuildID]*fakeBuild{}
	}
	if f.Jobs == nil {
		f.Jobs = map[string]string{}
	}
}

func (f *FakeCI) Ping(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PingCalls++
	if f.PingCalls <= f.PingFailures {
		return "", fmt.Errorf("connection refused: %w", domain.ErrUnavailable)
	}
	return f.Version, nil
}

func (f *FakeCI) EnsureJob(_ context.Context, name string, definition string) (domain.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.Jobs[name] = definition
	return domain.JobHandle{Name: name, URL: "http://ci.test/job/" + name + "/"}, nil
}

func (f *FakeCI) Trigger(_ context.Context, _ domain.JobHandle) (domain.QueueTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	if f.TriggerErr != nil {
		return "", f.TriggerErr
	}
	if f.Triggered >= len(f.Scripts) {
		return "", fmt.Errorf("no build script left for trigger %d", f.Triggered+1)
	}
	f.lastBuild++
	b := &fakeBuild{
		id:       domain.BuildID(strconv.Itoa(f.lastBuild)),
		script:   f.Scripts[f.Triggered],
		queueFor: f.QueueChecks,
	}
	f.Triggered++
	ticket := domain.QueueTicket(strconv.Itoa(100 + f.Triggered))
	f.byTicket[ticket] = b
	f.byID[b.id] = b
	f.lastBuild += f.ExtraBuilds
	return ticket, nil
}

func (f *FakeCI) ResolveTicket(_ context.Context, ticket domain.QueueTicket) (domain.BuildID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	if f.LoseTickets {
		return "", false, fmt.Errorf("queue item %s: %w", ticket, domain.ErrNotFound)
	}
	b, ok := f.byTicket[ticket]
	if !ok {
		return "", false, fmt.Errorf("queue item %s: %w", ticket, domain.ErrNotFound)
	}
	if b.queueFor > 0 {
		b.queueFor--
		return "", false, nil
	}
	return b.id, true, nil
}

func (f *FakeCI) LatestBuild(_ context.Context, _ domain.JobHandle) (domain.BuildID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastBuild == 0 {
		return "", false, nil
	}
	return domain.BuildID(strconv.Itoa(f.lastBuild)), true, nil
}

func (f *FakeCI) GetBuildStatus(_ context.Context, job domain.JobHandle, id domain.BuildID) (domain.BuildRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	b, ok := f.byID[id]
	if !ok {
		return domain.BuildRecord{}, fmt.Errorf("build %s: %w", id, domain.ErrNotFound)
	}
	rec := b.script[b.pos]
	if b.pos < len(b.script)-1 {
		b.pos++
	}
	rec.ID = id
	rec.Job = job.Name
	return rec, nil
}

func (f *FakeCI) ResolveInputGate(_ context.Context, _ domain.JobHandle, id domain.BuildID, inputID string, decision domain.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resolutions = append(f.Resolutions, Resolution{Build: id, InputID: inputID, Decision: decision})
	return nil
}

// Running, Paused, Succeeded and Failed build script entries.
func Running() domain.BuildRecord { return domain.BuildRecord{Status: domain.BuildRunning} }

func Paused(inputID string) domain.BuildRecord {
	return domain.BuildRecord{Status: domain.BuildPausedForInput, InputID: inputID}
}

func Succeeded() domain.BuildRecord {
	return domain.BuildRecord{Status: domain.BuildSucceeded, Result: "SUCCESS"}
}

func Failed() domain.BuildRecord {
	return domain.BuildRecord{Status: domain.BuildFailed, Result: "FAILURE"}
}
