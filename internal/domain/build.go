package domain

import "time"

// BuildStatus represents the lifecycle state of a single CI build.
type BuildStatus string

const (
	BuildQueued         BuildStatus = "queued"
	BuildRunning        BuildStatus = "running"
	BuildPausedForInput BuildStatus = "paused"
	BuildSucceeded      BuildStatus = "succeeded"
	BuildFailed         BuildStatus = "failed"
)

// Terminal reports whether no further transition is expected from s.
func (s BuildStatus) Terminal() bool {
	return s == BuildSucceeded || s == BuildFailed
}

// BuildID is the CI-assigned build number, known once the build leaves the queue.
type BuildID string

// QueueTicket is the opaque handle returned when a build is requested.
type QueueTicket string

// JobHandle identifies a configured CI job.
type JobHandle struct {
	Name string
	URL  string
}

// BuildRecord is a snapshot of one build as reported by the CI server.
type BuildRecord struct {
	ID        BuildID
	Ticket    QueueTicket
	Job       string
	Status    BuildStatus
	InputID   string // set only while Status is BuildPausedForInput
	Result    string // raw CI result string, e.g. "SUCCESS", "ABORTED"
	StartedAt time.Time
	// Inferred is true when the build was bound through the "latest build of the job"
	// fallback instead of its queue ticket. Ambiguous is true when more than one build
	// appeared since the trigger, so the binding may point at someone else's build.
	Inferred  bool
	Ambiguous bool
}

// Decision is the answer to an approval request.
type Decision string

const (
	Proceed Decision = "proceed"
	Abort   Decision = "abort"
)

// Color names one of the two release slots.
type Color string

const (
	Blue  Color = "blue"
	Green Color = "green"
)
