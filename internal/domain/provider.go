package domain

import "context"

// CIServer is the port for the continuous-integration collaborator.
// The domain does not know about Jenkins or any specific CI system.
type CIServer interface {
	// Ping checks the API is reachable and returns the server version.
	Ping(ctx context.Context) (string, error)
	// EnsureJob creates the job or reconfigures it when it already exists.
	EnsureJob(ctx context.Context, name string, definition string) (JobHandle, error)
	Trigger(ctx context.Context, job JobHandle) (QueueTicket, error)
	// ResolveTicket returns the build id once the queued build has started.
	// started is false while the item is still waiting in the queue.
	// ErrNotFound means the CI server no longer knows the ticket.
	ResolveTicket(ctx context.Context, ticket QueueTicket) (id BuildID, started bool, err error)
	// LatestBuild returns the most recently created build of the job, if any.
	LatestBuild(ctx context.Context, job JobHandle) (id BuildID, ok bool, err error)
	GetBuildStatus(ctx context.Context, job JobHandle, id BuildID) (BuildRecord, error)
	ResolveInputGate(ctx context.Context, job JobHandle, id BuildID, inputID string, decision Decision) error
}

// Infrastructure is the port for the cluster-orchestration collaborator.
type Infrastructure interface {
	// Preflight verifies tools and credentials without mutating anything.
	Preflight(ctx context.Context) error
	// Provision initiates cluster and CI server setup. The returned handle is not
	// trustworthy until CheckReady reports ready.
	Provision(ctx context.Context, region string) (InfrastructureHandle, error)
	CheckReady(ctx context.Context) (Readiness, error)
	// ReadServiceEndpoint returns the externally reachable URL of a service.
	// present is false while the address is not assigned yet.
	ReadServiceEndpoint(ctx context.Context, name string) (address string, present bool, err error)
	PatchServiceExposure(ctx context.Context, name string, mode ExposureMode) error
	Destroy(ctx context.Context) error
}

// SecretReader reads a single key of a cluster secret.
type SecretReader interface {
	ReadSecret(ctx context.Context, name, key string) (string, error)
}

// Prompt describes what an approval gate is asked to decide.
type Prompt struct {
	Title   string
	Message string
	// Default is the decision taken by non-interactive policies.
	Default Decision
}

// ApprovalGate decides whether the orchestration may proceed at a blocking point.
// It can be backed by a human at a terminal or by an automatic policy.
type ApprovalGate interface {
	RequestDecision(ctx context.Context, prompt Prompt) (Decision, error)
}
