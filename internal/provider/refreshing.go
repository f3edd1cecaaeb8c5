// Package provider holds the CI and infrastructure collaborator plumbing shared by
// the concrete adapters.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/waabox/bgrelease/internal/domain"
)

// CredentialsRejectedError is returned when the CI server still rejects the request
// after the credentials were re-read.
type CredentialsRejectedError struct {
	Server string
}

func (e *CredentialsRejectedError) Error() string {
	return fmt.Sprintf("%s rejected the credentials after they were refreshed", e.Server)
}

// Unwrap keeps errors.Is(err, domain.ErrUnauthorized) true.
func (e *CredentialsRejectedError) Unwrap() error {
	return domain.ErrUnauthorized
}

// RefreshingCI wraps a CIServer and handles 401 errors by re-reading the credentials
// once and retrying. The Jenkins chart regenerates the admin password when the
// controller is reinstalled, so a password read before a restart can go stale.
type RefreshingCI struct {
	inner          domain.CIServer
	server         string
	refreshFn      func(ctx context.Context) (string, error)
	updatePassword func(string)
}

// Ensure RefreshingCI implements CIServer.
var _ domain.CIServer = (*RefreshingCI)(nil)

// NewRefreshingCI creates a RefreshingCI.
// refreshFn is called on 401 and returns the current password.
// updatePassword injects it into the wrapped adapter.
func NewRefreshingCI(
	inner domain.CIServer,
	serverName string,
	refreshFn func(ctx context.Context) (string, error),
	updatePassword func(string),
) *RefreshingCI {
	return &RefreshingCI{
		inner:          inner,
		server:         serverName,
		refreshFn:      refreshFn,
		updatePassword: updatePassword,
	}
}

func (rc *RefreshingCI) handleUnauthorized(ctx context.Context, retry func() error) error {
	password, refreshErr := rc.refreshFn(ctx)
	if refreshErr != nil {
		return fmt.Errorf("refreshing %s credentials: %w", rc.server, refreshErr)
	}
	rc.updatePassword(password)
	if err := retry(); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return &CredentialsRejectedError{Server: rc.server}
		}
		return err
	}
	return nil
}

// call runs fn and, on a 401, runs it once more after refreshing.
func call[T any](ctx context.Context, rc *RefreshingCI, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err != nil && errors.Is(err, domain.ErrUnauthorized) {
		var retryResult T
		retryErr := rc.handleUnauthorized(ctx, func() error {
			var e error
			retryResult, e = fn()
			return e
		})
		if retryErr != nil {
			var zero T
			return zero, retryErr
		}
		return retryResult, nil
	}
	return result, err
}

func (rc *RefreshingCI) Ping(ctx context.Context) (string, error) {
	return call(ctx, rc, func() (string, error) { return rc.inner.Ping(ctx) })
}

func (rc *RefreshingCI) EnsureJob(ctx context.Context, name string, definition string) (domain.JobHandle, error) {
	return call(ctx, rc, func() (domain.JobHandle, error) { return rc.inner.EnsureJob(ctx, name, definition) })
}

func (rc *RefreshingCI) Trigger(ctx context.Context, job domain.JobHandle) (domain.QueueTicket, error) {
	return call(ctx, rc, func() (domain.QueueTicket, error) { return rc.inner.Trigger(ctx, job) })
}

type ticketResult struct {
	id      domain.BuildID
	started bool
}

func (rc *RefreshingCI) ResolveTicket(ctx context.Context, ticket domain.QueueTicket) (domain.BuildID, bool, error) {
	r, err := call(ctx, rc, func() (ticketResult, error) {
		id, started, err := rc.inner.ResolveTicket(ctx, ticket)
		return ticketResult{id, started}, err
	})
	return r.id, r.started, err
}

func (rc *RefreshingCI) LatestBuild(ctx context.Context, job domain.JobHandle) (domain.BuildID, bool, error) {
	r, err := call(ctx, rc, func() (ticketResult, error) {
		id, ok, err := rc.inner.LatestBuild(ctx, job)
		return ticketResult{id, ok}, err
	})
	return r.id, r.started, err
}

func (rc *RefreshingCI) GetBuildStatus(ctx context.Context, job domain.JobHandle, id domain.BuildID) (domain.BuildRecord, error) {
	return call(ctx, rc, func() (domain.BuildRecord, error) { return rc.inner.GetBuildStatus(ctx, job, id) })
}

func (rc *RefreshingCI) ResolveInputGate(ctx context.Context, job domain.JobHandle, id domain.BuildID, inputID string, decision domain.Decision) error {
	_, err := call(ctx, rc, func() (struct{}, error) {
		return struct{}{}, rc.inner.ResolveInputGate(ctx, job, id, inputID, decision)
	})
	return err
}
