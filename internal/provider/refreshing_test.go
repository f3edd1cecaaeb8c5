package provider_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/provider"
	"github.com/waabox/bgrelease/internal/provider/providertest"
)

// failingCI rejects every call until its password matches.
type failingCI struct {
	providertest.FakeCI
	password string
	want     string
	calls    int
}

func (f *failingCI) Ping(ctx context.Context) (string, error) {
	f.calls++
	if f.password != f.want {
		return "", fmt.Errorf("jenkins API error: 401 Unauthorized: %w", domain.ErrUnauthorized)
	}
	return "2.452.1", nil
}

func (f *failingCI) ResolveTicket(ctx context.Context, ticket domain.QueueTicket) (domain.BuildID, bool, error) {
	f.calls++
	if f.password != f.want {
		return "", false, fmt.Errorf("jenkins API error: 401 Unauthorized: %w", domain.ErrUnauthorized)
	}
	return "12", true, nil
}

func TestRefreshingCI_PassesThroughOnSuccess(t *testing.T) {
	inner := &failingCI{password: "ok", want: "ok"}
	rc := provider.NewRefreshingCI(inner, "jenkins",
		func(context.Context) (string, error) { t.Fatal("refresh must not be called"); return "", nil },
		func(string) {},
	)

	version, err := rc.Ping(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != "2.452.1" {
		t.Errorf("unexpected version %q", version)
	}
}

func TestRefreshingCI_PassesThroughNon401Errors(t *testing.T) {
	inner := &providertest.FakeCI{TriggerErr: errors.New("network timeout")}
	rc := provider.NewRefreshingCI(inner, "jenkins",
		func(context.Context) (string, error) { return "", nil },
		func(string) {},
	)

	_, err := rc.Trigger(context.Background(), domain.JobHandle{Name: "job"})
	if err == nil || err.Error() != "network timeout" {
		t.Fatalf("expected 'network timeout', got: %v", err)
	}
}

func TestRefreshingCI_RefreshesAndRetriesOn401(t *testing.T) {
	inner := &failingCI{password: "stale", want: "fresh"}
	refreshCalled := false
	rc := provider.NewRefreshingCI(inner, "jenkins",
		func(context.Context) (string, error) {
			refreshCalled = true
			return "fresh", nil
		},
		func(p string) { inner.password = p },
	)

	id, started, err := rc.ResolveTicket(context.Background(), "5")
	if err != nil {
		t.Fatalf("unexpected error after refresh: %v", err)
	}
	if !refreshCalled {
		t.Error("expected refresh to be called")
	}
	if id != "12" || !started {
		t.Errorf("unexpected result id=%s started=%v", id, started)
	}
	if inner.calls != 2 {
		t.Errorf("expected exactly one retry, got %d calls", inner.calls)
	}
}

func TestRefreshingCI_RejectedAfterRefresh(t *testing.T) {
	inner := &failingCI{password: "stale", want: "never"}
	rc := provider.NewRefreshingCI(inner, "jenkins",
		func(context.Context) (string, error) { return "still-wrong", nil },
		func(p string) { inner.password = p },
	)

	_, err := rc.Ping(context.Background())
	var rejected *provider.CredentialsRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected CredentialsRejectedError, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Error("expected rejection to match ErrUnauthorized")
	}
	if inner.calls != 2 {
		t.Errorf("expected one retry, got %d calls", inner.calls)
	}
}

func TestRefreshingCI_RefreshFailure(t *testing.T) {
	inner := &failingCI{password: "stale", want: "fresh"}
	rc := provider.NewRefreshingCI(inner, "jenkins",
		func(context.Context) (string, error) { return "", fmt.Errorf("secret gone: %w", domain.ErrNotFound) },
		func(string) { t.Fatal("password must not be updated") },
	)

	_, err := rc.Ping(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected refresh cause, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected no retry, got %d calls", inner.calls)
	}
}
