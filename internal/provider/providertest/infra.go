package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/waabox/bgrelease/internal/domain"
)

// FakeInfra is a scripted domain.Infrastructure and domain.SecretReader that records
// every call in order.
type FakeInfra struct {
	mu sync.Mutex

	PreflightErr error
	ProvisionErr error
	DestroyErr   error
	Handle       domain.InfrastructureHandle
	// ReadyAfter makes CheckReady report "not ready" that many times. NeverReady wins.
	ReadyAfter int
	NeverReady bool
	// MissingService makes PatchServiceExposure answer domain.ErrNotFound that many times.
	MissingService int
	Endpoints      map[string]string
	Secrets        map[string]string

	Calls []string
	ready int
}

var (
	_ domain.Infrastructure = (*FakeInfra)(nil)
	_ domain.SecretReader   = (*FakeInfra)(nil)
)

func (f *FakeInfra) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// Recorded returns a copy of the call log.
func (f *FakeInfra) Recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *FakeInfra) Preflight(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("preflight")
	return f.PreflightErr
}

func (f *FakeInfra) Provision(_ context.Context, region string) (domain.InfrastructureHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("provision %s", region)
	if f.ProvisionErr != nil {
		return domain.InfrastructureHandle{}, f.ProvisionErr
	}
	return f.Handle, nil
}

func (f *FakeInfra) CheckReady(context.Context) (domain.Readiness, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ready")
	if f.NeverReady || f.ready < f.ReadyAfter {
		f.ready++
		return domain.Readiness{Detail: "pod jenkins-0 phase Pending"}, nil
	}
	return domain.Readiness{Ready: true, Detail: "pod jenkins-0 ready"}, nil
}

func (f *FakeInfra) ReadServiceEndpoint(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("endpoint %s", name)
	addr, ok := f.Endpoints[name]
	return addr, ok, nil
}

func (f *FakeInfra) PatchServiceExposure(_ context.Context, name string, mode domain.ExposureMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("expose %s %s", name, mode)
	if f.MissingService > 0 {
		f.MissingService--
		return fmt.Errorf("service %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

func (f *FakeInfra) ReadSecret(_ context.Context, name, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("secret %s/%s", name, key)
	v, ok := f.Secrets[name+"/"+key]
	if !ok {
		return "", fmt.Errorf("secret %s key %s: %w", name, key, domain.ErrNotFound)
	}
	return v, nil
}

func (f *FakeInfra) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("destroy")
	return f.DestroyErr
}
