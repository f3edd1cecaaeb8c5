package domain

import "sort"

// Well-known InfrastructureHandle keys.
const (
	HandleRegion               = "region"
	HandleAccountID            = "account_id"
	HandleClusterEndpoint      = "cluster_endpoint"
	HandleRoleARN              = "role_arn"
	HandleNodeAddress          = "node_address"
	HandleCIEndpoint           = "ci_endpoint"
	HandleActiveServiceAddress = "active_service_address"
)

// InfrastructureHandle is the read-only bag of identifiers and addresses produced by
// provisioning. The zero value is an empty, unset handle.
type InfrastructureHandle struct {
	values map[string]string
}

// NewInfrastructureHandle copies values into a new handle.
func NewInfrastructureHandle(values map[string]string) InfrastructureHandle {
	h := InfrastructureHandle{values: make(map[string]string, len(values))}
	for k, v := range values {
		h.values[k] = v
	}
	return h
}

// Get returns the value stored under key.
func (h InfrastructureHandle) Get(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// With returns a copy of h with key set to value. h itself is not modified.
func (h InfrastructureHandle) With(key, value string) InfrastructureHandle {
	next := NewInfrastructureHandle(h.values)
	next.values[key] = value
	return next
}

// IsSet reports whether the handle holds any value.
func (h InfrastructureHandle) IsSet() bool {
	return len(h.values) > 0
}

// ActiveServiceAddress returns the externally reachable address of the active service.
// Every phase reads it from here instead of re-deriving it.
func (h InfrastructureHandle) ActiveServiceAddress() (string, bool) {
	return h.Get(HandleActiveServiceAddress)
}

// Keys returns the stored keys in sorted order.
func (h InfrastructureHandle) Keys() []string {
	keys := make([]string, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExposureMode is the Kubernetes service type used to expose a service.
type ExposureMode string

const (
	ExposureClusterIP    ExposureMode = "ClusterIP"
	ExposureNodePort     ExposureMode = "NodePort"
	ExposureLoadBalancer ExposureMode = "LoadBalancer"
)

// Readiness is the answer of a readiness predicate.
type Readiness struct {
	Ready bool
	// Detail describes the last observed state, e.g. "pod jenkins-0 in phase Pending".
	Detail string
}
