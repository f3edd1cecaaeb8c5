package infra

import (
	"context"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/infra/eks"
	"github.com/waabox/bgrelease/internal/infra/minikube"
)

// Minikube is the local backend. Teardown deletes the whole profile and never fails.
type Minikube struct {
	cluster *minikube.Cluster
	logger  *zap.Logger
}

// NewMinikube wraps a minikube profile.
func NewMinikube(cluster *minikube.Cluster, logger *zap.Logger) *Minikube {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Minikube{cluster: cluster, logger: logger}
}

func (m *Minikube) Preflight(context.Context) error {
	return m.cluster.Check()
}

func (m *Minikube) Start(ctx context.Context, _ string) (map[string]string, error) {
	if err := m.cluster.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"minikube_profile": m.cluster.Profile().Name}, nil
}

func (m *Minikube) NodeAddress(ctx context.Context) (string, error) {
	return m.cluster.IP(ctx)
}

func (m *Minikube) Teardown(ctx context.Context) (bool, error) {
	if !m.cluster.Delete(ctx) {
		m.logger.Warn("minikube profile was not deleted, remove it manually", zap.String("profile", m.cluster.Profile().Name))
	}
	return true, nil
}

// EKS is the cloud backend. It uses an existing cluster and never deletes it.
type EKS struct {
	cluster   *eks.Cluster
	accountID string
}

// NewEKS wraps an EKS cluster.
func NewEKS(cluster *eks.Cluster, accountID string) *EKS {
	return &EKS{cluster: cluster, accountID: accountID}
}

func (e *EKS) Preflight(ctx context.Context) error {
	return e.cluster.VerifyAccount(ctx)
}

func (e *EKS) Start(ctx context.Context, region string) (map[string]string, error) {
	info, err := e.cluster.Describe(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		domain.HandleAccountID:       e.accountID,
		domain.HandleClusterEndpoint: info.Endpoint,
		domain.HandleRoleARN:         info.RoleARN,
	}, nil
}

// NodeAddress is empty: services on EKS are reached through their load balancer.
func (e *EKS) NodeAddress(context.Context) (string, error) {
	return "", nil
}

func (e *EKS) Teardown(context.Context) (bool, error) {
	return false, nil
}
