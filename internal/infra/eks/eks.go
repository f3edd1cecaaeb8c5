// Package eks checks an existing EKS cluster with the AWS SDK. It never creates or
// deletes clusters.
package eks

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/waabox/bgrelease/internal/domain"
)

// IdentityAPI is the subset of the STS client used here.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// ClusterAPI is the subset of the EKS client used here.
type ClusterAPI interface {
	DescribeCluster(ctx context.Context, in *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
}

// ClusterInfo is what DescribeCluster reports about an active cluster.
type ClusterInfo struct {
	Name     string
	Endpoint string
	RoleARN  string
	Version  string
}

// Cluster checks one EKS cluster of one account.
type Cluster struct {
	identity  IdentityAPI
	clusters  ClusterAPI
	name      string
	accountID string
}

// New creates a Cluster from existing clients.
func New(identity IdentityAPI, clusters ClusterAPI, name, accountID string) *Cluster {
	return &Cluster{identity: identity, clusters: clusters, name: name, accountID: accountID}
}

// Open loads the default AWS configuration (environment, shared files, instance role)
// for region and creates the clients.
func Open(ctx context.Context, region, name, accountID string) (*Cluster, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws configuration: %v: %w", err, domain.ErrExternalToolUnavailable)
	}
	return New(sts.NewFromConfig(cfg), eks.NewFromConfig(cfg), name, accountID), nil
}

// VerifyAccount checks the credentials belong to the expected account.
func (c *Cluster) VerifyAccount(ctx context.Context) error {
	out, err := c.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("reading aws caller identity: %v: %w", err, domain.ErrExternalToolUnavailable)
	}
	if got := aws.ToString(out.Account); got != c.accountID {
		return fmt.Errorf("aws credentials belong to account %s, expected %s: %w", got, c.accountID, domain.ErrConfiguration)
	}
	return nil
}

// Describe returns the cluster when it is ACTIVE. Clusters still creating or updating
// are domain.ErrUnavailable so that callers can keep polling.
func (c *Cluster) Describe(ctx context.Context) (ClusterInfo, error) {
	out, err := c.clusters.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(c.name)})
	if err != nil {
		var notFound *ekstypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return ClusterInfo{}, fmt.Errorf("eks cluster %s does not exist: %w", c.name, domain.ErrConfiguration)
		}
		return ClusterInfo{}, fmt.Errorf("describing eks cluster %s: %v: %w", c.name, err, domain.ErrUnavailable)
	}
	cl := out.Cluster
	if cl == nil {
		return ClusterInfo{}, fmt.Errorf("describing eks cluster %s: empty answer: %w", c.name, domain.ErrUnavailable)
	}
	switch cl.Status {
	case ekstypes.ClusterStatusActive:
	case ekstypes.ClusterStatusCreating, ekstypes.ClusterStatusUpdating, ekstypes.ClusterStatusPending:
		return ClusterInfo{}, fmt.Errorf("eks cluster %s is %s: %w", c.name, cl.Status, domain.ErrUnavailable)
	default:
		return ClusterInfo{}, fmt.Errorf("eks cluster %s is %s: %w", c.name, cl.Status, domain.ErrConfiguration)
	}
	return ClusterInfo{
		Name:     aws.ToString(cl.Name),
		Endpoint: aws.ToString(cl.Endpoint),
		RoleARN:  aws.ToString(cl.RoleArn),
		Version:  aws.ToString(cl.Version),
	}, nil
}
