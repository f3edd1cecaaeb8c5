// Package auth resolves the CI server credentials of a run.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/waabox/bgrelease/internal/domain"
)

// Credentials authenticate against the CI server.
type Credentials struct {
	User     string
	Password string
}

// CredentialManager hands out the CI admin credentials. A password from the
// configuration is used as is; otherwise it is read from the cluster secret the chart
// generates, and re-read when the server rejects it.
type CredentialManager struct {
	secrets    domain.SecretReader
	user       string
	configured string
	secretName string
	secretKey  string

	mu      sync.Mutex
	current string
}

// NewCredentialManager creates a CredentialManager. secrets may be nil when the CI
// server is not running on a cluster this run can read.
func NewCredentialManager(secrets domain.SecretReader, user, configuredPassword, secretName, secretKey string) *CredentialManager {
	return &CredentialManager{
		secrets:    secrets,
		user:       user,
		configured: configuredPassword,
		secretName: secretName,
		secretKey:  secretKey,
	}
}

// Resolve returns the credentials, reading the secret on first use.
func (cm *CredentialManager) Resolve(ctx context.Context) (Credentials, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.current == "" {
		if cm.configured != "" {
			cm.current = cm.configured
		} else {
			password, err := cm.readSecret(ctx)
			if err != nil {
				return Credentials{}, err
			}
			cm.current = password
		}
	}
	return Credentials{User: cm.user, Password: cm.current}, nil
}

// Refresh re-reads the password from the cluster secret and returns it.
func (cm *CredentialManager) Refresh(ctx context.Context) (string, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	password, err := cm.readSecret(ctx)
	if err != nil {
		return "", err
	}
	cm.current = password
	return password, nil
}

func (cm *CredentialManager) readSecret(ctx context.Context) (string, error) {
	if cm.secrets == nil {
		return "", fmt.Errorf("no CI password configured and no cluster secret to read it from (set JENKINS_PASSWORD): %w", domain.ErrConfiguration)
	}
	password, err := cm.secrets.ReadSecret(ctx, cm.secretName, cm.secretKey)
	if err != nil {
		return "", fmt.Errorf("reading CI admin password from secret %s: %w", cm.secretName, err)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return "", fmt.Errorf("secret %s key %s is empty: %w", cm.secretName, cm.secretKey, domain.ErrConfiguration)
	}
	return password, nil
}
