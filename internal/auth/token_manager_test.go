package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/waabox/bgrelease/internal/auth"
	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/provider/providertest"
)

func TestCredentialManager_ConfiguredPasswordWins(t *testing.T) {
	infra := &providertest.FakeInfra{Secrets: map[string]string{"jenkins/jenkins-admin-password": "from-secret"}}
	cm := auth.NewCredentialManager(infra, "admin", "from-config", "jenkins", "jenkins-admin-password")

	creds, err := cm.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.User != "admin" || creds.Password != "from-config" {
		t.Errorf("unexpected credentials %+v", creds)
	}
	if len(infra.Recorded()) != 0 {
		t.Errorf("secret must not be read, got calls %v", infra.Recorded())
	}
}

func TestCredentialManager_ReadsSecretOnce(t *testing.T) {
	infra := &providertest.FakeInfra{Secrets: map[string]string{"jenkins/jenkins-admin-password": "s3cret\n"}}
	cm := auth.NewCredentialManager(infra, "admin", "", "jenkins", "jenkins-admin-password")

	for i := 0; i < 2; i++ {
		creds, err := cm.Resolve(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if creds.Password != "s3cret" {
			t.Errorf("expected trimmed secret, got %q", creds.Password)
		}
	}
	if n := len(infra.Recorded()); n != 1 {
		t.Errorf("expected one secret read, got %d", n)
	}
}

func TestCredentialManager_RefreshRereadsSecret(t *testing.T) {
	infra := &providertest.FakeInfra{Secrets: map[string]string{"jenkins/jenkins-admin-password": "old"}}
	cm := auth.NewCredentialManager(infra, "admin", "", "jenkins", "jenkins-admin-password")
	if _, err := cm.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}

	infra.Secrets["jenkins/jenkins-admin-password"] = "new"
	password, err := cm.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if password != "new" {
		t.Errorf("expected refreshed password 'new', got %q", password)
	}
	creds, _ := cm.Resolve(context.Background())
	if creds.Password != "new" {
		t.Errorf("expected Resolve to return the refreshed password, got %q", creds.Password)
	}
}

func TestCredentialManager_NoSourceIsConfigurationError(t *testing.T) {
	cm := auth.NewCredentialManager(nil, "admin", "", "jenkins", "jenkins-admin-password")

	if _, err := cm.Resolve(context.Background()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := cm.Refresh(context.Background()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error from refresh, got %v", err)
	}
}

func TestCredentialManager_MissingSecret(t *testing.T) {
	cm := auth.NewCredentialManager(&providertest.FakeInfra{}, "admin", "", "jenkins", "jenkins-admin-password")

	if _, err := cm.Resolve(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
