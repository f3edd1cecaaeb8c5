// Package git validates the repository the pipeline builds from and publishes the
// green version change to it.
package git

import (
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/waabox/bgrelease/internal/domain"
)

// DetectRepository returns the origin remote of the repository containing dir.
func DetectRepository(dir string) (domain.Repository, error) {
	r, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return domain.Repository{}, fmt.Errorf("could not open repository at %s: %w", dir, err)
	}
	remote, err := r.Remote("origin")
	if err != nil {
		return domain.Repository{}, errors.New("no origin remote found in repository")
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return domain.Repository{}, errors.New("origin remote has no URL")
	}
	repo, err := ParseRemoteURL(urls[0])
	if err != nil {
		return domain.Repository{}, err
	}
	if head, err := r.Head(); err == nil && head.Name().IsBranch() {
		repo.Branch = head.Name().Short()
	}
	return repo, nil
}

// ParseRemoteURL parses a git remote URL and returns a Repository.
// Supports HTTPS (https://github.com/owner/repo.git), SSH (git@github.com:owner/repo.git)
// and ssh:// URLs. The URL field preserves the input unchanged.
func ParseRemoteURL(rawURL string) (domain.Repository, error) {
	normalized := strings.TrimSuffix(strings.TrimSpace(rawURL), ".git")
	invalid := func(reason string) (domain.Repository, error) {
		return domain.Repository{}, fmt.Errorf("invalid repository URL %q: %s: %w", rawURL, reason, domain.ErrConfiguration)
	}

	// SSH format: git@github.com:owner/repo
	if strings.HasPrefix(normalized, "git@") {
		trimmed := strings.TrimPrefix(normalized, "git@")
		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			return invalid("missing ':' after host")
		}
		ownerRepo := strings.SplitN(parts[1], "/", 2)
		if len(ownerRepo) != 2 || ownerRepo[0] == "" || ownerRepo[1] == "" {
			return invalid("path is not owner/name")
		}
		return domain.Repository{URL: rawURL, Owner: ownerRepo[0], Name: ownerRepo[1]}, nil
	}

	for _, scheme := range []string{"https://", "http://", "ssh://"} {
		if !strings.HasPrefix(normalized, scheme) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(normalized, scheme), "/", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return invalid("path is not host/owner/name")
		}
		return domain.Repository{URL: rawURL, Owner: parts[1], Name: parts[2]}, nil
	}

	return invalid("unsupported scheme")
}
