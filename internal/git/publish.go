package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/waabox/bgrelease/internal/domain"
)

// Signature identifies the author of published commits.
type Signature struct {
	Name  string
	Email string
}

// Credentials selects how pushes authenticate. With neither set, SSH remotes use the
// running ssh-agent.
type Credentials struct {
	Token      string
	SSHKeyPath string
}

func (c Credentials) authMethod() (transport.AuthMethod, error) {
	switch {
	case c.Token != "":
		return &githttp.BasicAuth{Username: "bgrelease", Password: c.Token}, nil
	case c.SSHKeyPath != "":
		keys, err := ssh.NewPublicKeysFromFile("git", c.SSHKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("loading ssh key %s: %w", c.SSHKeyPath, err)
		}
		return keys, nil
	}
	return nil, nil
}

// Publisher commits files of a local checkout and pushes the current branch.
type Publisher struct {
	dir    string
	remote string
	branch string
	author Signature
	creds  Credentials
	now    func() time.Time
}

// NewPublisher creates a Publisher for the checkout containing dir. Pushes go to remote
// and are refused unless the checkout is on branch.
func NewPublisher(dir, remote, branch string, author Signature, creds Credentials) *Publisher {
	return &Publisher{dir: dir, remote: remote, branch: branch, author: author, creds: creds, now: time.Now}
}

// CommitAndPush stages paths, commits them and pushes the branch. If the files are
// already committed the existing HEAD is pushed. Returns the pushed commit hash.
func (p *Publisher) CommitAndPush(ctx context.Context, paths []string, message string) (string, error) {
	r, err := gogit.PlainOpenWithOptions(p.dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("failed to open repo: %w", err)
	}
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if !head.Name().IsBranch() || head.Name().Short() != p.branch {
		return "", fmt.Errorf("checkout is on %s, pipeline builds %s: %w", head.Name().Short(), p.branch, domain.ErrConfiguration)
	}

	w, err := r.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	root := w.Filesystem.Root()
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%s is outside the repository at %s: %w", path, root, domain.ErrConfiguration)
		}
		if _, err := w.Add(filepath.ToSlash(rel)); err != nil {
			return "", fmt.Errorf("failed to add file %s: %w", rel, err)
		}
	}

	hash := head.Hash()
	commit, err := w.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  p.author.Name,
			Email: p.author.Email,
			When:  p.now(),
		},
	})
	switch {
	case errors.Is(err, gogit.ErrEmptyCommit):
	case err != nil:
		return "", fmt.Errorf("failed to commit: %w", err)
	default:
		hash = commit
	}

	auth, err := p.creds.authMethod()
	if err != nil {
		return "", err
	}
	ref := head.Name().String()
	err = r.PushContext(ctx, &gogit.PushOptions{
		RemoteName: p.remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("failed to push %s to %s: %w", p.branch, p.remote, err)
	}
	return hash.String(), nil
}
