package depresolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Fetcher materializes a dependency source into dest.
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string) error
}

// GitFetcher clones dependency repositories with go-git.
type GitFetcher struct {
	auth transport.AuthMethod
}

// NewGitFetcher creates a fetcher that picks up credentials from the
// environment (GIT_TOKEN, GITHUB_TOKEN) or the user's SSH keys.
func NewGitFetcher() *GitFetcher {
	f := &GitFetcher{}
	f.setupAuth()
	return f
}

// Fetch performs a shallow clone of source into dest. A failed clone leaves
// nothing behind.
func (f *GitFetcher) Fetch(ctx context.Context, source, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:          source,
		Auth:         f.authFor(source),
		SingleBranch: true,
		Depth:        1,
	})
	if err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("clone %s: %w", source, err)
	}
	return nil
}

func (f *GitFetcher) authFor(source string) transport.AuthMethod {
	if f.auth == nil {
		return nil
	}
	_, isSSH := f.auth.(*ssh.PublicKeys)
	sshURL := strings.HasPrefix(source, "git@") || strings.HasPrefix(source, "ssh://")
	if isSSH != sshURL {
		return nil
	}
	return f.auth
}

func (f *GitFetcher) setupAuth() {
	if token := os.Getenv("GIT_TOKEN"); token != "" {
		f.auth = &http.BasicAuth{Username: "git", Password: token}
		return
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		f.auth = &http.BasicAuth{Username: "x-access-token", Password: token}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		keyPath := filepath.Join(homeDir, ".ssh", name)
		if _, err := os.Stat(keyPath); err != nil {
			continue
		}
		if auth, err := ssh.NewPublicKeysFromFile("git", keyPath, ""); err == nil {
			f.auth = auth
			return
		}
	}
}
