package gitstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/fntb/stac-repository/internal/apperrors"
	"github.com/fntb/stac-repository/internal/backend"
)

const msgRemoteRepoEmpty = "remote repository is empty"

// RemoteConfig holds credentials for remote git transfers.
type RemoteConfig struct {
	Password string // password/token for HTTPS auth (STAC_GIT_PASS)
	User     string // SSH user, defaults to "git"
}

// LoadRemoteConfigFromEnv loads remote transfer credentials from the environment.
func LoadRemoteConfigFromEnv() *RemoteConfig {
	cfg := &RemoteConfig{
		Password: os.Getenv("STAC_GIT_PASS"),
		User:     os.Getenv("STAC_GIT_USER"),
	}
	if cfg.User == "" {
		cfg.User = "git"
	}
	return cfg
}

// auth returns the transport auth for a remote URL: ssh-agent auth for SSH
// remotes, basic auth for HTTPS, none for local paths.
func (c *RemoteConfig) auth(remote string) (transport.AuthMethod, error) {
	switch {
	case isSSHRemote(remote):
		user := "git"
		if c != nil && c.User != "" {
			user = c.User
		}
		auth, err := ssh.NewSSHAgentAuth(user)
		if err != nil {
			return nil, fmt.Errorf("create SSH agent auth: %w", err)
		}
		return auth, nil
	case strings.HasPrefix(remote, "https://"), strings.HasPrefix(remote, "http://"):
		if c == nil || c.Password == "" {
			return nil, apperrors.ErrHTTPSPasswordRequired
		}
		return &http.BasicAuth{
			Username: "oauth2",
			Password: c.Password,
		}, nil
	default:
		return nil, nil
	}
}

func isSSHRemote(remote string) bool {
	return strings.HasPrefix(remote, "git@") || strings.HasPrefix(remote, "ssh://")
}

// isLocalRemote reports whether the remote is a plain filesystem path.
func isLocalRemote(remote string) bool {
	if isSSHRemote(remote) {
		return false
	}
	u, err := url.Parse(remote)
	if err != nil {
		return true
	}
	return u.Scheme == "" || u.Scheme == "file"
}

func localRemotePath(remote string) string {
	return strings.TrimPrefix(remote, "file://")
}

// remoteLFSDir locates the lfs object store of a local remote, which sits in
// the repository root for bare remotes and under .git otherwise.
func remoteLFSDir(remotePath string) string {
	gitDir := filepath.Join(remotePath, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		return filepath.Join(gitDir, lfsObjectsDir)
	}
	return filepath.Join(remotePath, lfsObjectsDir)
}

// Sync transfers history between the store and a remote location. Local
// remotes that do not exist yet are created bare on first push, so a push to
// a fresh backup location bootstraps it. LFS objects are mirrored alongside
// for local remotes; ssh/https remotes are expected to run their own LFS
// endpoint.
func (s *Store) Sync(ctx context.Context, remote string, direction backend.SyncDirection) error {
	if remote == "" {
		return apperrors.ErrRemoteNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.remoteAuth(remote)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "syncing", "remote", remote, "direction", direction.String())

	if direction == backend.SyncPull {
		return s.pull(ctx, remote, auth)
	}
	return s.push(ctx, remote, auth)
}

func (s *Store) remoteAuth(remote string) (transport.AuthMethod, error) {
	cfg := s.remote
	if cfg == nil {
		cfg = LoadRemoteConfigFromEnv()
	}
	return cfg.auth(remote)
}

// ensureOriginRemote points the origin remote at url, creating or replacing
// it as needed, so push/pull can run with the default remote machinery.
func (s *Store) ensureOriginRemote(url string) error {
	if existing, err := s.repo.Remote("origin"); err == nil {
		cfg := existing.Config()
		if len(cfg.URLs) == 1 && cfg.URLs[0] == url {
			return nil
		}
		if err := s.repo.DeleteRemote("origin"); err != nil {
			return apperrors.BackendIO("replace origin remote", err)
		}
	}
	if _, err := s.repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	}); err != nil {
		return apperrors.BackendIO("add origin remote", err)
	}
	return nil
}

func (s *Store) push(ctx context.Context, remote string, auth transport.AuthMethod) error {
	if isLocalRemote(remote) {
		if err := ensureLocalRemote(localRemotePath(remote)); err != nil {
			return err
		}
	}
	if err := s.ensureOriginRemote(remote); err != nil {
		return err
	}

	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return apperrors.BackendIO(fmt.Sprintf("push to %s", remote), err)
	}

	if isLocalRemote(remote) {
		if err := s.lfs.Mirror(remoteLFSDir(localRemotePath(remote))); err != nil {
			return apperrors.BackendIO("mirror lfs objects to remote", err)
		}
	}

	s.logger.InfoContext(ctx, "push complete", "remote", remote)
	return nil
}

func (s *Store) pull(ctx context.Context, remote string, auth transport.AuthMethod) error {
	if err := s.ensureOriginRemote(remote); err != nil {
		return err
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return apperrors.BackendIO("get worktree", err)
	}

	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName: "origin",
		Auth:       auth,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) || err.Error() == msgRemoteRepoEmpty {
			s.logger.InfoContext(ctx, "already up to date", "remote", remote)
		} else {
			return apperrors.BackendIO(fmt.Sprintf("pull from %s", remote), err)
		}
	}

	if isLocalRemote(remote) {
		remoteLFS := &lfsStore{dir: remoteLFSDir(localRemotePath(remote))}
		if err := remoteLFS.Mirror(s.lfs.dir); err != nil {
			return apperrors.BackendIO("mirror lfs objects from remote", err)
		}
	}

	s.logger.InfoContext(ctx, "pull complete", "remote", remote)
	return nil
}

// ensureLocalRemote initializes a bare repository at path when nothing is
// there yet.
func ensureLocalRemote(path string) error {
	if _, err := git.PlainOpen(path); err == nil {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err == nil && len(entries) > 0 {
		return apperrors.BackendIO(fmt.Sprintf("remote path %s exists but is not a git repository", path), nil)
	}
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return apperrors.BackendIO("create remote directory", err)
	}
	if _, err := git.PlainInit(path, true); err != nil {
		return apperrors.BackendIO("init bare remote repository", err)
	}
	return nil
}

// HasRemoteRevisions reports whether a local remote already holds history,
// used by the backup orchestration to pick clone vs reconcile.
func HasRemoteRevisions(remote string) bool {
	if !isLocalRemote(remote) {
		return true
	}
	repo, err := git.PlainOpen(localRemotePath(remote))
	if err != nil {
		return false
	}
	if _, err := repo.Head(); err != nil {
		return false
	}
	return true
}
