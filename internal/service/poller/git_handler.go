package poller

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jervisai/jervis/internal/adapter/source/git"
	"github.com/jervisai/jervis/internal/domain"
)

// gitRemote is the subset of domain.GitRemote GitHandler drives.
type gitRemote interface {
	// Clone checks out remoteURL into localPath. branch is empty to
	// accept the remote's default HEAD, or a specific branch name to
	// retry with after a prior clone failed to find the configured one.
	Clone(ctx domain.Context, remoteURL, localPath, branch string) error
	Fetch(ctx domain.Context, localPath string) error
	LsRemote(ctx domain.Context, remoteURL string) (map[string]string, error)
	CommitsSince(ctx domain.Context, localPath, sinceHash string) ([]domain.Artifact, error)
}

// defaultBranchCandidates is the fallback order when a configured branch
// is absent on the remote (§4.3 "Git": "branch discovery with fallback
// to main/master/trunk/... if the configured branch is absent").
var defaultBranchCandidates = []string{"main", "master", "trunk", "develop", "default"}

// GitHandler implements poller.Handler for Git mono-repos: either a
// client-level GitMonoRepo URL or (future) a project-level override.
// Work trees live under workdir, one directory per connection, reused
// across cycles so Fetch is incremental (§4.3, §9 decision 4).
type GitHandler struct {
	staging StagingWriter
	cursors CursorStore
	remote  gitRemote
	workdir string
}

// NewGitHandler constructs a GitHandler.
func NewGitHandler(staging StagingWriter, cursors CursorStore, workdir string) *GitHandler {
	return &GitHandler{staging: staging, cursors: cursors, remote: nil, workdir: workdir}
}

// CanHandle implements Handler.
func (h *GitHandler) CanHandle(c domain.Connection) bool {
	return c.Kind == domain.ConnectionHTTP && c.Http != nil && c.Http.Protocol == domain.HTTPSourceGit
}

// Poll implements Handler.
func (h *GitHandler) Poll(ctx domain.Context, c domain.Connection, clients []domain.Client) (Result, error) {
	remote := h.remote
	if remote == nil {
		remote = git.New(c.ID)
	}

	remoteURL := repoURLFor(c, clients)
	if remoteURL == "" {
		return Result{}, nil
	}

	localPath := filepath.Join(h.workdir, c.ID.Hex())
	var result Result

	cur, _, err := h.cursors.Get(ctx, c.ID, domain.ArtifactGitCommit, remoteURL)
	if err != nil {
		return result, fmt.Errorf("op=poller.git.Poll.cursor: %w", err)
	}

	if _, statErr := os.Stat(filepath.Join(localPath, ".git")); os.IsNotExist(statErr) {
		// A previously discovered branch (persisted after an earlier
		// clone failure) is used on this attempt instead of the
		// remote's default HEAD (§4.3 "retry with discovered default").
		if err := remote.Clone(ctx, remoteURL, localPath, cur.DiscoveredBranch); err != nil {
			if cur.DiscoveredBranch != "" {
				return result, fmt.Errorf("op=poller.git.Poll.clone: %w", err)
			}
			// Clone failure with no discovered branch yet: discover the
			// default branch and persist the choice so the next attempt
			// retries with it instead of repeating the same failure.
			branch, discErr := discoverBranch(ctx, remote, remoteURL)
			if discErr != nil {
				return result, fmt.Errorf("op=poller.git.Poll.clone: %w", err)
			}
			cur.ConnectionID, cur.Kind, cur.ScopeKey, cur.DiscoveredBranch = c.ID, domain.ArtifactGitCommit, remoteURL, branch
			_ = h.cursors.Upsert(ctx, cur)
			return result, fmt.Errorf("op=poller.git.Poll.clone: %w", err)
		}
	} else if err := remote.Fetch(ctx, localPath); err != nil {
		result.Errors++
		return result, fmt.Errorf("op=poller.git.Poll.fetch: %w", err)
	}

	artifacts, err := remote.CommitsSince(ctx, localPath, cur.LastCommitHash)
	if err != nil {
		result.Errors++
		return result, fmt.Errorf("op=poller.git.Poll.commits: %w", err)
	}
	result.Discovered = len(artifacts)

	lastHash := cur.LastCommitHash
	for _, a := range artifacts {
		wrote, err := h.staging.UpsertIfNewer(ctx, a)
		if err != nil {
			result.Errors++
			break
		}
		if wrote {
			result.Created++
		} else {
			result.Skipped++
		}
		lastHash = a.SourceKey
	}

	if lastHash != cur.LastCommitHash {
		if err := h.cursors.Upsert(ctx, domain.PollingCursor{
			ConnectionID: c.ID, Kind: domain.ArtifactGitCommit, ScopeKey: remoteURL, LastCommitHash: lastHash,
		}); err != nil {
			return result, fmt.Errorf("op=poller.git.Poll.advanceCursor: %w", err)
		}
	}
	return result, nil
}

// repoURLFor resolves the mono-repo URL: client-level GitMonoRepo unless
// a referencing client overrides it (§9 decision 4 only models the
// standalone-project + client-mono-repo shape, so the connection's own
// BaseURL is the fallback when no client carries an override).
func repoURLFor(c domain.Connection, clients []domain.Client) string {
	for _, cl := range clients {
		if cl.GitMonoRepo != "" {
			return cl.GitMonoRepo
		}
	}
	return c.Http.BaseURL
}

func discoverBranch(ctx domain.Context, remote gitRemote, remoteURL string) (string, error) {
	refs, err := remote.LsRemote(ctx, remoteURL)
	if err != nil {
		return "", err
	}
	for _, candidate := range defaultBranchCandidates {
		if _, ok := refs["refs/heads/"+candidate]; ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("op=poller.git.discoverBranch: no recognizable default branch on %s", remoteURL)
}
