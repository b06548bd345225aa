package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

type fakeGitRemote struct {
	refs       map[string]string
	commits    []domain.Artifact
	cloneErr   error
	clonedWith string
}

func (f *fakeGitRemote) Clone(ctx domain.Context, remoteURL, localPath, branch string) error {
	f.clonedWith = branch
	return f.cloneErr
}
func (f *fakeGitRemote) Fetch(ctx domain.Context, localPath string) error { return nil }
func (f *fakeGitRemote) LsRemote(ctx domain.Context, remoteURL string) (map[string]string, error) {
	return f.refs, nil
}
func (f *fakeGitRemote) CommitsSince(ctx domain.Context, localPath, sinceHash string) ([]domain.Artifact, error) {
	return f.commits, nil
}

func TestDiscoverBranchFallsBackToMasterWhenMainAbsent(t *testing.T) {
	remote := &fakeGitRemote{refs: map[string]string{"refs/heads/master": "abc123"}}
	branch, err := discoverBranch(t.Context(), remote, "https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestDiscoverBranchErrorsWhenNoCandidateMatches(t *testing.T) {
	remote := &fakeGitRemote{refs: map[string]string{"refs/heads/feature-x": "abc123"}}
	_, err := discoverBranch(t.Context(), remote, "https://example.com/repo.git")
	assert.Error(t, err)
}

func TestRepoURLForPrefersClientMonoRepoOverride(t *testing.T) {
	c := domain.Connection{Http: &domain.HTTPVariant{BaseURL: "https://example.com/fallback.git"}}
	clients := []domain.Client{{GitMonoRepo: "https://example.com/override.git"}}
	assert.Equal(t, "https://example.com/override.git", repoURLFor(c, clients))
}

func TestRepoURLForFallsBackToConnectionBaseURL(t *testing.T) {
	c := domain.Connection{Http: &domain.HTTPVariant{BaseURL: "https://example.com/fallback.git"}}
	assert.Equal(t, "https://example.com/fallback.git", repoURLFor(c, nil))
}

func TestGitHandlerDiscoversAndPersistsBranchOnCloneFailure(t *testing.T) {
	remote := &fakeGitRemote{
		refs:     map[string]string{"refs/heads/master": "abc123"},
		cloneErr: assert.AnError,
	}
	cursors := newFakeCursors()
	h := &GitHandler{staging: &fakeStaging{failAt: -1}, cursors: cursors, remote: remote, workdir: t.TempDir()}
	c := domain.Connection{ID: domain.NewID(), Kind: domain.ConnectionHTTP, Http: &domain.HTTPVariant{BaseURL: "https://example.com/repo.git", Protocol: domain.HTTPSourceGit}}

	_, err := h.Poll(t.Context(), c, nil)
	assert.Error(t, err)
	assert.Equal(t, "", remote.clonedWith, "first attempt clones the default HEAD, no branch known yet")

	cur, ok, _ := cursors.Get(t.Context(), c.ID, domain.ArtifactGitCommit, "https://example.com/repo.git")
	require.True(t, ok)
	assert.Equal(t, "master", cur.DiscoveredBranch)
}

func TestGitHandlerRetriesCloneWithPreviouslyDiscoveredBranch(t *testing.T) {
	remote := &fakeGitRemote{commits: nil}
	cursors := newFakeCursors()
	remoteURL := "https://example.com/repo.git"
	cursors.stored[remoteURL] = domain.PollingCursor{ScopeKey: remoteURL, DiscoveredBranch: "master"}
	h := &GitHandler{staging: &fakeStaging{failAt: -1}, cursors: cursors, remote: remote, workdir: t.TempDir()}
	c := domain.Connection{ID: domain.NewID(), Kind: domain.ConnectionHTTP, Http: &domain.HTTPVariant{BaseURL: remoteURL, Protocol: domain.HTTPSourceGit}}

	_, err := h.Poll(t.Context(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, "master", remote.clonedWith)
}
