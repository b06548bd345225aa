// Package git implements the C3 GitRemote façade over go-git, used for
// the mono-repo ingestion model (§9, DESIGN.md decision 4).
package git

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

var tracer = otel.Tracer("jervis/source/git")

// Remote implements domain.GitRemote.
type Remote struct {
	connectionID domain.ID
}

// New constructs a Remote.
func New(connectionID domain.ID) *Remote {
	return &Remote{connectionID: connectionID}
}

// Clone implements domain.GitRemote. branch is empty to accept the
// remote's default HEAD, or a specific branch to check out (used to
// retry with a previously discovered default after a prior failure).
func (r *Remote) Clone(ctx domain.Context, remoteURL, localPath, branch string) error {
	_, span := tracer.Start(ctx, "git.Clone")
	defer span.End()

	opts := &git.CloneOptions{URL: remoteURL}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	_, err := git.PlainCloneContext(ctx, localPath, false, opts)
	if err != nil {
		return fmt.Errorf("op=git.Clone: %w", classifyGitError(err))
	}
	return nil
}

// Fetch implements domain.GitRemote.
func (r *Remote) Fetch(ctx domain.Context, localPath string) error {
	_, span := tracer.Start(ctx, "git.Fetch")
	defer span.End()

	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("op=git.Fetch.open: %w", &domain.PermanentError{Err: err})
	}
	if err := repo.FetchContext(ctx, &git.FetchOptions{}); err != nil {
		if err == git.NoErrAlreadyUpToDate {
			return nil
		}
		return fmt.Errorf("op=git.Fetch: %w", classifyGitError(err))
	}
	return nil
}

// LsRemote implements domain.GitRemote: returns every ref -> commit hash
// on the remote, without cloning (used for the mono-repo URL model's
// cheap "anything new?" check).
func (r *Remote) LsRemote(ctx domain.Context, remoteURL string) (map[string]string, error) {
	_, span := tracer.Start(ctx, "git.LsRemote")
	defer span.End()

	cfg := gitRemoteConfig(remoteURL)
	remote := git.NewRemote(nil, &cfg)
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=git.LsRemote: %w", classifyGitError(err))
	}
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		out[ref.Name().String()] = ref.Hash().String()
	}
	return out, nil
}

// CommitsSince implements domain.GitRemote: every commit reachable from
// HEAD after sinceHash, oldest first, each one staged artifact.
func (r *Remote) CommitsSince(ctx domain.Context, localPath, sinceHash string) ([]domain.Artifact, error) {
	_, span := tracer.Start(ctx, "git.CommitsSince")
	defer span.End()

	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return nil, fmt.Errorf("op=git.CommitsSince.open: %w", &domain.PermanentError{Err: err})
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("op=git.CommitsSince.head: %w", &domain.TransientError{Err: err})
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("op=git.CommitsSince.log: %w", &domain.TransientError{Err: err})
	}
	defer iter.Close()

	var out []domain.Artifact
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash.String() == sinceHash {
			return object.ErrCanceled
		}
		out = append(out, domain.Artifact{
			Kind:              domain.ArtifactGitCommit,
			ConnectionID:      r.connectionID,
			SourceKey:         c.Hash.String(),
			ExternalUpdatedAt: c.Author.When,
			FullContent: map[string]any{
				"message": c.Message,
				"author":  c.Author.Name,
			},
		})
		return nil
	})
	if err != nil && err != object.ErrCanceled {
		return nil, fmt.Errorf("op=git.CommitsSince: %w", &domain.TransientError{Err: err})
	}

	reverse(out)
	return out, nil
}

func reverse(a []domain.Artifact) {
	for i, j := 0, len(a)-1; i < j; i, j = i+1, j-1 {
		a[i], a[j] = a[j], a[i]
	}
}

func gitRemoteConfig(url string) git.RemoteConfig {
	return git.RemoteConfig{Name: "origin", URLs: []string{url}}
}

func classifyGitError(err error) error {
	switch err {
	case plumbing.ErrObjectNotFound, plumbing.ErrReferenceNotFound:
		return &domain.PermanentError{Err: err}
	default:
		return &domain.TransientError{Err: err}
	}
}
