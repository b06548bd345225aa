package git

import (
	"os"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

func TestCommitsSinceOrdersOldestFirst(t *testing.T) {
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()}

	err = os.WriteFile(dir+"/a.txt", []byte("a"), 0o644)
	require.NoError(t, err)
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	first, err := wt.Commit("first", &gogit.CommitOptions{Author: sig})
	require.NoError(t, err)

	err = os.WriteFile(dir+"/b.txt", []byte("b"), 0o644)
	require.NoError(t, err)
	_, err = wt.Add("b.txt")
	require.NoError(t, err)
	_, err = wt.Commit("second", &gogit.CommitOptions{Author: sig})
	require.NoError(t, err)

	r := New(domain.NewID())
	artifacts, err := r.CommitsSince(t.Context(), dir, first.String())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, "second", artifacts[0].FullContent["message"])
}
