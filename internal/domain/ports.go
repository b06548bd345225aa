package domain

import "time"

// IssueTrackerClient is the C3 façade over an issue tracker (§4.3). A
// single call must return complete content — issue fields, comments, and
// attachment metadata — never a summary the caller must page through.
type IssueTrackerClient interface {
	SearchFull(ctx Context, projectKey string, updatedSince *time.Time) ([]Artifact, error)
}

// WikiClient is the C3 façade over a wiki/knowledge-base space.
type WikiClient interface {
	SearchPages(ctx Context, space string, updatedSince *time.Time) ([]Artifact, error)
	GetPage(ctx Context, pageID string) (Artifact, error)
}

// GitRemote is the C3 façade over a git remote, used to discover new
// commits for indexing.
type GitRemote interface {
	Clone(ctx Context, remoteURL, localPath, branch string) error
	Fetch(ctx Context, localPath string) error
	LsRemote(ctx Context, remoteURL string) (map[string]string, error)
	CommitsSince(ctx Context, localPath, sinceHash string) ([]Artifact, error)
}

// MailReader is the C3 façade shared by IMAP and POP3 handlers.
type MailReader interface {
	OpenFolder(ctx Context, folder string) error
	FetchByUID(ctx Context, lastUID uint32) ([]Artifact, uint32, error)
}
