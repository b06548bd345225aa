// Package domain defines core entities, ports, and domain-specific errors
// shared by every adapter and service in Jervis.
package domain

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error taxonomy (sentinels). Adapters wrap these with "op=...: %w" and
// callers classify with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrAuth              = errors.New("authentication failed")
	ErrInternal          = errors.New("internal error")
)

// ID is the opaque 12-byte identifier used by every persisted record.
// It is a thin alias over bson.ObjectID: Mongo is the only store that
// needs to understand its bytes, everything else just compares/strings it.
type ID = primitive.ObjectID

// NewID mints a new opaque identifier.
func NewID() ID { return primitive.NewObjectID() }

// ZeroID reports whether id is the unset zero value.
func ZeroID(id ID) bool { return id.IsZero() }

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// ConnectionKind discriminates the tagged Connection variant (§3).
type ConnectionKind string

const (
	ConnectionHTTP   ConnectionKind = "HTTP"
	ConnectionIMAP   ConnectionKind = "IMAP"
	ConnectionPOP3   ConnectionKind = "POP3"
	ConnectionOAuth2 ConnectionKind = "OAUTH2"
)

// ConnectionState tracks whether a connection may be used by pollers.
// Only testConnection may set VALID (§4.1).
type ConnectionState string

const (
	ConnectionPending ConnectionState = "PENDING"
	ConnectionValid   ConnectionState = "VALID"
	ConnectionInvalid ConnectionState = "INVALID"
)

// AuthType enumerates HTTP authentication schemes for an Http connection.
type AuthType string

const (
	AuthNone   AuthType = "NONE"
	AuthBasic  AuthType = "BASIC"
	AuthBearer AuthType = "BEARER"
	AuthAPIKey AuthType = "API_KEY"
)

// HTTPSourceProtocol discriminates which C7 handler an Http Connection
// belongs to: Jira, Confluence, and Git-over-HTTPS all share Kind=HTTP
// and are told apart by this field (§3, §4.7).
type HTTPSourceProtocol string

const (
	HTTPSourceIssueTracker HTTPSourceProtocol = "ISSUE_TRACKER"
	HTTPSourceWiki         HTTPSourceProtocol = "WIKI"
	HTTPSourceGit          HTTPSourceProtocol = "GIT"
)

// HTTPVariant is the payload of an Http Connection.
type HTTPVariant struct {
	BaseURL     string             `bson:"baseUrl" validate:"required,url"`
	Protocol    HTTPSourceProtocol `bson:"protocol" validate:"required,oneof=ISSUE_TRACKER WIKI GIT"`
	AuthType    AuthType           `bson:"authType" validate:"required,oneof=NONE BASIC BEARER API_KEY"`
	Credentials map[string]string  `bson:"credentials,omitempty"`
	TimeoutMs   int                `bson:"timeoutMs"`
}

// MailVariant is the shared payload of Imap and Pop3 connections.
type MailVariant struct {
	Host       string `bson:"host" validate:"required"`
	Port       int    `bson:"port" validate:"required"`
	Username   string `bson:"username" validate:"required"`
	Password   string `bson:"password" validate:"required"`
	UseSSL     bool   `bson:"useSsl"`
	FolderName string `bson:"folderName"`
}

// OAuth2Variant is the payload of an Oauth2 Connection.
type OAuth2Variant struct {
	Provider     string    `bson:"provider" validate:"required"`
	ClientID     string    `bson:"clientId"`
	ClientSecret string    `bson:"clientSecret"`
	AccessToken  string    `bson:"accessToken"`
	RefreshToken string    `bson:"refreshToken"`
	Expiry       time.Time `bson:"expiry"`
	Scopes       []string  `bson:"scopes,omitempty"`
}

// RateLimitConfig is per-connection override for the C2 token bucket.
type RateLimitConfig struct {
	MaxRequestsPerSecond float64 `bson:"maxRequestsPerSecond"`
	MaxRequestsPerMinute float64 `bson:"maxRequestsPerMinute"`
	Enabled              bool    `bson:"enabled"`
}

// Connection is the tagged-variant polymorphic record of §3. Exactly one
// of Http/Mail/OAuth2 is populated, selected by Kind; this avoids modeling
// polymorphism via inheritance, per the spec's re-architecture notes.
type Connection struct {
	ID              ID              `bson:"_id"`
	Name            string          `bson:"name" validate:"required"`
	Kind            ConnectionKind  `bson:"kind" validate:"required"`
	Enabled         bool            `bson:"enabled"`
	State           ConnectionState `bson:"state"`
	InvalidReason   string          `bson:"invalidReason,omitempty"`
	RateLimitConfig RateLimitConfig `bson:"rateLimitConfig"`
	Http            *HTTPVariant    `bson:"http,omitempty"`
	Mail            *MailVariant    `bson:"mail,omitempty"`
	OAuth2          *OAuth2Variant  `bson:"oauth2,omitempty"`
	Revision        int64           `bson:"revision"`
	UpdatedAt       time.Time       `bson:"updatedAt"`
	CreatedAt       time.Time       `bson:"createdAt"`
}

// ConnectionFilter scopes what a Client/Project ingests from one connection.
type ConnectionFilter struct {
	ConnectionID ID       `bson:"connectionId"`
	ProjectKeys  []string `bson:"projectKeys,omitempty"`
	WikiSpaces   []string `bson:"wikiSpaces,omitempty"`
	Folders      []string `bson:"folders,omitempty"`
	UpdatedSince *time.Time `bson:"updatedSince,omitempty"`
}

// Client is the top-level tenant scope referenced by connectionIds.
type Client struct {
	ID            ID                 `bson:"_id"`
	Name          string             `bson:"name" validate:"required"`
	ConnectionIDs []ID               `bson:"connectionIds,omitempty"`
	Filters       []ConnectionFilter `bson:"filters,omitempty"`
	GitMonoRepo   string             `bson:"gitMonoRepo,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt"`
}

// Project scopes ingestion under a Client; its filters override the client's.
type Project struct {
	ID            ID                 `bson:"_id"`
	ClientID      ID                 `bson:"clientId"`
	Name          string             `bson:"name" validate:"required"`
	ConnectionIDs []ID               `bson:"connectionIds,omitempty"`
	Filters       []ConnectionFilter `bson:"filters,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt"`
}

// ArtifactKind names the source shape of a staged artifact, and doubles as
// the staging collection name (§6).
type ArtifactKind string

const (
	ArtifactIssueTrackerItem ArtifactKind = "issue_tracker_items"
	ArtifactWikiPage         ArtifactKind = "wiki_pages"
	ArtifactEmailMessage     ArtifactKind = "email_messages"
	ArtifactGitCommit        ArtifactKind = "git_commits"
)

// ArtifactState is the staging lifecycle of §3/§4.5.
type ArtifactState string

const (
	ArtifactNew      ArtifactState = "NEW"
	ArtifactIndexing ArtifactState = "INDEXING"
	ArtifactIndexed  ArtifactState = "INDEXED"
	ArtifactFailed   ArtifactState = "FAILED"
)

// ChunkStats records the last indexing run's output size for an artifact.
type ChunkStats struct {
	ChunkCount     int `bson:"chunkCount"`
	RelatedDocs    int `bson:"relatedDocs"`
	TotalTokensEst int `bson:"totalTokensEst"`
}

// Artifact is the one generic shape shared by every staged source type
// (§3: "one shape per source, same lifecycle fields"). FullContent carries
// the source-specific structured payload (summary/body/comments/attachment
// metadata) as a loosely-typed map so C7 handlers needn't each define a
// distinct collection schema, matching spec.md §9's guidance to reuse the
// issue-tracker field set across sources.
type Artifact struct {
	ID                ID                     `bson:"_id"`
	Kind              ArtifactKind           `bson:"-"`
	ClientID          ID                     `bson:"clientId"`
	ProjectID         *ID                    `bson:"projectId,omitempty"`
	ConnectionID      ID                     `bson:"connectionId"`
	SourceKey         string                 `bson:"sourceKey"`
	FullContent       map[string]any         `bson:"fullContent"`
	CreatedAt         time.Time              `bson:"createdAt"`
	ExternalUpdatedAt time.Time              `bson:"externalUpdatedAt"`
	State             ArtifactState          `bson:"state"`
	LastIndexedAt     *time.Time             `bson:"lastIndexedAt,omitempty"`
	IndexingError     string                 `bson:"indexingError,omitempty"`
	Stats             ChunkStats             `bson:"stats"`
}

// PollingCursor is the per-connection incremental-sync marker of §3.
type PollingCursor struct {
	ConnectionID    ID            `bson:"connectionId"`
	Kind            ArtifactKind  `bson:"kind"`
	ScopeKey        string        `bson:"scopeKey,omitempty"`
	LastFetchedUID  uint32        `bson:"lastFetchedUid,omitempty"`
	LastEtag        string        `bson:"lastEtag,omitempty"`
	LastChangelogID string        `bson:"lastChangelogId,omitempty"`
	LastUpdatedSince *time.Time   `bson:"lastUpdatedSince,omitempty"`
	LastCommitHash  string        `bson:"lastCommitHash,omitempty"`
	DiscoveredBranch string       `bson:"discoveredBranch,omitempty"`
	UpdatedAt       time.Time     `bson:"updatedAt"`
}

// LinkClassification is the outcome of the C4 qualifier.
type LinkClassification string

const (
	LinkSafe      LinkClassification = "SAFE"
	LinkUnsafe    LinkClassification = "UNSAFE"
	LinkUncertain LinkClassification = "UNCERTAIN"
)

// UnsafeLink is a cached negative classification (§3).
type UnsafeLink struct {
	URL       string    `bson:"_id"`
	Reason    string    `bson:"reason"`
	CreatedAt time.Time `bson:"createdAt"`
}

// LearnedPattern is a compiled regex the qualifier promoted from a reason
// string, shared by subsequent qualifier runs (§4.4 step 3).
type LearnedPattern struct {
	ID        ID        `bson:"_id"`
	Pattern   string    `bson:"pattern"`
	Reason    string    `bson:"reason"`
	Enabled   bool      `bson:"enabled"`
	CreatedAt time.Time `bson:"createdAt"`
}

// IndexedLink deduplicates scraped URLs per client (§3).
type IndexedLink struct {
	URL       string    `bson:"url"`
	ClientID  ID        `bson:"clientId"`
	IndexedAt time.Time `bson:"indexedAt"`
}

// ProcessingMode distinguishes interactive from autonomous tasks (§3).
type ProcessingMode string

const (
	ModeForeground ProcessingMode = "FOREGROUND"
	ModeBackground ProcessingMode = "BACKGROUND"
)

// TaskState is the C9 state machine (§4.9).
type TaskState string

const (
	TaskReadyForQualification TaskState = "READY_FOR_QUALIFICATION"
	TaskQualifying            TaskState = "QUALIFYING"
	TaskReadyForGPU           TaskState = "READY_FOR_GPU"
	TaskDispatchedGPU         TaskState = "DISPATCHED_GPU"
	TaskPythonOrchestrating   TaskState = "PYTHON_ORCHESTRATING"
	TaskUserTask              TaskState = "USER_TASK"
	TaskDone                  TaskState = "DONE"
	TaskError                 TaskState = "ERROR"
)

// Task is a unit of autonomous work owned by the background engine (§3).
type Task struct {
	ID                       ID             `bson:"_id"`
	Type                     string         `bson:"type"`
	Content                  string         `bson:"content"`
	ClientID                 ID             `bson:"clientId"`
	ProjectID                *ID            `bson:"projectId,omitempty"`
	ProcessingMode           ProcessingMode `bson:"processingMode"`
	State                    TaskState      `bson:"state"`
	CorrelationID            string         `bson:"correlationId"`
	CreatedAt                time.Time      `bson:"createdAt"`
	QueuePosition            *int           `bson:"queuePosition,omitempty"`
	QualificationRetries     int            `bson:"qualificationRetries"`
	NextQualificationRetryAt *time.Time     `bson:"nextQualificationRetryAt,omitempty"`
	OrchestratorThreadID     string         `bson:"orchestratorThreadId,omitempty"`
	Attachments              []string       `bson:"attachments,omitempty"`
	ErrorMessage             string         `bson:"errorMessage,omitempty"`
	ScheduledAt              *time.Time     `bson:"scheduledAt,omitempty"`
	ConsecutiveCommFailures  int            `bson:"consecutiveCommFailures"`
}

// TaskMemory is the qualifier's structured summary for a DONE task (§4.9).
type TaskMemory struct {
	TaskID    ID        `bson:"_id"`
	Summary   string    `bson:"summary"`
	CreatedAt time.Time `bson:"createdAt"`
}

// TransientError signals a retriable transport failure (timeout, reset, 5xx).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// AuthError signals a 401/403-class failure requiring markInvalid.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return "auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// PermanentError signals a non-retriable client/schema failure.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
