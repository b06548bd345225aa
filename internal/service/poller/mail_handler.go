package poller

import (
	"fmt"
	"log/slog"

	"github.com/jervisai/jervis/internal/adapter/source/mail"
	"github.com/jervisai/jervis/internal/domain"
)

// mailReader is the subset of domain.MailReader both IMAP and POP3
// façades satisfy, plus the Close every dialed connection needs.
type mailReader interface {
	OpenFolder(ctx domain.Context, folder string) error
	FetchByUID(ctx domain.Context, lastUID uint32) ([]domain.Artifact, uint32, error)
	Close() error
}

// MailHandler implements poller.Handler for IMAP and POP3 Connections.
// Per §4.7: open the folder read-only, compute new-since-lastFetchedUID,
// and never drop an artifact on a content-load failure — a placeholder
// "[ERROR: ...]" body is staged instead so the item still surfaces for
// manual follow-up. The cursor advances to the batch's max UID only when
// every upsert in the batch succeeded, so a mid-batch failure can't skip
// mail on the next cycle.
type MailHandler struct {
	staging StagingWriter
	cursors CursorStore
	kind    domain.ConnectionKind
	// reader, when set, is used instead of dialing a live server; a test
	// seam only, never populated in production wiring.
	reader mailReader
}

// NewMailHandler constructs a MailHandler for the given ConnectionKind
// (IMAP or POP3).
func NewMailHandler(staging StagingWriter, cursors CursorStore, kind domain.ConnectionKind) *MailHandler {
	return &MailHandler{staging: staging, cursors: cursors, kind: kind}
}

// CanHandle implements Handler.
func (h *MailHandler) CanHandle(c domain.Connection) bool {
	return c.Kind == h.kind && c.Mail != nil
}

// Poll implements Handler. clients is unused: mail connections are
// scoped by folder alone, not per-client project/space filters.
func (h *MailHandler) Poll(ctx domain.Context, c domain.Connection, clients []domain.Client) (Result, error) {
	reader := h.reader
	if reader == nil {
		var err error
		reader, err = h.dial(c)
		if err != nil {
			return Result{}, fmt.Errorf("op=poller.mail.Poll.dial: %w", err)
		}
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			slog.Warn("mail handler close failed", slog.Any("error", cerr))
		}
	}()

	folder := c.Mail.FolderName
	if folder == "" {
		folder = "INBOX"
	}
	if err := reader.OpenFolder(ctx, folder); err != nil {
		return Result{}, fmt.Errorf("op=poller.mail.Poll.openFolder: %w", err)
	}

	cur, _, err := h.cursors.Get(ctx, c.ID, domain.ArtifactEmailMessage, folder)
	if err != nil {
		return Result{}, fmt.Errorf("op=poller.mail.Poll.cursor: %w", err)
	}

	artifacts, maxUID, err := reader.FetchByUID(ctx, cur.LastFetchedUID)
	if err != nil {
		return Result{}, fmt.Errorf("op=poller.mail.Poll.fetch: %w", err)
	}

	var result Result
	result.Discovered = len(artifacts)
	allUpserted := true
	for _, a := range artifacts {
		if a.FullContent == nil {
			a.FullContent = map[string]any{}
		}
		if _, ok := a.FullContent["body"]; !ok {
			a.FullContent["body"] = "[ERROR: message body could not be parsed]"
		}
		wrote, err := h.staging.UpsertIfNewer(ctx, a)
		if err != nil {
			result.Errors++
			allUpserted = false
			continue
		}
		if wrote {
			result.Created++
		} else {
			result.Skipped++
		}
	}

	// Only advance past a batch once every item in it is staged, so a
	// partial failure re-fetches the whole batch next cycle instead of
	// silently skipping the failed item (§4.6 step 5).
	if allUpserted && maxUID != cur.LastFetchedUID {
		if err := h.cursors.Upsert(ctx, domain.PollingCursor{
			ConnectionID: c.ID, Kind: domain.ArtifactEmailMessage, ScopeKey: folder, LastFetchedUID: maxUID,
		}); err != nil {
			return result, fmt.Errorf("op=poller.mail.Poll.advanceCursor: %w", err)
		}
	}
	return result, nil
}

func (h *MailHandler) dial(c domain.Connection) (mailReader, error) {
	switch h.kind {
	case domain.ConnectionIMAP:
		addr := fmt.Sprintf("%s:%d", c.Mail.Host, c.Mail.Port)
		return mail.DialIMAP(addr, c.Mail.Username, c.Mail.Password, c.Mail.UseSSL, c.ID)
	case domain.ConnectionPOP3:
		return mail.DialPOP3(c.Mail.Host, c.Mail.Port, c.Mail.Username, c.Mail.Password, c.Mail.UseSSL, c.ID)
	default:
		return nil, fmt.Errorf("op=poller.mail.dial: unsupported connection kind %q", h.kind)
	}
}
