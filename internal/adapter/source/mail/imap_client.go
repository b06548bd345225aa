// Package mail implements the C3/C7 MailReader over IMAP and POP3.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

var tracer = otel.Tracer("jervis/source/mail")

// IMAPClient implements domain.MailReader over IMAP, tracking position
// with the UID-based cursor mandated by §4.6/§9 (UID reuse after a
// folder rebuild must never be mistaken for "no new mail").
type IMAPClient struct {
	client       *imapclient.Client
	connectionID domain.ID
	folder       string
}

// DialIMAP connects and authenticates to an IMAP server.
func DialIMAP(addr, username, password string, useSSL bool, connectionID domain.ID) (*IMAPClient, error) {
	var c *imapclient.Client
	var err error
	if useSSL {
		c, err = imapclient.DialTLS(addr, nil)
	} else {
		c, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("op=mail.DialIMAP: %w", &domain.TransientError{Err: err})
	}
	if err := c.Login(username, password).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("op=mail.DialIMAP.login: %w", &domain.AuthError{Err: err})
	}
	return &IMAPClient{client: c, connectionID: connectionID}, nil
}

// OpenFolder implements domain.MailReader.
func (c *IMAPClient) OpenFolder(ctx domain.Context, folder string) error {
	_, span := tracer.Start(ctx, "mail.OpenFolder")
	defer span.End()

	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("op=mail.OpenFolder: %w", &domain.TransientError{Err: err})
	}
	c.folder = folder
	return nil
}

// FetchByUID implements domain.MailReader: fetches every message with
// UID strictly greater than lastUID, returning the new high-water mark.
// §9: the UID validity value is checked implicitly by the caller
// re-opening the folder each poll; a UID validity change surfaces as an
// apparent-gap the central poller treats as a fresh backlog, never data
// loss.
func (c *IMAPClient) FetchByUID(ctx domain.Context, lastUID uint32) ([]domain.Artifact, uint32, error) {
	_, span := tracer.Start(ctx, "mail.FetchByUID")
	defer span.End()

	uidSet := imap.UIDSet{imap.UIDRange{Start: imap.UID(lastUID + 1), Stop: 0}}
	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}

	cmd := c.client.Fetch(uidSet, fetchOptions)
	defer cmd.Close()

	var out []domain.Artifact
	var maxUID uint32 = lastUID

	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		artifact, uid, err := c.toArtifact(msg)
		if err != nil {
			return nil, maxUID, fmt.Errorf("op=mail.FetchByUID: %w", &domain.PermanentError{Err: err})
		}
		if staleUID(uint32(uid), lastUID) {
			continue
		}
		out = append(out, artifact)
		if uint32(uid) > maxUID {
			maxUID = uint32(uid)
		}
	}
	if err := cmd.Close(); err != nil {
		return nil, maxUID, fmt.Errorf("op=mail.FetchByUID: %w", &domain.TransientError{Err: err})
	}
	return out, maxUID, nil
}

// staleUID reports whether a FETCH UID range starting at lastUID+1 still
// handed back a UID at or below lastUID — observed on some IMAP servers
// after a mailbox rebuild. Staged artifacts and the advancing cursor must
// never include one (§4.6/§8 property 4, scenario S6).
func staleUID(uid, lastUID uint32) bool {
	return uid <= lastUID
}

func (c *IMAPClient) toArtifact(msg *imapclient.FetchMessageBuffer) (domain.Artifact, imap.UID, error) {
	var subject, from string
	var sentAt time.Time
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
		sentAt = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Addr()
		}
	}

	body := ""
	var attachments []map[string]any
	for _, section := range msg.BodySection {
		b, a := parseMailParts(section.Bytes)
		if body == "" {
			body = b
		}
		attachments = append(attachments, a...)
	}

	content := map[string]any{
		"subject": subject,
		"from":    from,
		"body":    body,
	}
	if len(attachments) > 0 {
		content["attachments"] = attachments
	}

	return domain.Artifact{
		Kind:              domain.ArtifactEmailMessage,
		ConnectionID:      c.connectionID,
		SourceKey:         fmt.Sprintf("%d", msg.UID),
		ExternalUpdatedAt: sentAt,
		FullContent:       content,
	}, msg.UID, nil
}

// parseMailParts walks a raw MIME message, returning the first inline
// text/html part as the body and metadata (filename, sniffed mimetype,
// size) for every attachment part, per §3/§4.7's attachment-metadata
// requirement. The mimetype is sniffed from content rather than trusted
// from the part's declared Content-Type header, which mail clients often
// get wrong or omit.
func parseMailParts(raw []byte) (string, []map[string]any) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), nil
	}

	var body string
	var attachments []map[string]any
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			if body == "" {
				b, _ := io.ReadAll(part.Body)
				body = string(b)
			}
		case *mail.AttachmentHeader:
			b, _ := io.ReadAll(part.Body)
			filename, _ := h.Filename()
			attachments = append(attachments, map[string]any{
				"filename":  filename,
				"mimeType":  mimetype.Detect(b).String(),
				"sizeBytes": len(b),
			})
		}
	}
	return body, attachments
}

// Close logs out and closes the underlying connection.
func (c *IMAPClient) Close() error {
	return c.client.Logout().Wait()
}
