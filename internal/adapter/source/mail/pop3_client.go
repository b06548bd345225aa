package mail

import (
	"fmt"
	"time"

	"github.com/knadh/go-pop3"

	"github.com/jervisai/jervis/internal/domain"
)

// POP3Client implements domain.MailReader over POP3. POP3 has no native
// UID-range query, so FetchByUID lists all messages and filters
// client-side; acceptable given POP3 mailboxes are typically small and
// periodically drained (§4.3, §9).
type POP3Client struct {
	pop          *pop3.Client
	conn         *pop3.Conn
	connectionID domain.ID
}

// DialPOP3 connects and authenticates to a POP3 server.
func DialPOP3(host string, port int, username, password string, useSSL bool, connectionID domain.ID) (*POP3Client, error) {
	p := pop3.New(pop3.Opt{Host: host, Port: port, TLSEnabled: useSSL})
	conn, err := p.NewConn()
	if err != nil {
		return nil, fmt.Errorf("op=mail.DialPOP3: %w", &domain.TransientError{Err: err})
	}
	if err := conn.Auth(username, password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("op=mail.DialPOP3.auth: %w", &domain.AuthError{Err: err})
	}
	return &POP3Client{pop: p, conn: conn, connectionID: connectionID}, nil
}

// OpenFolder is a no-op for POP3, which has exactly one mailbox.
func (c *POP3Client) OpenFolder(ctx domain.Context, folder string) error {
	_, span := tracer.Start(ctx, "mail.pop3.OpenFolder")
	defer span.End()
	return nil
}

// FetchByUID implements domain.MailReader using POP3's UIDL command,
// which maps message numbers to stable unique ids. Messages whose UIDL
// was already seen (numerically <= lastUID's position) are skipped.
func (c *POP3Client) FetchByUID(ctx domain.Context, lastUID uint32) ([]domain.Artifact, uint32, error) {
	_, span := tracer.Start(ctx, "mail.pop3.FetchByUID")
	defer span.End()

	uids, err := c.conn.Uidl(0)
	if err != nil {
		return nil, lastUID, fmt.Errorf("op=mail.pop3.FetchByUID.uidl: %w", &domain.TransientError{Err: err})
	}

	var out []domain.Artifact
	maxUID := lastUID
	for msgNum, uidl := range uids {
		pos := uint32(msgNum)
		if pos <= lastUID {
			continue
		}
		_, raw, err := c.conn.RetrRaw(msgNum)
		if err != nil {
			return out, maxUID, fmt.Errorf("op=mail.pop3.FetchByUID.retr: %w", &domain.TransientError{Err: err})
		}
		body, attachments := parseMailParts(raw.Bytes())
		if body == "" {
			body = raw.String()
		}
		content := map[string]any{"body": body}
		if len(attachments) > 0 {
			content["attachments"] = attachments
		}
		out = append(out, domain.Artifact{
			Kind:              domain.ArtifactEmailMessage,
			ConnectionID:      c.connectionID,
			SourceKey:         uidl,
			ExternalUpdatedAt: time.Now().UTC(),
			FullContent:       content,
		})
		if pos > maxUID {
			maxUID = pos
		}
	}
	return out, maxUID, nil
}

// Close sends QUIT and closes the connection.
func (c *POP3Client) Close() error {
	return c.conn.Quit()
}
