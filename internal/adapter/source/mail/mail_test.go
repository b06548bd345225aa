package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMailPartsExtractsPlainTextBody(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"hello world\r\n")

	body, attachments := parseMailParts(raw)
	assert.Contains(t, body, "hello world")
	assert.Empty(t, attachments)
}

func TestParseMailPartsExtractsAttachmentMetadata(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: with attachment\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"\r\n" +
		"%PDF-1.4 fake contents\r\n" +
		"--BOUNDARY--\r\n")

	body, attachments := parseMailParts(raw)
	assert.Contains(t, body, "see attached")
	if assert.Len(t, attachments, 1) {
		assert.Equal(t, "report.pdf", attachments[0]["filename"])
		assert.NotEmpty(t, attachments[0]["mimeType"])
		assert.Greater(t, attachments[0]["sizeBytes"], 0)
	}
}

func TestStaleUIDFiltersAtOrBelowLastUID(t *testing.T) {
	assert.True(t, staleUID(90, 100), "a UID a server re-returns after a mailbox rebuild must be dropped")
	assert.True(t, staleUID(100, 100))
	assert.False(t, staleUID(101, 100))
}
