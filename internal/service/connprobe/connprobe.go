// Package connprobe implements the C1 Connection Registry's
// testConnection operation (§4.1): a lightweight, side-effect-free probe
// per connection variant that is the only path allowed to transition a
// connection to VALID, and that any 401/403 encountered elsewhere in the
// system also routes through to transition it to INVALID.
package connprobe

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/jervisai/jervis/internal/adapter/httpclient"
	"github.com/jervisai/jervis/internal/adapter/source/mail"
	"github.com/jervisai/jervis/internal/domain"
)

// ConnectionUpdater is the registry-side state transition a probe drives.
// Implemented by mongostore.ConnectionRepo.
type ConnectionUpdater interface {
	MarkValid(ctx domain.Context, id domain.ID) error
	MarkInvalid(ctx domain.Context, id domain.ID, reason string) error
}

// Service runs testConnection probes and records their verdict.
type Service struct {
	updater ConnectionUpdater
	limiter httpclient.RateLimiter
}

// New constructs a Service. limiter may be nil; probes are one-off calls,
// not a sustained poll, so skipping rate limiting on them is acceptable.
func New(updater ConnectionUpdater, limiter httpclient.RateLimiter) *Service {
	return &Service{updater: updater, limiter: limiter}
}

// Test performs the connection's variant-specific probe and transitions
// its registry state accordingly (§4.1: "state=VALID may only be set by
// testConnection"). The returned reason is empty when the probe passed.
func (s *Service) Test(ctx domain.Context, c domain.Connection) (bool, string, error) {
	ok, reason := s.probe(ctx, c)
	if ok {
		if err := s.updater.MarkValid(ctx, c.ID); err != nil {
			return false, "", fmt.Errorf("op=connprobe.Test.markValid: %w", err)
		}
		return true, "", nil
	}
	if err := s.updater.MarkInvalid(ctx, c.ID, reason); err != nil {
		return false, reason, fmt.Errorf("op=connprobe.Test.markInvalid: %w", err)
	}
	return false, reason, nil
}

func (s *Service) probe(ctx domain.Context, c domain.Connection) (bool, string) {
	switch c.Kind {
	case domain.ConnectionHTTP:
		return s.probeHTTP(ctx, c)
	case domain.ConnectionIMAP:
		return s.probeIMAP(ctx, c)
	case domain.ConnectionPOP3:
		return s.probePOP3(ctx, c)
	case domain.ConnectionOAuth2:
		return s.probeOAuth2(ctx, c)
	default:
		return false, fmt.Sprintf("unknown connection kind %q", c.Kind)
	}
}

// probeHTTP issues a single GET against the connection's base URL with
// its configured auth applied, per "who am I"-style lightweight probes.
func (s *Service) probeHTTP(ctx domain.Context, c domain.Connection) (bool, string) {
	if c.Http == nil {
		return false, "http connection missing its variant payload"
	}
	client := httpclient.New(0, s.limiter)
	headers := authHeaders(*c.Http)
	resp, err := client.Do(ctx, http.MethodGet, c.Http.BaseURL, nil, headers)
	if err != nil {
		return false, err.Error()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("probe returned status %d", resp.StatusCode)
	}
	return true, ""
}

func authHeaders(v domain.HTTPVariant) http.Header {
	h := http.Header{}
	switch v.AuthType {
	case domain.AuthBasic:
		raw := v.Credentials["username"] + ":" + v.Credentials["password"]
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(raw)))
	case domain.AuthBearer:
		h.Set("Authorization", "Bearer "+v.Credentials["token"])
	case domain.AuthAPIKey:
		key := v.Credentials["header"]
		if key == "" {
			key = "X-Api-Key"
		}
		h.Set(key, v.Credentials["token"])
	}
	return h
}

// probeIMAP opens and immediately closes the configured mailbox.
func (s *Service) probeIMAP(ctx domain.Context, c domain.Connection) (bool, string) {
	if c.Mail == nil {
		return false, "imap connection missing its variant payload"
	}
	addr := fmt.Sprintf("%s:%d", c.Mail.Host, c.Mail.Port)
	client, err := mail.DialIMAP(addr, c.Mail.Username, c.Mail.Password, c.Mail.UseSSL, c.ID)
	if err != nil {
		return false, err.Error()
	}
	defer func() { _ = client.Close() }()

	folder := c.Mail.FolderName
	if folder == "" {
		folder = "INBOX"
	}
	if err := client.OpenFolder(ctx, folder); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// probePOP3 authenticates and immediately disconnects; POP3 has exactly
// one mailbox, so there is nothing further to open.
func (s *Service) probePOP3(ctx domain.Context, c domain.Connection) (bool, string) {
	if c.Mail == nil {
		return false, "pop3 connection missing its variant payload"
	}
	client, err := mail.DialPOP3(c.Mail.Host, c.Mail.Port, c.Mail.Username, c.Mail.Password, c.Mail.UseSSL, c.ID)
	if err != nil {
		return false, err.Error()
	}
	defer func() { _ = client.Close() }()
	return true, ""
}

// probeOAuth2 exchanges/refreshes a token via TokenSource.Token() and
// discards it, per the spec's "testConnection" OAuth2 variant.
func (s *Service) probeOAuth2(ctx domain.Context, c domain.Connection) (bool, string) {
	if c.OAuth2 == nil {
		return false, "oauth2 connection missing its variant payload"
	}
	v := c.OAuth2
	cfg := &oauth2.Config{
		ClientID:     v.ClientID,
		ClientSecret: v.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: v.Provider},
		Scopes:       v.Scopes,
	}
	token := &oauth2.Token{
		AccessToken:  v.AccessToken,
		RefreshToken: v.RefreshToken,
		Expiry:       v.Expiry,
	}
	if _, err := cfg.TokenSource(ctx, token).Token(); err != nil {
		return false, err.Error()
	}
	return true, ""
}
