package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDIsUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
	assert.False(t, ZeroID(a))
	assert.True(t, ZeroID(ID{}))
}

func TestConnectionVariantTagging(t *testing.T) {
	c := Connection{
		ID:   NewID(),
		Name: "jira-prod",
		Kind: ConnectionHTTP,
		Http: &HTTPVariant{BaseURL: "https://example.atlassian.net", AuthType: AuthBearer, TimeoutMs: 5000},
	}
	assert.Equal(t, ConnectionHTTP, c.Kind)
	assert.NotNil(t, c.Http)
	assert.Nil(t, c.Mail)
	assert.Nil(t, c.OAuth2)
}

func TestTaskErrorWrapping(t *testing.T) {
	base := assert.AnError
	te := &TransientError{Err: base}
	assert.ErrorIs(t, te, base)
	ae := &AuthError{Err: base}
	assert.ErrorIs(t, ae, base)
	pe := &PermanentError{Err: base}
	assert.ErrorIs(t, pe, base)
}
