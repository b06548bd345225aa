package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jervisai/jervis/internal/domain"
)

func TestProjectKeysForDedupsAcrossClients(t *testing.T) {
	connID := domain.NewID()
	other := domain.NewID()
	clients := []domain.Client{
		{Filters: []domain.ConnectionFilter{{ConnectionID: connID, ProjectKeys: []string{"ABC", "DEF"}}}},
		{Filters: []domain.ConnectionFilter{{ConnectionID: connID, ProjectKeys: []string{"DEF"}}}},
		{Filters: []domain.ConnectionFilter{{ConnectionID: other, ProjectKeys: []string{"XYZ"}}}},
	}
	assert.Equal(t, []string{"ABC", "DEF"}, projectKeysFor(clients, connID))
}

func TestWikiSpacesForIgnoresUnrelatedConnections(t *testing.T) {
	connID := domain.NewID()
	other := domain.NewID()
	clients := []domain.Client{
		{Filters: []domain.ConnectionFilter{{ConnectionID: other, WikiSpaces: []string{"ENG"}}}},
		{Filters: []domain.ConnectionFilter{{ConnectionID: connID, WikiSpaces: []string{"DOCS"}}}},
	}
	assert.Equal(t, []string{"DOCS"}, wikiSpacesFor(clients, connID))
}

func TestIssueTrackerHandlerCanHandleChecksProtocol(t *testing.T) {
	h := NewIssueTrackerHandler(nil, nil, 0, nil)
	assert.True(t, h.CanHandle(domain.Connection{Kind: domain.ConnectionHTTP, Http: &domain.HTTPVariant{Protocol: domain.HTTPSourceIssueTracker}}))
	assert.False(t, h.CanHandle(domain.Connection{Kind: domain.ConnectionHTTP, Http: &domain.HTTPVariant{Protocol: domain.HTTPSourceWiki}}))
	assert.False(t, h.CanHandle(domain.Connection{Kind: domain.ConnectionIMAP}))
}
