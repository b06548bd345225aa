package poller

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

type fakeConnectionSource struct{ conns []domain.Connection }

func (f *fakeConnectionSource) FindAllEnabled(ctx domain.Context) ([]domain.Connection, error) {
	return f.conns, nil
}

type fakeClientSource struct {
	byConnection map[domain.ID][]domain.Client
}

func (f *fakeClientSource) FindByConnectionID(ctx domain.Context, connectionID domain.ID) ([]domain.Client, error) {
	return f.byConnection[connectionID], nil
}

type countingHandler struct {
	owns  domain.ConnectionKind
	calls atomic.Int32
	err   error
}

func (h *countingHandler) CanHandle(c domain.Connection) bool { return c.Kind == h.owns }
func (h *countingHandler) Poll(ctx domain.Context, c domain.Connection, clients []domain.Client) (Result, error) {
	h.calls.Add(1)
	if h.err != nil {
		return Result{}, h.err
	}
	return Result{Discovered: 1, Created: 1}, nil
}

type fakeConnUpdater struct {
	invalidID  domain.ID
	invalidMsg string
	calls      atomic.Int32
}

func (f *fakeConnUpdater) MarkInvalid(ctx domain.Context, id domain.ID, reason string) error {
	f.invalidID = id
	f.invalidMsg = reason
	f.calls.Add(1)
	return nil
}

type fakeUserTaskCreator struct {
	created []domain.Task
}

func (f *fakeUserTaskCreator) CreateUserTask(ctx domain.Context, t domain.Task) (domain.ID, error) {
	f.created = append(f.created, t)
	return domain.NewID(), nil
}

func TestTickSkipsConnectionsWithNoReferencingClients(t *testing.T) {
	connID := domain.NewID()
	conns := &fakeConnectionSource{conns: []domain.Connection{{ID: connID, Kind: domain.ConnectionIMAP, Enabled: true}}}
	clients := &fakeClientSource{byConnection: map[domain.ID][]domain.Client{}}
	h := &countingHandler{owns: domain.ConnectionIMAP}

	p := New(conns, clients, nil, nil, []Handler{h}, 0, 4)
	p.tick(t.Context(), map[domain.ID]time.Time{})

	assert.Equal(t, int32(0), h.calls.Load(), "a connection with no referencing clients must be skipped before any handler runs")
}

func TestTickDispatchesToMatchingHandler(t *testing.T) {
	connID := domain.NewID()
	clientID := domain.NewID()
	conns := &fakeConnectionSource{conns: []domain.Connection{{ID: connID, Kind: domain.ConnectionIMAP, Enabled: true}}}
	cs := &fakeClientSource{byConnection: map[domain.ID][]domain.Client{
		connID: {{ID: clientID, ConnectionIDs: []domain.ID{connID}}},
	}}
	imapHandler := &countingHandler{owns: domain.ConnectionIMAP}
	pop3Handler := &countingHandler{owns: domain.ConnectionPOP3}

	p := New(conns, cs, nil, nil, []Handler{pop3Handler, imapHandler}, 0, 4)
	p.tick(t.Context(), map[domain.ID]time.Time{})

	assert.Equal(t, int32(1), imapHandler.calls.Load())
	assert.Equal(t, int32(0), pop3Handler.calls.Load())
}

func TestTickRespectsPerConnectionCadence(t *testing.T) {
	connID := domain.NewID()
	clientID := domain.NewID()
	conns := &fakeConnectionSource{conns: []domain.Connection{{ID: connID, Kind: domain.ConnectionPOP3, Enabled: true}}}
	cs := &fakeClientSource{byConnection: map[domain.ID][]domain.Client{
		connID: {{ID: clientID, ConnectionIDs: []domain.ID{connID}}},
	}}
	h := &countingHandler{owns: domain.ConnectionPOP3}
	p := New(conns, cs, nil, nil, []Handler{h}, 0, 4)

	nextDue := map[domain.ID]time.Time{}
	p.tick(t.Context(), nextDue)
	p.tick(t.Context(), nextDue)

	require.Equal(t, int32(1), h.calls.Load(), "a connection already polled this interval must not be polled twice")
}

func TestPollOneMarksConnectionInvalidAndRaisesUserTaskOnAuthError(t *testing.T) {
	connID := domain.NewID()
	clientID := domain.NewID()
	conn := domain.Connection{ID: connID, Name: "jira-prod", Kind: domain.ConnectionHTTP, Enabled: true}
	conns := &fakeConnectionSource{conns: []domain.Connection{conn}}
	cs := &fakeClientSource{byConnection: map[domain.ID][]domain.Client{
		connID: {{ID: clientID, ConnectionIDs: []domain.ID{connID}}},
	}}
	h := &countingHandler{owns: domain.ConnectionHTTP, err: &domain.AuthError{Err: assert.AnError}}
	updater := &fakeConnUpdater{}
	tasks := &fakeUserTaskCreator{}

	p := New(conns, cs, updater, tasks, []Handler{h}, 0, 4)
	p.tick(t.Context(), map[domain.ID]time.Time{})

	assert.Equal(t, int32(1), updater.calls.Load())
	assert.Equal(t, connID, updater.invalidID)
	require.Len(t, tasks.created, 1)
	assert.Equal(t, domain.TaskUserTask, tasks.created[0].State)
	assert.Equal(t, "connection_reauth", tasks.created[0].Type)
}

func TestIntervalDefaultsPerKind(t *testing.T) {
	assert.Equal(t, time.Minute, Interval(domain.ConnectionIMAP))
	assert.Equal(t, 2*time.Minute, Interval(domain.ConnectionPOP3))
	assert.Equal(t, 5*time.Minute, Interval(domain.ConnectionHTTP))
}
