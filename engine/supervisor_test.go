package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/planillas/models"
)

type fakeSession struct {
	id     int
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) NewPage(ctx context.Context) (Page, error) {
	return nil, errors.New("not used")
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeProvider hands out numbered sessions; failAt lists the connect calls
// (1-based) that fail.
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failAt   map[int]bool
	sessions []*fakeSession
}

func (p *fakeProvider) Connect(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAt[p.calls] {
		return nil, fmt.Errorf("dial ws://browser: connection refused")
	}
	s := &fakeSession{id: p.calls}
	p.sessions = append(p.sessions, s)
	return s, nil
}

var errLost = models.NewScrapeError(models.ErrCodeSessionLost, "browser session lost", errors.New("websocket: close 1006"))

// scriptedRunner returns one scripted step per call and records which
// session each call ran against.
type scriptedRunner struct {
	steps []func() (*models.Outcome, error)
	seen  []int
}

func (r *scriptedRunner) Run(ctx context.Context, req models.LookupRequest, sess Session) (*models.Outcome, error) {
	r.seen = append(r.seen, sess.(*fakeSession).id)
	step := r.steps[len(r.seen)-1]
	return step()
}

func lost() (*models.Outcome, error) {
	return models.FailedOutcome("navigate: websocket: close 1006"), errLost
}

func found() (*models.Outcome, error) {
	return models.NewOutcome([]models.Record{{FormID: "9001"}}), nil
}

func TestSupervisor_ReconnectsAndRetriesOnce(t *testing.T) {
	provider := &fakeProvider{}
	runner := &scriptedRunner{steps: []func() (*models.Outcome, error){lost, found}}
	sup := NewSupervisor(provider, runner, 1)
	require.NoError(t, sup.Start(context.Background()))

	out, err := sup.Run(context.Background(), lookup("A"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultDataFound, out.Result)

	assert.Equal(t, []int{1, 2}, runner.seen, "retry must use the new session")
	assert.Equal(t, 2, provider.calls)
	assert.True(t, provider.sessions[0].isClosed())
	assert.False(t, provider.sessions[1].isClosed())

	stats := sup.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, int64(1), stats.Reconnects)
}

func TestSupervisor_SecondLossIsTerminal(t *testing.T) {
	provider := &fakeProvider{}
	runner := &scriptedRunner{steps: []func() (*models.Outcome, error){lost, lost, found}}
	sup := NewSupervisor(provider, runner, 1)
	require.NoError(t, sup.Start(context.Background()))

	out, err := sup.Run(context.Background(), lookup("A"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultScrapeFailed, out.Result)
	assert.Equal(t, models.RemarksSiteUnavailable, out.Remarks)
	assert.Len(t, runner.seen, 2, "exactly one retry")

	// The next request runs against the surviving handle without another
	// reconnect of its own.
	out, err = sup.Run(context.Background(), lookup("B"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultDataFound, out.Result)
	assert.Equal(t, []int{1, 2, 2}, runner.seen)
}

func TestSupervisor_ReconnectFailure(t *testing.T) {
	provider := &fakeProvider{failAt: map[int]bool{2: true}}
	runner := &scriptedRunner{steps: []func() (*models.Outcome, error){lost, found}}
	sup := NewSupervisor(provider, runner, 1)
	require.NoError(t, sup.Start(context.Background()))

	out, err := sup.Run(context.Background(), lookup("A"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultScrapeFailed, out.Result)
	assert.Contains(t, out.ErrorMessage, "connection refused")
	assert.Len(t, runner.seen, 1, "no retry without a session")

	assert.False(t, sup.Stats().Connected)
	assert.True(t, provider.sessions[0].isClosed())

	// Next request reconnects lazily.
	out, err = sup.Run(context.Background(), lookup("B"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultDataFound, out.Result)
	assert.Equal(t, 3, provider.calls)
	assert.True(t, sup.Stats().Connected)
}

func TestSupervisor_NotReady(t *testing.T) {
	provider := &fakeProvider{failAt: map[int]bool{1: true}}
	runner := &scriptedRunner{steps: []func() (*models.Outcome, error){found}}
	sup := NewSupervisor(provider, runner, 1)

	out, err := sup.Run(context.Background(), lookup("A"))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrSessionNotReady)
	assert.True(t, models.HasCode(err, models.ErrCodeSessionNotReady))
	assert.Empty(t, runner.seen)
}

func TestSupervisor_StartFailure(t *testing.T) {
	provider := &fakeProvider{failAt: map[int]bool{1: true}}
	sup := NewSupervisor(provider, &scriptedRunner{}, 1)

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.False(t, sup.Stats().Connected)
}

func TestSupervisor_NoRetryWhenDisabled(t *testing.T) {
	provider := &fakeProvider{}
	runner := &scriptedRunner{steps: []func() (*models.Outcome, error){lost, found}}
	sup := NewSupervisor(provider, runner, 0)
	require.NoError(t, sup.Start(context.Background()))

	out, err := sup.Run(context.Background(), lookup("A"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultScrapeFailed, out.Result)
	assert.Len(t, runner.seen, 1)
	assert.Equal(t, 1, provider.calls)
}

func TestSupervisor_PlainRunnerErrorIsFailedOutcome(t *testing.T) {
	provider := &fakeProvider{}
	runner := &scriptedRunner{steps: []func() (*models.Outcome, error){
		func() (*models.Outcome, error) { return nil, errors.New("element detached") },
	}}
	sup := NewSupervisor(provider, runner, 1)
	require.NoError(t, sup.Start(context.Background()))

	out, err := sup.Run(context.Background(), lookup("A"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultScrapeFailed, out.Result)
	assert.Equal(t, "element detached", out.ErrorMessage)
	assert.Equal(t, 1, provider.calls)
}

func TestSupervisor_CloseReleasesSession(t *testing.T) {
	provider := &fakeProvider{}
	sup := NewSupervisor(provider, &scriptedRunner{}, 1)
	require.NoError(t, sup.Start(context.Background()))

	require.NoError(t, sup.Close())
	assert.True(t, provider.sessions[0].isClosed())
	assert.False(t, sup.Stats().Connected)
	assert.NoError(t, sup.Close())
}

func TestQueueOverSupervisor_RetryHappensBeforeNextEntry(t *testing.T) {
	provider := &fakeProvider{}
	var order []string
	calls := map[string]int{}
	runner := RunnerFunc(func(ctx context.Context, req models.LookupRequest, sess Session) (*models.Outcome, error) {
		calls[req.SubjectID]++
		order = append(order, fmt.Sprintf("%s@%d", req.SubjectID, sess.(*fakeSession).id))
		if req.SubjectID == "A" && calls["A"] == 1 {
			return lost()
		}
		return found()
	})
	sup := NewSupervisor(provider, runner, 1)
	require.NoError(t, sup.Start(context.Background()))
	q := NewQueue(context.Background(), sup)

	a := q.Submit(lookup("A"))
	b := q.Submit(lookup("B"))
	require.NoError(t, (<-a).Err)
	require.NoError(t, (<-b).Err)

	assert.Equal(t, []string{"A@1", "A@2", "B@2"}, order)
}
