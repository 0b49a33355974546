package component

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error

	mu    *sync.Mutex
	trace *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(context.Context) error {
	f.record("start " + f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(time.Duration) error {
	f.record("stop " + f.name)
	return f.stopErr
}

func (f *fakeComponent) record(s string) {
	f.mu.Lock()
	*f.trace = append(*f.trace, s)
	f.mu.Unlock()
}

func newFakes(names ...string) ([]*fakeComponent, *[]string) {
	var mu sync.Mutex
	trace := &[]string{}
	out := make([]*fakeComponent, len(names))
	for i, n := range names {
		out[i] = &fakeComponent{name: n, mu: &mu, trace: trace}
	}
	return out, trace
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestGroup_StartStopOrder(t *testing.T) {
	fakes, trace := newFakes("events", "websocket", "http")
	g := NewGroup(nil)
	for _, f := range fakes {
		g.Add(f, false)
	}

	require.NoError(t, g.Start(context.Background()))
	require.NoError(t, g.Stop(time.Second))

	assert.Equal(t, []string{
		"start events", "start websocket", "start http",
		"stop http", "stop websocket", "stop events",
	}, *trace)
	assert.Equal(t, StateStopped, g.States()["http"])
}

func TestGroup_OptionalFailureDoesNotStopOthers(t *testing.T) {
	fakes, trace := newFakes("websocket", "http")
	fakes[0].startErr = errors.New("address already in use")

	g := NewGroup(nil)
	g.Add(fakes[0], false)
	g.Add(fakes[1], false)

	require.NoError(t, g.Start(context.Background()))
	assert.Equal(t, StateFailed, g.States()["websocket"])
	assert.Equal(t, StateStarted, g.States()["http"])

	h := g.Health()
	assert.True(t, h.IsUnhealthy())

	require.NoError(t, g.Stop(time.Second))
	assert.NotContains(t, *trace, "stop websocket")
}

func TestGroup_AllFail(t *testing.T) {
	fakes, _ := newFakes("websocket", "http")
	for _, f := range fakes {
		f.startErr = errors.New("bind failed")
	}

	g := NewGroup(nil)
	g.Add(fakes[0], false)
	g.Add(fakes[1], false)

	assert.Error(t, g.Start(context.Background()))
}

func TestGroup_RequiredAloneDoesNotCountAsStarted(t *testing.T) {
	fakes, trace := newFakes("sweeper", "websocket", "http")
	fakes[1].startErr = errors.New("bind failed")
	fakes[2].startErr = errors.New("bind failed")

	g := NewGroup(nil)
	g.Add(fakes[0], true)
	g.Add(fakes[1], false)
	g.Add(fakes[2], false)

	err := g.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of 2 optional components started")
	assert.Equal(t, []string{"start sweeper", "start websocket", "start http", "stop sweeper"}, *trace)
	assert.Equal(t, StateStopped, g.States()["sweeper"])
}

func TestGroup_RequiredOnly(t *testing.T) {
	fakes, _ := newFakes("sweeper")
	g := NewGroup(nil)
	g.Add(fakes[0], true)

	require.NoError(t, g.Start(context.Background()))
	require.NoError(t, g.Stop(time.Second))
}

func TestGroup_RequiredFailureRollsBack(t *testing.T) {
	fakes, trace := newFakes("events", "pool", "websocket")
	fakes[1].startErr = errors.New("boom")

	g := NewGroup(nil)
	g.Add(fakes[0], false)
	g.Add(fakes[1], true)
	g.Add(fakes[2], false)

	err := g.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start pool")
	assert.Equal(t, []string{"start events", "start pool", "stop events"}, *trace)
}

func TestGroup_StopErrorsJoined(t *testing.T) {
	fakes, _ := newFakes("a", "b")
	fakes[0].stopErr = errors.New("a stuck")
	fakes[1].stopErr = errors.New("b stuck")

	g := NewGroup(nil)
	g.Add(fakes[0], false)
	g.Add(fakes[1], false)
	require.NoError(t, g.Start(context.Background()))

	err := g.Stop(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a stuck")
	assert.Contains(t, err.Error(), "b stuck")
}
