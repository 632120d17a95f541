package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

type fakeChannel struct {
	events chan model.InsertEvent
	errc   chan error
	mu     sync.Mutex
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan model.InsertEvent, 8), errc: make(chan error, 1)}
}

func (c *fakeChannel) Next(ctx context.Context) (model.InsertEvent, error) {
	select {
	case evt := <-c.events:
		return evt, nil
	case err := <-c.errc:
		return model.InsertEvent{}, err
	case <-ctx.Done():
		return model.InsertEvent{}, ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
}

func (d *fakeDialer) Subscribe(ctx context.Context, table string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[len(d.channels)-1]
}

type fakeFetcher struct {
	mu    sync.Mutex
	fail  map[int64]bool
	gates map[int64]chan struct{}
}

func (f *fakeFetcher) FetchOrder(ctx context.Context, id int64) (model.Order, error) {
	f.mu.Lock()
	gate := f.gates[id]
	fail := f.fail[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.Order{}, ctx.Err()
		}
	}
	if fail {
		return model.Order{}, fmt.Errorf("%w: row %d not found", model.ErrTransport, id)
	}
	return model.Order{ID: id, UniqueOrderID: fmt.Sprintf("ORD-%d", id)}, nil
}

func newTestAdapter(d Dialer, f Fetcher) *Adapter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewAdapter(d, f, "orders", logger)
}

func waitState(t *testing.T, a *Adapter, want State) {
	t.Helper()
	assert.Eventually(t, func() bool { return a.State() == want }, 2*time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, out <-chan model.Order) model.Order {
	t.Helper()
	select {
	case o, ok := <-out:
		require.True(t, ok, "channel closed unexpectedly")
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for order")
		return model.Order{}
	}
}

func assertClosed(t *testing.T, out <-chan model.Order) {
	t.Helper()
	select {
	case _, ok := <-out:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestStartDeliversAndGuardsSecondStart(t *testing.T) {
	d := &fakeDialer{}
	a := newTestAdapter(d, &fakeFetcher{})
	assert.Equal(t, StateUnsubscribed, a.State())

	out, err := a.Start(context.Background())
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)

	_, err = a.Start(context.Background())
	assert.ErrorIs(t, err, model.ErrAlreadySubscribed)

	d.last().events <- model.InsertEvent{Table: "orders", ID: 42}
	assert.Equal(t, "ORD-42", receive(t, out).UniqueOrderID)

	a.Stop()
	assert.Equal(t, StateUnsubscribed, a.State())
	assertClosed(t, out)
	assert.True(t, d.last().isClosed())

	a.Stop()
	assert.Equal(t, StateUnsubscribed, a.State())
}

func TestFetchFailureDropsEvent(t *testing.T) {
	d := &fakeDialer{}
	a := newTestAdapter(d, &fakeFetcher{fail: map[int64]bool{1: true}})

	out, err := a.Start(context.Background())
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)

	d.last().events <- model.InsertEvent{ID: 1}
	d.last().events <- model.InsertEvent{ID: 2}

	assert.Equal(t, int64(2), receive(t, out).ID)
	assert.Equal(t, StateSubscribed, a.State(), "a failed fetch is not fatal")
	a.Stop()
}

func TestFetchesMayCompleteOutOfOrder(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{}
	a := newTestAdapter(d, &fakeFetcher{gates: map[int64]chan struct{}{1: gate}})

	out, err := a.Start(context.Background())
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)

	d.last().events <- model.InsertEvent{ID: 1}
	d.last().events <- model.InsertEvent{ID: 2}

	assert.Equal(t, int64(2), receive(t, out).ID)
	close(gate)
	assert.Equal(t, int64(1), receive(t, out).ID)
	a.Stop()
}

func TestStopDropsInFlightFetch(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{}
	a := newTestAdapter(d, &fakeFetcher{gates: map[int64]chan struct{}{7: gate}})

	out, err := a.Start(context.Background())
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)

	d.last().events <- model.InsertEvent{ID: 7}
	time.Sleep(20 * time.Millisecond)

	a.Stop()
	assertClosed(t, out)
	close(gate)
}

func TestTransportFailureEntersErrorAndRestarts(t *testing.T) {
	d := &fakeDialer{}
	a := newTestAdapter(d, &fakeFetcher{})

	out, err := a.Start(context.Background())
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)

	d.last().errc <- errors.New("socket closed")
	assertClosed(t, out)
	assert.Equal(t, StateError, a.State())

	out, err = a.Start(context.Background())
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)
	assert.Len(t, d.channels, 2)

	d.last().events <- model.InsertEvent{ID: 3}
	assert.Equal(t, int64(3), receive(t, out).ID)
	a.Stop()
}

func TestDialFailure(t *testing.T) {
	d := &fakeDialer{err: fmt.Errorf("%w: dial refused", model.ErrTransport)}
	a := newTestAdapter(d, &fakeFetcher{})

	out, err := a.Start(context.Background())
	require.NoError(t, err)
	assertClosed(t, out)
	assert.Equal(t, StateError, a.State())
}

func TestCallerCancelReturnsToUnsubscribed(t *testing.T) {
	d := &fakeDialer{}
	a := newTestAdapter(d, &fakeFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	out, err := a.Start(ctx)
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)

	cancel()
	assertClosed(t, out)
	assert.Equal(t, StateUnsubscribed, a.State())
	assert.True(t, d.last().isClosed())

	out, err = a.Start(context.Background())
	require.NoError(t, err)
	waitState(t, a, StateSubscribed)
	d.last().events <- model.InsertEvent{ID: 5}
	assert.Equal(t, int64(5), receive(t, out).ID)
	a.Stop()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "unknown", State(99).String())
}
