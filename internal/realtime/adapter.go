// Package realtime turns row-insert notifications into complete orders on a
// channel. At most one subscription is active per Adapter.
package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Channel is a joined transport subscription.
type Channel interface {
	Next(ctx context.Context) (model.InsertEvent, error)
	Close() error
}

type Dialer interface {
	Subscribe(ctx context.Context, table string) (Channel, error)
}

type DialerFunc func(ctx context.Context, table string) (Channel, error)

func (f DialerFunc) Subscribe(ctx context.Context, table string) (Channel, error) {
	return f(ctx, table)
}

// Fetcher loads the full order for an inserted row id.
type Fetcher interface {
	FetchOrder(ctx context.Context, id int64) (model.Order, error)
}

type Adapter struct {
	dialer  Dialer
	fetcher Fetcher
	table   string
	logger  *logrus.Logger

	opMu sync.Mutex // serialises Start and Stop

	mu    sync.Mutex
	state State
	sub   *subscription
}

type subscription struct {
	out      chan model.Order
	done     chan struct{}
	finished chan struct{}
	cancel   context.CancelFunc
	fetches  sync.WaitGroup
	once     sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})
}

func NewAdapter(dialer Dialer, fetcher Fetcher, table string, logger *logrus.Logger) *Adapter {
	return &Adapter{
		dialer:  dialer,
		fetcher: fetcher,
		table:   table,
		logger:  logger,
	}
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start opens the subscription and returns the channel complete orders are
// delivered on. The channel is closed after Stop, or after a transport
// failure once in-flight fetches have finished. Start fails with
// ErrAlreadySubscribed while a subscription is subscribing or subscribed.
func (a *Adapter) Start(ctx context.Context) (<-chan model.Order, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	if a.state == StateSubscribing || a.state == StateSubscribed {
		a.mu.Unlock()
		return nil, model.ErrAlreadySubscribed
	}
	old := a.sub
	a.sub = nil
	a.mu.Unlock()

	// A subscription that failed may still be draining.
	if old != nil {
		old.stop()
		<-old.finished
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		out:      make(chan model.Order, 16),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		cancel:   cancel,
	}

	a.mu.Lock()
	a.sub = sub
	a.state = StateSubscribing
	a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{"channel": a.table, "state": StateSubscribing}).Info("Setting up realtime channel")

	go a.run(runCtx, sub)
	return sub.out, nil
}

// Stop tears the subscription down and waits until its channel is closed.
// Safe to call when already unsubscribed.
func (a *Adapter) Stop() {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	wasActive := a.state != StateUnsubscribed
	a.state = StateUnsubscribed
	a.mu.Unlock()

	if sub == nil {
		return
	}
	if wasActive {
		a.logger.WithField("channel", a.table).Info("Stopping realtime channel")
	}
	sub.stop()
	<-sub.finished
}

func (a *Adapter) transition(sub *subscription, to State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != sub {
		return false
	}
	a.state = to
	return true
}

func (a *Adapter) run(ctx context.Context, sub *subscription) {
	defer close(sub.finished)
	defer func() {
		sub.fetches.Wait()
		close(sub.out)
	}()
	defer func() {
		// cancelled by the caller rather than by Stop
		if ctx.Err() != nil {
			a.transition(sub, StateUnsubscribed)
		}
	}()

	ch, err := a.dialer.Subscribe(ctx, a.table)
	if err != nil {
		if ctx.Err() == nil && a.transition(sub, StateError) {
			a.logger.WithError(err).WithField("channel", a.table).Error("Realtime connection error")
		}
		return
	}
	defer ch.Close()

	if !a.transition(sub, StateSubscribed) {
		return
	}
	a.logger.WithFields(logrus.Fields{"channel": a.table, "state": StateSubscribed}).Info("Realtime channel subscribed")

	for {
		evt, err := ch.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && a.transition(sub, StateError) {
				a.logger.WithError(err).WithField("channel", a.table).Error("Realtime channel failed")
			}
			return
		}

		sub.fetches.Add(1)
		go a.fetch(ctx, sub, evt)
	}
}

// fetch re-reads the inserted order; failures drop the event.
func (a *Adapter) fetch(ctx context.Context, sub *subscription, evt model.InsertEvent) {
	defer sub.fetches.Done()

	order, err := a.fetcher.FetchOrder(ctx, evt.ID)
	if err != nil {
		a.logger.WithError(err).WithField("order_id", evt.ID).Warn("Error fetching new order by ID, dropping event")
		return
	}

	select {
	case <-sub.done:
		a.logger.WithField("order_id", evt.ID).Debug("Channel stopped before fetch completed, dropping order")
		return
	default:
	}

	select {
	case sub.out <- order:
	case <-sub.done:
	case <-ctx.Done():
	}
}
