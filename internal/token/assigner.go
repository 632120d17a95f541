// Package token stamps a per-day ticket number on each newly seen order.
// The numbers are a client-local display label only.
package token

import (
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

const dateLayout = "2006-01-02"

type Assigner struct {
	path   string
	now    func() time.Time
	logger *logrus.Logger

	mu    sync.Mutex
	state model.TokenState
	seen  map[int64]bool
}

type Option func(*Assigner)

// WithClock replaces time.Now, used for the local calendar date.
func WithClock(now func() time.Time) Option {
	return func(a *Assigner) { a.now = now }
}

// NewAssigner loads the persisted state at path. Unreadable state starts a
// fresh day.
func NewAssigner(path string, logger *logrus.Logger, opts ...Option) *Assigner {
	a := &Assigner{
		path:   path,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := utils.ReadJSON(path, &a.state); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.WithError(err).WithField("path", path).Warn("Token state unreadable, starting fresh")
		}
		a.state = model.TokenState{}
	}
	a.index()
	return a
}

func (a *Assigner) index() {
	a.seen = make(map[int64]bool, len(a.state.ProcessedOrders))
	for _, id := range a.state.ProcessedOrders {
		a.seen[id] = true
	}
	if a.state.Tokens == nil {
		a.state.Tokens = make(map[int64]int)
	}
	if a.state.Counter < 1 {
		a.state.Counter = 1
	}
}

// rollover resets the counter on a new local calendar day and persists
// immediately. Caller holds mu.
func (a *Assigner) rollover() {
	today := a.now().Format(dateLayout)
	if a.state.Date == today {
		return
	}

	a.logger.WithFields(logrus.Fields{
		"previous_date": a.state.Date,
		"date":          today,
	}).Info("New day, resetting token counter")

	a.state = model.TokenState{Counter: 1, Date: today, ProcessedOrders: []int64{}}
	a.index()
	a.persist()
}

func (a *Assigner) persist() {
	if err := utils.WriteJSONAtomic(a.path, a.state); err != nil {
		a.logger.WithError(err).WithField("path", a.path).Error("Failed to persist token state")
	}
}

// Assign returns order stamped with its ticket number. An order id seen
// earlier today keeps the number it was first given and does not advance
// the counter.
func (a *Assigner) Assign(order model.Order) model.Order {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollover()

	if a.seen[order.ID] {
		if n, ok := a.state.Tokens[order.ID]; ok {
			order.Token = n
		}
		return order
	}

	order.Token = a.state.Counter
	a.seen[order.ID] = true
	a.state.ProcessedOrders = append(a.state.ProcessedOrders, order.ID)
	a.state.Tokens[order.ID] = a.state.Counter
	a.state.Counter++
	a.persist()

	a.logger.WithFields(logrus.Fields{
		"order_id": order.Code(),
		"token":    order.Token,
	}).Debug("Token assigned")
	return order
}

// Lookup returns today's token for id without assigning one.
func (a *Assigner) Lookup(id int64) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollover()
	n, ok := a.state.Tokens[id]
	return n, ok
}

// State returns a copy of the current state.
func (a *Assigner) State() model.TokenState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state
	st.ProcessedOrders = append([]int64(nil), a.state.ProcessedOrders...)
	st.Tokens = make(map[int64]int, len(a.state.Tokens))
	for k, v := range a.state.Tokens {
		st.Tokens[k] = v
	}
	return st
}
