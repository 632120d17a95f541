// Package services wires the session, realtime feed, token counter,
// receipt formatter and print dispatcher into the operations the local
// dashboard calls.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/printer"
	"github.com/Riboost-Studio/order-print-desk/internal/realtime"
	"github.com/Riboost-Studio/order-print-desk/internal/receipt"
)

const (
	reconnectDelay = 5 * time.Second
	statusRevert   = 5 * time.Second
)

// Backend is the slice of the backend client the desk uses.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context) error
	Session() *model.Session
	OnAuthStateChange(l model.AuthListener) func()
	PendingOrders(ctx context.Context) ([]model.Order, error)
	FetchOrder(ctx context.Context, id int64) (model.Order, error)
}

type SessionStore interface {
	Restore(ctx context.Context) *model.Session
	Listen()
	Close()
}

type ConfigStore interface {
	Load() model.PrinterConfig
	Save(cfg model.PrinterConfig) error
}

type TokenAssigner interface {
	Assign(order model.Order) model.Order
	Lookup(id int64) (int, bool)
}

type Formatter interface {
	Format(order model.Order) (receipt.Document, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, doc receipt.Document, orderID string) model.PrintResult
}

// Feed delivers complete orders as they are inserted.
type Feed interface {
	Start(ctx context.Context) (<-chan model.Order, error)
	Stop()
	State() realtime.State
}

type Publisher interface {
	Broadcast(t model.MessageType, data any)
	Retain(t model.MessageType, data any)
	Forget(t model.MessageType)
}

// Deps are the components an App is assembled from.
type Deps struct {
	Backend    Backend
	Sessions   SessionStore
	Store      ConfigStore
	Tokens     TokenAssigner
	Formatter  Formatter
	Dispatcher Dispatcher
	Spooler    printer.Spooler
	Feed       Feed
	Hub        Publisher
	Chooser    DirectoryChooser
	Logger     *logrus.Logger

	// Policy only words the idle banner; the Dispatcher enforces it.
	Policy model.PrintPolicy

	ReconnectDelay time.Duration
	StatusRevert   time.Duration
}

// App is the application context: it owns the printer configuration in
// effect and the realtime supervision lifecycle.
type App struct {
	Deps
	banner *Banner

	mu          sync.Mutex
	ctx         context.Context
	printerCfg  model.PrinterConfig
	feedCancel  context.CancelFunc
	feedDone    chan struct{}
	unlistenAPI func()

	jobs sync.WaitGroup
}

func NewApp(deps Deps) *App {
	if deps.ReconnectDelay == 0 {
		deps.ReconnectDelay = reconnectDelay
	}
	if deps.StatusRevert == 0 {
		deps.StatusRevert = statusRevert
	}
	a := &App{
		Deps:       deps,
		ctx:        context.Background(),
		printerCfg: deps.Store.Load(),
	}
	a.banner = NewBanner(deps.Hub.Retain, a.printerName, deps.Policy, deps.StatusRevert)
	return a
}

func (a *App) printerName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.printerCfg.Printer()
}

// PrinterConfig returns the printer configuration in effect.
func (a *App) PrinterConfig() model.PrinterConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.printerCfg
}

// Start restores a stored session and, when one is found, announces it and
// starts the realtime feed. ctx bounds everything the App starts.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.Sessions.Listen()
	a.unlistenAPI = a.Backend.OnAuthStateChange(a.onAuthChange)

	if s := a.Sessions.Restore(ctx); s != nil {
		a.Logger.WithField("user", sessionEmail(s)).Info("Session restored")
		a.Hub.Retain(model.MessageTypeSessionRestore, s.User)
		a.startFeed()
	}
	a.banner.Refresh()
}

// Close stops the feed and waits for print jobs in progress.
func (a *App) Close() {
	a.stopFeed()
	if a.unlistenAPI != nil {
		a.unlistenAPI()
	}
	a.Sessions.Close()
	a.jobs.Wait()
	a.banner.Stop()
}

func (a *App) onAuthChange(event model.AuthEvent, _ *model.Session) {
	if event != model.AuthEventSignedOut {
		return
	}
	// the emitter may be a feed goroutine; never block it
	go func() {
		a.stopFeed()
		a.Hub.Forget(model.MessageTypeSessionRestore)
		a.Hub.Broadcast(model.MessageTypeSignedOut, nil)
	}()
}

// --- Auth boundary ---

type LoginResult struct {
	User  *model.User `json:"user,omitempty"`
	Error string      `json:"error,omitempty"`
}

type LogoutResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type SessionResult struct {
	Session *model.Session `json:"session"`
}

func (a *App) Login(ctx context.Context, email, password string) LoginResult {
	session, err := a.Backend.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		a.Logger.WithError(err).Warn("Login failed")
		return LoginResult{Error: err.Error()}
	}
	a.startFeed()
	return LoginResult{User: session.User}
}

func (a *App) Logout(ctx context.Context) LogoutResult {
	a.stopFeed()
	if err := a.Backend.SignOut(ctx); err != nil {
		a.Logger.WithError(err).Warn("Remote sign out failed")
		return LogoutResult{Error: err.Error()}
	}
	return LogoutResult{Success: true}
}

// GetSession returns the current session and makes sure the feed runs
// while one exists.
func (a *App) GetSession(context.Context) SessionResult {
	s := a.Backend.Session()
	if s != nil && a.Feed.State() == realtime.StateUnsubscribed {
		a.Logger.Info("Session found, re-initializing realtime")
		a.startFeed()
	}
	return SessionResult{Session: s}
}

// --- Orders boundary ---

type OrdersResult struct {
	Data  []model.Order `json:"data"`
	Error string        `json:"error,omitempty"`
}

func (a *App) GetPendingOrders(ctx context.Context) OrdersResult {
	orders, err := a.Backend.PendingOrders(ctx)
	if err != nil {
		a.Logger.WithError(err).Error("Error fetching pending orders")
		return OrdersResult{Error: err.Error()}
	}
	if orders == nil {
		orders = []model.Order{}
	}
	for i := range orders {
		if n, ok := a.Tokens.Lookup(orders[i].ID); ok {
			orders[i].Token = n
		}
	}
	return OrdersResult{Data: orders}
}

// SilentPrintOrder dispatches an already formatted document.
func (a *App) SilentPrintOrder(ctx context.Context, doc receipt.Document, orderID string) model.PrintResult {
	res := a.Dispatcher.Dispatch(model.WithTrigger(ctx, model.TriggerManual), doc, orderID)
	a.banner.Report(orderID, res, true)
	return res
}

// PrintOrder re-fetches, formats and prints one order on operator request.
func (a *App) PrintOrder(ctx context.Context, id int64) model.PrintResult {
	order, err := a.Backend.FetchOrder(ctx, id)
	if err != nil {
		a.Logger.WithError(err).WithField("order_id", id).Error("Error fetching order for re-print")
		return model.PrintResult{Error: err.Error(), Err: err}
	}
	if n, ok := a.Tokens.Lookup(order.ID); ok {
		order.Token = n
	}

	res := a.print(model.WithTrigger(ctx, model.TriggerManual), order)
	a.banner.Report(order.Code(), res, true)
	return res
}

func (a *App) Status() Status { return a.banner.Current() }

func (a *App) print(ctx context.Context, order model.Order) model.PrintResult {
	doc, err := a.Formatter.Format(order)
	if err != nil {
		a.Logger.WithError(err).WithField("order_id", order.ID).Error("Failed to format receipt")
		err = model.NewError(model.ErrPrint, err.Error())
		return model.PrintResult{Error: err.Error(), Err: err}
	}
	return a.Dispatcher.Dispatch(ctx, doc, order.Code())
}

// handleOrder runs for every order the feed delivers: token, push, print.
// The print job outlives the feed subscription that delivered the order.
func (a *App) handleOrder(order model.Order) {
	order = a.Tokens.Assign(order)
	a.Logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"token":    order.Token,
	}).Info("Realtime Event: New order received")
	a.Hub.Broadcast(model.MessageTypeNewOrder, order)

	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	a.jobs.Add(1)
	go func() {
		defer a.jobs.Done()
		res := a.print(model.WithTrigger(ctx, model.TriggerRealtime), order)
		a.banner.Report(order.Code(), res, false)
	}()
}

// --- Realtime supervision ---

func (a *App) startFeed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.feedCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	done := make(chan struct{})
	a.feedCancel = cancel
	a.feedDone = done
	go a.superviseFeed(ctx, done)
}

func (a *App) stopFeed() {
	a.mu.Lock()
	cancel, done := a.feedCancel, a.feedDone
	a.feedCancel, a.feedDone = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	a.Feed.Stop()
	<-done
}

// superviseFeed keeps the feed running while ctx is live, restarting it
// after a failure.
func (a *App) superviseFeed(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		if a.feedDone == done {
			a.feedCancel()
			a.feedCancel, a.feedDone = nil, nil
		}
		a.mu.Unlock()
	}()
	for {
		orders, err := a.Feed.Start(ctx)
		switch {
		case errors.Is(err, model.ErrAlreadySubscribed):
			a.Logger.Warn("Realtime channel already exists, skipping setup")
			return
		case err != nil:
			a.Logger.WithError(err).Error("Error starting realtime channel")
		default:
			for order := range orders {
				a.handleOrder(order)
			}
		}

		if ctx.Err() != nil {
			return
		}
		if a.Backend.Session() == nil {
			a.Logger.Info("No session, realtime channel not restarted")
			return
		}
		a.Logger.WithField("state", a.Feed.State()).Warnf("Realtime channel lost, reconnecting in %s", a.ReconnectDelay)
		select {
		case <-time.After(a.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func sessionEmail(s *model.Session) string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.Email
}
