package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

// --- Realtime (Phoenix channels over WebSocket) ---

const (
	realtimeVsn       = "1.0.0"
	heartbeatInterval = 30 * time.Second
	joinTimeout       = 10 * time.Second
	phoenixTopic      = "phoenix"
)

// Realtime dials row-insert subscriptions on the backend's change feed.
type Realtime struct {
	client    *Client
	dialer    *websocket.Dialer
	heartbeat time.Duration
}

func (c *Client) Realtime() *Realtime {
	return &Realtime{
		client:    c,
		dialer:    websocket.DefaultDialer,
		heartbeat: heartbeatInterval,
	}
}

func (r *Realtime) endpoint() (string, error) {
	u, err := url.Parse(r.client.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", r.client.anonKey)
	q.Set("vsn", realtimeVsn)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe opens a socket, joins the INSERT feed of public.<table> and
// returns once the server acknowledged the join.
func (r *Realtime) Subscribe(ctx context.Context, table string) (*RealtimeChannel, error) {
	endpoint, err := r.endpoint()
	if err != nil {
		return nil, err
	}

	conn, _, err := r.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: realtime dial failed: %v", model.ErrTransport, err)
	}

	ch := &RealtimeChannel{
		conn:   conn,
		topic:  "realtime:public:" + table,
		logger: r.client.logger,
		events: make(chan model.InsertEvent, 64),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	if err := ch.join(ctx, table, r.client.accessToken()); err != nil {
		conn.Close()
		return nil, err
	}

	ch.unlisten = r.client.OnAuthStateChange(func(event model.AuthEvent, s *model.Session) {
		if event == model.AuthEventTokenRefreshed && s != nil {
			ch.pushAccessToken(s.AccessToken)
		}
	})

	ch.wg.Add(2)
	go ch.readLoop()
	go ch.heartbeatLoop(r.heartbeat)

	ch.logger.WithField("channel", ch.topic).Info("Successfully connected to realtime channel")
	return ch, nil
}

// RealtimeChannel is one joined subscription.
type RealtimeChannel struct {
	conn     *websocket.Conn
	topic    string
	logger   *logrus.Logger
	unlisten func()

	writeMu sync.Mutex
	ref     atomic.Int64

	events chan model.InsertEvent
	errc   chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (ch *RealtimeChannel) nextRef() string {
	return strconv.FormatInt(ch.ref.Add(1), 10)
}

func (ch *RealtimeChannel) send(msg model.PhoenixMessage) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	ch.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ch.conn.WriteJSON(msg)
}

func (ch *RealtimeChannel) join(ctx context.Context, table, accessToken string) error {
	payload := model.JoinPayload{AccessToken: accessToken}
	payload.Config.PostgresChanges = []model.PostgresChangeFilter{
		{Event: "INSERT", Schema: "public", Table: table},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ref := ch.nextRef()
	if err := ch.send(model.PhoenixMessage{
		Topic:   ch.topic,
		Event:   model.PhoenixJoin,
		Payload: raw,
		Ref:     ref,
		JoinRef: ref,
	}); err != nil {
		return fmt.Errorf("%w: failed to send join: %v", model.ErrTransport, err)
	}

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ch.conn.SetReadDeadline(deadline)
	defer ch.conn.SetReadDeadline(time.Time{})

	for {
		var msg model.PhoenixMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: waiting for join reply: %v", model.ErrTransport, err)
		}
		if msg.Event != model.PhoenixReply || msg.Ref != ref {
			continue
		}

		var reply model.PhoenixReplyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("%w: bad join reply: %v", model.ErrTransport, err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("%w: join rejected: %s", model.ErrTransport, string(reply.Response))
		}
		return nil
	}
}

func (ch *RealtimeChannel) readLoop() {
	defer ch.wg.Done()
	for {
		var msg model.PhoenixMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			ch.fail(fmt.Errorf("%w: read error: %v", model.ErrTransport, err))
			return
		}

		switch msg.Event {
		case model.PostgresChanges:
			evt, ok := ch.decodeInsert(msg.Payload)
			if !ok {
				continue
			}
			select {
			case ch.events <- evt:
			case <-ch.done:
				return
			}

		case model.PhoenixError, model.PhoenixClose:
			if msg.Topic == ch.topic {
				ch.fail(fmt.Errorf("%w: channel %s closed by server (%s)", model.ErrTransport, ch.topic, msg.Event))
				return
			}

		case model.RealtimeSystem:
			var sys struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if json.Unmarshal(msg.Payload, &sys) == nil && sys.Status == "error" {
				ch.logger.WithField("channel", ch.topic).Warnf("Realtime system error: %s", sys.Message)
			}

		case model.PhoenixReply:
			// heartbeat and access token acks

		default:
			ch.logger.WithFields(logrus.Fields{
				"channel": ch.topic,
				"event":   msg.Event,
			}).Debug("Ignoring realtime message")
		}
	}
}

func (ch *RealtimeChannel) decodeInsert(raw json.RawMessage) (model.InsertEvent, bool) {
	var payload model.PostgresChangePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		ch.logger.WithError(err).Warn("Undecodable postgres_changes payload")
		return model.InsertEvent{}, false
	}
	if !strings.EqualFold(payload.Data.Type, "INSERT") {
		return model.InsertEvent{}, false
	}

	var record struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(payload.Data.Record, &record); err != nil || record.ID == 0 {
		ch.logger.WithField("channel", ch.topic).Warn("Insert notification without id")
		return model.InsertEvent{}, false
	}
	return model.InsertEvent{Table: payload.Data.Table, ID: record.ID}, true
}

func (ch *RealtimeChannel) heartbeatLoop(interval time.Duration) {
	defer ch.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			err := ch.send(model.PhoenixMessage{
				Topic:   phoenixTopic,
				Event:   model.PhoenixHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     ch.nextRef(),
			})
			if err != nil {
				ch.fail(fmt.Errorf("%w: heartbeat failed: %v", model.ErrTransport, err))
				return
			}
		}
	}
}

func (ch *RealtimeChannel) pushAccessToken(token string) {
	raw, _ := json.Marshal(map[string]string{"access_token": token})
	if err := ch.send(model.PhoenixMessage{
		Topic:   ch.topic,
		Event:   model.PhoenixAccess,
		Payload: raw,
		Ref:     ch.nextRef(),
	}); err != nil {
		ch.logger.WithError(err).Warn("Failed to push refreshed access token")
	}
}

func (ch *RealtimeChannel) fail(err error) {
	select {
	case ch.errc <- err:
	default:
	}
	ch.shutdown()
}

func (ch *RealtimeChannel) shutdown() {
	ch.once.Do(func() {
		close(ch.done)
		if ch.unlisten != nil {
			ch.unlisten()
		}
		ch.conn.Close()
	})
}

// Next blocks until the next insert notification, a transport failure or
// ctx cancellation.
func (ch *RealtimeChannel) Next(ctx context.Context) (model.InsertEvent, error) {
	select {
	case evt := <-ch.events:
		return evt, nil
	case err := <-ch.errc:
		return model.InsertEvent{}, err
	case <-ch.done:
		select {
		case err := <-ch.errc:
			return model.InsertEvent{}, err
		default:
			return model.InsertEvent{}, errors.New("realtime channel closed")
		}
	case <-ctx.Done():
		return model.InsertEvent{}, ctx.Err()
	}
}

// Close leaves the channel and closes the socket. Safe to call repeatedly.
func (ch *RealtimeChannel) Close() error {
	select {
	case <-ch.done:
	default:
		_ = ch.send(model.PhoenixMessage{
			Topic:   ch.topic,
			Event:   model.PhoenixLeave,
			Payload: json.RawMessage(`{}`),
			Ref:     ch.nextRef(),
		})
	}
	ch.shutdown()
	ch.wg.Wait()
	return nil
}
