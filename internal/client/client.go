package client

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Saurabhtbj1201/chat-app/internal/server"
	"github.com/Saurabhtbj1201/chat-app/internal/types"
)

const (
	reconnectBaseDelay   = time.Second
	maxReconnectAttempts = 5
	writeTimeout         = 10 * time.Second
)

var errAuthFailed = errors.New("authentication failed")

// Handlers is the inbound event table. One field per server event keeps
// dispatch exhaustive at compile time; there are no string-keyed
// callbacks to typo.
type Handlers struct {
	UserOnline      func(userId string)
	UserOffline     func(userId string)
	OnlineUsers     func(userIds []string)
	MessageReceived func(msg types.Message)
	Typing          func(chatId, userId string)
	StopTyping      func(chatId, userId string)
	ReadReceipt     func(chatId, userId string)
	Response        func(id, code int, errMsg string)
	Connected       func()
	Disconnected    func()
}

// Conn owns the persistent connection lifecycle: dial, setup handshake,
// bounded reconnect with backoff, and an outbound queue covering
// connection gaps.
type Conn struct {
	log        *log.Logger
	wsURL      string
	handlers   Handlers
	onAuthFail func(reason string)
	dialer     *websocket.Dialer

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	closed    bool
	pending   []*server.ClientEvent
	nextId    int
	userId    string
	token     string

	writeMu sync.Mutex
	stop    chan struct{}
}

func NewConn(logger *log.Logger, baseURL string, handlers Handlers) *Conn {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws"

	return &Conn{
		log:      logger,
		wsURL:    wsURL,
		handlers: handlers,
		dialer:   websocket.DefaultDialer,
		stop:     make(chan struct{}),
	}
}

// Connect dials the server as the given user. A failed credential check
// is fatal for the attempt: onAuthFail fires and no retry loop starts;
// the caller must re-authenticate.
func (c *Conn) Connect(userId, token string, onAuthFail func(reason string)) error {
	c.mu.Lock()
	c.userId = userId
	c.token = token
	c.onAuthFail = onAuthFail
	c.mu.Unlock()

	ws, err := c.dial()
	if err != nil {
		if errors.Is(err, errAuthFailed) && onAuthFail != nil {
			onAuthFail("auth_failed")
		}
		return err
	}

	c.attach(ws)
	go c.run(ws)

	return nil
}

func (c *Conn) dial() (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	ws, resp, err := c.dialer.Dial(c.wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", c.wsURL, errAuthFailed)
		}
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	return ws, nil
}

// attach installs a live socket, announces the user and flushes any
// events queued while disconnected.
func (c *Conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.connected = true
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	// re-announce on every (re)connect; the server re-broadcasts
	// presence deltas, which receivers absorb idempotently
	c.write(&server.ClientEvent{
		BaseEvent: server.BaseEvent{Id: c.nextEventId(), Timestamp: server.Now()},
		Setup:     &server.Setup{UserId: c.userId},
	})

	for _, evt := range queued {
		c.write(evt)
	}

	if c.handlers.Connected != nil {
		c.handlers.Connected()
	}
}

// run reads events until the socket fails, then tries to re-establish
// the connection with a bounded backoff loop.
func (c *Conn) run(ws *websocket.Conn) {
	for {
		c.readAll(ws)

		c.mu.Lock()
		c.connected = false
		closed := c.closed
		c.mu.Unlock()

		if c.handlers.Disconnected != nil {
			c.handlers.Disconnected()
		}

		if closed {
			return
		}

		next, err := c.redial()
		if err != nil {
			c.log.Printf("reconnect abandoned: %v", err)
			return
		}

		c.attach(next)
		ws = next
	}
}

func (c *Conn) readAll(ws *websocket.Conn) {
	for {
		var evt server.ServerEvent
		if err := ws.ReadJSON(&evt); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		c.dispatch(&evt)
	}
}

// redial is an explicit bounded loop, not recursion: each iteration
// checks for shutdown before sleeping, so cancellation is a first-class
// exit condition.
func (c *Conn) redial() (*websocket.Conn, error) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := reconnectDelay(attempt)

		select {
		case <-c.stop:
			return nil, errors.New("connection closed")
		case <-time.After(delay):
		}

		ws, err := c.dial()
		if err == nil {
			return ws, nil
		}

		if errors.Is(err, errAuthFailed) {
			c.mu.Lock()
			onAuthFail := c.onAuthFail
			c.mu.Unlock()
			if onAuthFail != nil {
				onAuthFail("auth_failed")
			}
			return nil, err
		}

		c.log.Printf("reconnect attempt %d failed: %v", attempt, err)
	}

	return nil, fmt.Errorf("gave up after %d attempts", maxReconnectAttempts)
}

// reconnectDelay doubles per attempt with jitter so a fleet of clients
// does not redial in lockstep after a server restart.
func reconnectDelay(attempt int) time.Duration {
	return reconnectBaseDelay<<(attempt-1) + time.Duration(rand.Int63n(int64(250*time.Millisecond)))
}

func (c *Conn) dispatch(evt *server.ServerEvent) {
	switch {
	case evt.UserOnline != nil:
		if c.handlers.UserOnline != nil {
			c.handlers.UserOnline(evt.UserOnline.UserId)
		}
	case evt.UserOffline != nil:
		if c.handlers.UserOffline != nil {
			c.handlers.UserOffline(evt.UserOffline.UserId)
		}
	case evt.OnlineUsers != nil:
		if c.handlers.OnlineUsers != nil {
			c.handlers.OnlineUsers(evt.OnlineUsers.UserIds)
		}
	case evt.MessageReceived != nil:
		if c.handlers.MessageReceived != nil {
			c.handlers.MessageReceived(*evt.MessageReceived)
		}
	case evt.Typing != nil:
		if c.handlers.Typing != nil {
			c.handlers.Typing(evt.Typing.ChatId, evt.Typing.UserId)
		}
	case evt.StopTyping != nil:
		if c.handlers.StopTyping != nil {
			c.handlers.StopTyping(evt.StopTyping.ChatId, evt.StopTyping.UserId)
		}
	case evt.ReadReceipt != nil:
		if c.handlers.ReadReceipt != nil {
			c.handlers.ReadReceipt(evt.ReadReceipt.ChatId, evt.ReadReceipt.UserId)
		}
	case evt.Response != nil:
		if c.handlers.Response != nil {
			c.handlers.Response(evt.Id, evt.Response.ResponseCode, evt.Response.Error)
		}
	}
}

// Send delivers the event over the live connection, or queues it for the
// next reconnect when the transport is down.
func (c *Conn) Send(evt *server.ClientEvent) {
	evt.Id = c.nextEventId()
	evt.Timestamp = server.Now()

	c.mu.Lock()
	if !c.connected {
		c.pending = append(c.pending, evt)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.write(evt)
}

// QueueForLater defers the event until the connection is next
// established, even if it is currently up.
func (c *Conn) QueueForLater(evt *server.ClientEvent) {
	evt.Id = c.nextEventId()
	evt.Timestamp = server.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, evt)
}

func (c *Conn) write(evt *server.ClientEvent) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(evt); err != nil {
		c.log.Printf("write event: %v", err)
	}
}

func (c *Conn) nextEventId() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextId++
	return c.nextId
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ForceReconnect drops the current socket; the run loop picks it up and
// redials.
func (c *Conn) ForceReconnect() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	close(c.stop)
	if ws != nil {
		ws.Close()
	}
}
