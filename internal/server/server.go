package server

import (
	"context"
	"log"
	"slices"

	"github.com/Saurabhtbj1201/chat-app/internal/stats"
	"github.com/Saurabhtbj1201/chat-app/internal/store"
)

type stopReq struct {
	done chan struct{}
}

// ChatServer owns the real-time side of the application: it tracks which
// users are reachable, fans persisted messages out to chat participants,
// and relays typing and read-receipt signals between chat rooms. A single
// event loop serializes all state transitions, which also keeps fan-out
// for any one chat in the order its messages were persisted.
type ChatServer struct {
	log            *log.Logger
	db             store.ChatStore
	stats          stats.StatsProvider
	registry       *SessionRegistry
	clients        map[*Client]struct{}
	rooms          map[string]map[*Client]struct{}
	eventChan      chan *ClientEvent
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
}

func NewChatServer(logger *log.Logger, db store.ChatStore, sp stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		registry:       NewSessionRegistry(),
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]map[*Client]struct{}),
		eventChan:      make(chan *ClientEvent, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
	}

	sp.RegisterMetric(stats.NumConnections)
	sp.RegisterMetric(stats.NumOnlineUsers)
	sp.RegisterMetric(stats.NumActiveChats)
	sp.RegisterMetric(stats.MessagesDelivered)
	sp.RegisterMetric(stats.MessagesDropped)

	return cs, nil
}

func (cs *ChatServer) Registry() *SessionRegistry {
	return cs.registry
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.registerChan <- c
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.log.Printf("adding connection %q for user %q", c.id, c.userId)
			cs.clients[c] = struct{}{}
			cs.stats.Incr(stats.NumConnections)
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case evt := <-cs.eventChan:
			cs.dispatch(evt)
		case req := <-cs.stop:
			cs.log.Println("stopping connections")
			for c := range cs.clients {
				c.stopClient()
			}
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) dispatch(evt *ClientEvent) {
	switch {
	case evt.Setup != nil:
		cs.handleSetup(evt)
	case evt.NewMessage != nil:
		cs.handleNewMessage(evt)
	case evt.JoinChat != nil:
		cs.handleJoinChat(evt)
	case evt.LeaveChat != nil:
		cs.handleLeaveChat(evt)
	case evt.Typing != nil:
		cs.relayTyping(evt, evt.Typing, true)
	case evt.StopTyping != nil:
		cs.relayTyping(evt, evt.StopTyping, false)
	case evt.MarkRead != nil:
		cs.handleMarkRead(evt)
	default:
		evt.client.queueEvent(ErrInvalidEvent(evt.Id))
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.log.Printf("removing connection %q for user %q", c.id, c.userId)
	delete(cs.clients, c)
	cs.stats.Decr(stats.NumConnections)

	for chatId, members := range cs.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(cs.rooms, chatId)
				cs.stats.Decr(stats.NumActiveChats)
			}
		}
	}

	if !c.setUp {
		return
	}

	userId, becameOffline := cs.registry.Unregister(c)
	if becameOffline {
		cs.stats.Decr(stats.NumOnlineUsers)
		cs.broadcastAll(&ServerEvent{
			BaseEvent:   BaseEvent{Timestamp: Now()},
			UserOffline: &PresenceDelta{UserId: userId},
			SkipClient:  c,
		})
	}
}

// handleSetup registers the connection under its user. A duplicate setup
// after a reconnect re-broadcasts the online delta rather than
// suppressing it; receivers apply a set union, so the repeat is harmless.
func (cs *ChatServer) handleSetup(evt *ClientEvent) {
	c := evt.client
	if evt.Setup.UserId != c.userId {
		cs.log.Printf("setup user %q does not match connection user %q", evt.Setup.UserId, c.userId)
		c.queueEvent(ErrNotSetUp(evt.Id))
		return
	}

	becameOnline := cs.registry.Register(c.userId, c)
	c.setUp = true

	if becameOnline {
		cs.stats.Incr(stats.NumOnlineUsers)
	}

	cs.broadcastAll(&ServerEvent{
		BaseEvent:  BaseEvent{Timestamp: Now()},
		UserOnline: &PresenceDelta{UserId: c.userId},
		SkipClient: c,
	})

	// late joiners get the full picture, not just future deltas
	c.queueEvent(&ServerEvent{
		BaseEvent:   BaseEvent{Timestamp: Now()},
		OnlineUsers: &OnlineUsers{UserIds: cs.registry.Snapshot()},
	})

	c.queueEvent(NoErrOK(evt.Id))
}

// handleNewMessage is the delivery router. The message was already
// persisted by the REST collaborator, so a failure here only skips the
// live push; recipients recover the message on their next fetch.
func (cs *ChatServer) handleNewMessage(evt *ClientEvent) {
	c := evt.client
	if !c.setUp {
		c.queueEvent(ErrNotSetUp(evt.Id))
		return
	}

	msg := evt.NewMessage.Message
	if msg.Id == "" || msg.ChatId == "" {
		c.queueEvent(ErrInvalidEvent(evt.Id))
		return
	}

	// identity comes from the authenticated connection, never the
	// payload
	if msg.SenderId != c.userId {
		c.queueEvent(ErrInvalidEvent(evt.Id))
		return
	}

	// membership is read per delivery, never cached, so participant
	// changes between sends are always honored
	participants, err := cs.db.GetChatParticipants(msg.ChatId)
	if err != nil {
		cs.log.Printf("participant lookup failed for chat %q: %v", msg.ChatId, err)
		cs.stats.Incr(stats.MessagesDropped)
		return
	}

	if !slices.Contains(participants, c.userId) {
		c.queueEvent(ErrChatNotFound(evt.Id))
		return
	}

	delivery := &ServerEvent{
		BaseEvent:       BaseEvent{Timestamp: Now()},
		MessageReceived: &msg,
	}

	for _, userId := range participants {
		if userId == msg.SenderId {
			// the sender already has the message from its own
			// request or optimistic envelope
			continue
		}

		for _, conn := range cs.registry.ConnectionsFor(userId) {
			if conn.queueEvent(delivery) {
				cs.stats.Incr(stats.MessagesDelivered)
			} else {
				cs.stats.Incr(stats.MessagesDropped)
			}
		}
	}

	c.queueEvent(NoErrOK(evt.Id))
}

func (cs *ChatServer) handleJoinChat(evt *ClientEvent) {
	c := evt.client
	if !c.setUp {
		c.queueEvent(ErrNotSetUp(evt.Id))
		return
	}

	chatId := evt.JoinChat.ChatId
	participants, err := cs.db.GetChatParticipants(chatId)
	if err != nil {
		cs.log.Printf("participant lookup failed for chat %q: %v", chatId, err)
		c.queueEvent(ErrChatNotFound(evt.Id))
		return
	}

	if !slices.Contains(participants, c.userId) {
		c.queueEvent(ErrChatNotFound(evt.Id))
		return
	}

	members, ok := cs.rooms[chatId]
	if !ok {
		members = make(map[*Client]struct{})
		cs.rooms[chatId] = members
		cs.stats.Incr(stats.NumActiveChats)
	}
	members[c] = struct{}{}

	c.queueEvent(NoErrOK(evt.Id))
}

func (cs *ChatServer) handleLeaveChat(evt *ClientEvent) {
	c := evt.client
	if !c.setUp {
		c.queueEvent(ErrNotSetUp(evt.Id))
		return
	}

	chatId := evt.LeaveChat.ChatId
	if members, ok := cs.rooms[chatId]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(cs.rooms, chatId)
			cs.stats.Decr(stats.NumActiveChats)
		}
	}

	c.queueEvent(NoErrOK(evt.Id))
}

// relayTyping forwards a typing signal to the other members of the chat
// room. The originating client owns expiry; nothing is stored or timed
// out here.
func (cs *ChatServer) relayTyping(evt *ClientEvent, sig *TypingSignal, start bool) {
	c := evt.client
	if !c.setUp {
		c.queueEvent(ErrNotSetUp(evt.Id))
		return
	}

	out := &ServerEvent{
		BaseEvent:  BaseEvent{Timestamp: Now()},
		SkipClient: c,
	}
	relayed := &TypingSignal{ChatId: sig.ChatId, UserId: c.userId}
	if start {
		out.Typing = relayed
	} else {
		out.StopTyping = relayed
	}

	cs.broadcastRoom(sig.ChatId, out)
}

// handleMarkRead appends the reader to every message of the chat in the
// store (set semantics, so repeats are no-ops) and relays a read receipt
// to the room.
func (cs *ChatServer) handleMarkRead(evt *ClientEvent) {
	c := evt.client
	if !c.setUp {
		c.queueEvent(ErrNotSetUp(evt.Id))
		return
	}

	chatId := evt.MarkRead.ChatId
	if err := cs.db.AppendReader(chatId, c.userId); err != nil {
		cs.log.Printf("append reader failed for chat %q: %v", chatId, err)
		c.queueEvent(ErrInternalError(evt.Id))
		return
	}

	cs.broadcastRoom(chatId, &ServerEvent{
		BaseEvent:   BaseEvent{Timestamp: Now()},
		ReadReceipt: &ReadReceipt{ChatId: chatId, UserId: c.userId},
		SkipClient:  c,
	})

	c.queueEvent(NoErrOK(evt.Id))
}

// broadcastAll pushes an event to every connected client. Presence is
// global in this design: everyone hears about everyone.
func (cs *ChatServer) broadcastAll(evt *ServerEvent) {
	for c := range cs.clients {
		if c == evt.SkipClient {
			continue
		}
		c.queueEvent(evt)
	}
}

func (cs *ChatServer) broadcastRoom(chatId string, evt *ServerEvent) {
	for c := range cs.rooms[chatId] {
		if c == evt.SkipClient {
			continue
		}
		c.queueEvent(evt)
	}
}
