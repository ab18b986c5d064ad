package client

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/Saurabhtbj1201/chat-app/internal/server"
	"github.com/Saurabhtbj1201/chat-app/internal/types"
)

type FetchState int

const (
	StateIdle FetchState = iota
	StateLoading
	StateReady
	StateFailed
)

type DeliveryState int

const (
	DeliveryPending DeliveryState = iota
	DeliveryConfirmed
	DeliveryFailed
)

const (
	fetchRetries         = 2
	fetchBackoffBase     = 500 * time.Millisecond
	loadingSafetyTimeout = 15 * time.Second
	typingTimeout        = 3 * time.Second
	defaultPageSize      = 50
)

// Envelope is a client-local message created the instant the user
// submits, before any server acknowledgment. It is destroyed when the
// durable record replaces it, or kept in Failed state until the user
// retries or discards it.
type Envelope struct {
	TempId    string
	ChatId    string
	Content   string
	State     DeliveryState
	CreatedAt time.Time
}

type cacheKey struct {
	chatId string
	page   int
}

// Session reconciles an unreliable transport into a consistent chat
// timeline: it owns chat selection, the per-(chat, page) message cache,
// optimistic send envelopes, and de-duplication of server-echoed versus
// optimistically applied messages.
type Session struct {
	log    *log.Logger
	api    *RestClient
	conn   *Conn
	userId string

	mu            sync.Mutex
	selectedChat  string
	state         FetchState
	currentPage   int
	fetchEpoch    int
	fetchCancel   context.CancelFunc
	messages      []types.Message
	outbox        []*Envelope
	cache         map[cacheKey][]types.Message
	chats         []types.Chat
	notifications []types.Message
	onlineUsers   map[string]struct{}
	typing        map[string]map[string]struct{}
	typingTimers  map[string]*time.Timer
	onChange      func()
}

// NewSession wires a REST client and a live connection into one
// reconciliation layer. onChange fires after any observable state
// change; the presentation layer re-reads through the accessors.
func NewSession(logger *log.Logger, baseURL string, onChange func()) *Session {
	s := &Session{
		log:          logger,
		api:          NewRestClient(baseURL),
		cache:        make(map[cacheKey][]types.Message),
		onlineUsers:  make(map[string]struct{}),
		typing:       make(map[string]map[string]struct{}),
		typingTimers: make(map[string]*time.Timer),
		onChange:     onChange,
	}

	s.conn = NewConn(logger, baseURL, Handlers{
		UserOnline:      s.handleUserOnline,
		UserOffline:     s.handleUserOffline,
		OnlineUsers:     s.handleOnlineUsers,
		MessageReceived: s.handleMessageReceived,
		Typing:          s.handleTyping,
		StopTyping:      s.handleStopTyping,
		ReadReceipt:     s.handleReadReceipt,
	})

	return s
}

func (s *Session) Login(ctx context.Context, email, password string) error {
	user, _, err := s.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.userId = user.Id
	s.mu.Unlock()

	return nil
}

// Connect opens the live connection. An authentication failure invokes
// onAuthFail and requires a fresh Login; it is never silently retried.
func (s *Session) Connect(onAuthFail func(reason string)) error {
	return s.conn.Connect(s.userId, s.api.token, onAuthFail)
}

func (s *Session) Conn() *Conn {
	return s.conn
}

func (s *Session) UserId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userId
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.fetchCancel != nil {
		s.fetchCancel()
	}
	s.mu.Unlock()

	s.conn.Close()
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// SelectChat switches the visible timeline to the chat. Previously
// rendered messages are cleared only on a genuine switch so re-selecting
// the current chat never flashes an empty list.
func (s *Session) SelectChat(chatId string) {
	s.mu.Lock()

	prev := s.selectedChat
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}

	s.selectedChat = chatId
	if prev != chatId {
		s.messages = nil
		// a chat switch counts as a forced refresh for the target chat
		s.invalidateChatLocked(chatId)
	}
	s.currentPage = 1
	s.state = StateLoading
	s.fetchEpoch++
	epoch := s.fetchEpoch

	ctx, cancel := context.WithCancel(context.Background())
	s.fetchCancel = cancel
	s.mu.Unlock()

	if prev != "" && prev != chatId {
		s.conn.Send(&server.ClientEvent{LeaveChat: &server.LeaveChat{ChatId: prev}})
	}
	if prev != chatId {
		s.conn.Send(&server.ClientEvent{JoinChat: &server.JoinChat{ChatId: chatId}})
	}

	s.armSafetyTimer(epoch)
	go s.fetchPage(ctx, chatId, 1, epoch)

	s.notify()
}

// Deselect leaves the current chat; any in-flight fetch is canceled and
// must not surface as a failure.
func (s *Session) Deselect() {
	s.mu.Lock()
	prev := s.selectedChat
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	// a fetch that already completed its request would otherwise pass
	// the epoch guard and resurface the deselected chat
	s.fetchEpoch++
	s.selectedChat = ""
	s.messages = nil
	s.state = StateIdle
	s.mu.Unlock()

	if prev != "" {
		s.conn.Send(&server.ClientEvent{LeaveChat: &server.LeaveChat{ChatId: prev}})
	}

	s.notify()
}

// ForceRefresh drops every cached page for the selected chat and
// re-fetches the first page. The visible list is kept until fresh data
// lands.
func (s *Session) ForceRefresh() {
	s.mu.Lock()
	chatId := s.selectedChat
	if chatId == "" {
		s.mu.Unlock()
		return
	}

	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}

	s.invalidateChatLocked(chatId)
	s.currentPage = 1
	s.state = StateLoading
	s.fetchEpoch++
	epoch := s.fetchEpoch

	ctx, cancel := context.WithCancel(context.Background())
	s.fetchCancel = cancel
	s.mu.Unlock()

	s.armSafetyTimer(epoch)
	go s.fetchPage(ctx, chatId, 1, epoch)

	s.notify()
}

// LoadPage fetches an older page of the selected chat, serving it from
// cache when present.
func (s *Session) LoadPage(page int) {
	s.mu.Lock()
	chatId := s.selectedChat
	if chatId == "" || page < 1 {
		s.mu.Unlock()
		return
	}

	if cached, ok := s.cache[cacheKey{chatId: chatId, page: page}]; ok {
		s.currentPage = page
		s.messages = slices.Clone(cached)
		s.state = StateReady
		s.mu.Unlock()
		s.notify()
		return
	}

	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}

	s.currentPage = page
	s.state = StateLoading
	s.fetchEpoch++
	epoch := s.fetchEpoch

	ctx, cancel := context.WithCancel(context.Background())
	s.fetchCancel = cancel
	s.mu.Unlock()

	s.armSafetyTimer(epoch)
	go s.fetchPage(ctx, chatId, page, epoch)

	s.notify()
}

// invalidateChatLocked removes every cached page for the chat. Entries
// are replaced wholesale, never mutated, so dropping the key is enough.
func (s *Session) invalidateChatLocked(chatId string) {
	for key := range s.cache {
		if key.chatId == chatId {
			delete(s.cache, key)
		}
	}
}

// armSafetyTimer forces the loading state to settle even if the
// underlying request never does, so the user is never stuck behind an
// unrecoverable spinner.
func (s *Session) armSafetyTimer(epoch int) {
	time.AfterFunc(loadingSafetyTimeout, func() {
		s.mu.Lock()
		stuck := s.fetchEpoch == epoch && s.state == StateLoading
		if stuck {
			s.state = StateFailed
		}
		s.mu.Unlock()

		if stuck {
			s.notify()
		}
	})
}

func (s *Session) fetchPage(ctx context.Context, chatId string, page, epoch int) {
	messages, _, err := s.fetchWithRetry(ctx, chatId, page)
	if err != nil {
		// a canceled fetch was superseded by a newer selection: a
		// silent no-op, not a failure
		if errors.Is(err, context.Canceled) {
			return
		}

		s.log.Printf("fetch messages for chat %q: %v", chatId, err)
		s.mu.Lock()
		current := s.fetchEpoch == epoch
		if current {
			s.state = StateFailed
		}
		s.mu.Unlock()

		if current {
			s.notify()
		}
		return
	}

	s.mu.Lock()
	if s.fetchEpoch != epoch {
		// superseded while in flight; must not populate the cache
		s.mu.Unlock()
		return
	}

	s.cache[cacheKey{chatId: chatId, page: page}] = messages
	s.messages = slices.Clone(messages)
	s.state = StateReady
	s.mu.Unlock()

	// the viewer has the timeline now; mark it read
	s.conn.Send(&server.ClientEvent{MarkRead: &server.MarkRead{ChatId: chatId, UserId: s.UserId()}})

	s.notify()
}

// fetchWithRetry is a bounded retry loop with exponential backoff and
// jitter. Cancellation is checked each iteration and exits immediately.
func (s *Session) fetchWithRetry(ctx context.Context, chatId string, page int) ([]types.Message, int, error) {
	for attempt := 0; ; attempt++ {
		messages, total, err := s.api.ListMessages(ctx, chatId, page, defaultPageSize)
		if err == nil {
			return messages, total, nil
		}

		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		if attempt == fetchRetries {
			return nil, 0, err
		}

		delay := fetchBackoffBase<<attempt + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// SendMessage applies an optimistic update: a pending envelope appears
// in the visible list immediately, the durable write follows, and on
// acknowledgment the envelope is replaced by the durable record, which
// is then pushed over the live connection for fan-out.
func (s *Session) SendMessage(content string) string {
	s.mu.Lock()
	chatId := s.selectedChat
	if chatId == "" || content == "" {
		s.mu.Unlock()
		return ""
	}

	env := &Envelope{
		TempId:    shortid.MustGenerate(),
		ChatId:    chatId,
		Content:   content,
		State:     DeliveryPending,
		CreatedAt: time.Now(),
	}
	s.outbox = append(s.outbox, env)
	s.mu.Unlock()

	s.notify()

	go s.submit(env)

	return env.TempId
}

func (s *Session) submit(env *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	msg, err := s.api.CreateMessage(ctx, env.ChatId, env.Content)
	if err != nil {
		s.log.Printf("send message: %v", err)
		s.mu.Lock()
		env.State = DeliveryFailed
		s.mu.Unlock()
		s.notify()
		return
	}

	s.mu.Lock()
	s.removeEnvelopeLocked(env.TempId)
	if env.ChatId == s.selectedChat {
		s.mergeMessageLocked(msg)
	}
	s.updateLatestLocked(msg)
	s.mu.Unlock()

	// fan the durable record out to the other participants
	s.conn.Send(&server.ClientEvent{NewMessage: &server.NewMessage{Message: msg}})

	s.notify()
}

// RetrySend resubmits the content of a failed envelope and removes the
// failed entry.
func (s *Session) RetrySend(tempId string) string {
	s.mu.Lock()
	var failed *Envelope
	for _, env := range s.outbox {
		if env.TempId == tempId && env.State == DeliveryFailed {
			failed = env
			break
		}
	}
	if failed == nil {
		s.mu.Unlock()
		return ""
	}
	s.removeEnvelopeLocked(tempId)

	env := &Envelope{
		TempId:    shortid.MustGenerate(),
		ChatId:    failed.ChatId,
		Content:   failed.Content,
		State:     DeliveryPending,
		CreatedAt: time.Now(),
	}
	s.outbox = append(s.outbox, env)
	s.mu.Unlock()

	s.notify()

	go s.submit(env)

	return env.TempId
}

// DiscardSend drops a failed envelope without resubmitting.
func (s *Session) DiscardSend(tempId string) {
	s.mu.Lock()
	s.removeEnvelopeLocked(tempId)
	s.mu.Unlock()

	s.notify()
}

func (s *Session) removeEnvelopeLocked(tempId string) {
	s.outbox = slices.DeleteFunc(s.outbox, func(env *Envelope) bool {
		return env.TempId == tempId
	})
}

// mergeMessageLocked appends the message to the visible list unless its
// durable id is already present. This single check makes the optimistic
// local echo and the live fan-back safe to apply in either order.
func (s *Session) mergeMessageLocked(msg types.Message) bool {
	for _, m := range s.messages {
		if m.Id == msg.Id {
			return false
		}
	}

	s.messages = append(s.messages, msg)
	return true
}

func (s *Session) updateLatestLocked(msg types.Message) {
	for i := range s.chats {
		if s.chats[i].Id == msg.ChatId {
			latest := msg
			s.chats[i].LatestMessage = &latest
			break
		}
	}
}

func (s *Session) LoadChats(ctx context.Context) error {
	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.chats = chats
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Session) CreateChat(ctx context.Context, name string, isGroup bool, participantIds []string) (types.Chat, error) {
	chat, err := s.api.CreateChat(ctx, name, isGroup, participantIds)
	if err != nil {
		return types.Chat{}, err
	}

	s.mu.Lock()
	s.chats = append([]types.Chat{chat}, s.chats...)
	s.mu.Unlock()

	s.notify()
	return chat, nil
}

// StartTyping emits a typing signal for the selected chat and arms a
// timer that emits the stop signal; the client is the authority on
// typing expiry, the server only relays.
func (s *Session) StartTyping() {
	s.mu.Lock()
	chatId := s.selectedChat
	if chatId == "" {
		s.mu.Unlock()
		return
	}

	timer, ok := s.typingTimers[chatId]
	if ok {
		timer.Reset(typingTimeout)
		s.mu.Unlock()
		return
	}

	s.typingTimers[chatId] = time.AfterFunc(typingTimeout, func() {
		s.StopTyping(chatId)
	})
	userId := s.userId
	s.mu.Unlock()

	s.conn.Send(&server.ClientEvent{Typing: &server.TypingSignal{ChatId: chatId, UserId: userId}})
}

func (s *Session) StopTyping(chatId string) {
	s.mu.Lock()
	if timer, ok := s.typingTimers[chatId]; ok {
		timer.Stop()
		delete(s.typingTimers, chatId)
	}
	userId := s.userId
	s.mu.Unlock()

	s.conn.Send(&server.ClientEvent{StopTyping: &server.TypingSignal{ChatId: chatId, UserId: userId}})
}

func (s *Session) handleUserOnline(userId string) {
	s.mu.Lock()
	s.onlineUsers[userId] = struct{}{}
	s.mu.Unlock()

	s.notify()
}

func (s *Session) handleUserOffline(userId string) {
	s.mu.Lock()
	delete(s.onlineUsers, userId)
	s.mu.Unlock()

	s.notify()
}

func (s *Session) handleOnlineUsers(userIds []string) {
	s.mu.Lock()
	s.onlineUsers = make(map[string]struct{}, len(userIds))
	for _, id := range userIds {
		s.onlineUsers[id] = struct{}{}
	}
	s.mu.Unlock()

	s.notify()
}

// handleMessageReceived reconciles a live delivery. Messages for the
// selected chat merge into the visible list (deduplicated by durable
// id); messages for other chats become notifications. Either way the
// chat list's latest-message pointer moves.
func (s *Session) handleMessageReceived(msg types.Message) {
	s.mu.Lock()

	markRead := false
	if msg.ChatId == s.selectedChat {
		if s.currentPage == 1 {
			markRead = s.mergeMessageLocked(msg)
		} else {
			// stale deeper pages must not survive a new message
			s.invalidateChatLocked(msg.ChatId)
		}
	} else {
		if !slices.ContainsFunc(s.notifications, func(n types.Message) bool { return n.Id == msg.Id }) {
			s.notifications = append(s.notifications, msg)
		}
	}

	s.updateLatestLocked(msg)
	userId := s.userId
	s.mu.Unlock()

	if markRead {
		s.conn.Send(&server.ClientEvent{MarkRead: &server.MarkRead{ChatId: msg.ChatId, UserId: userId}})
	}

	s.notify()
}

func (s *Session) handleTyping(chatId, userId string) {
	s.mu.Lock()
	if s.typing[chatId] == nil {
		s.typing[chatId] = make(map[string]struct{})
	}
	s.typing[chatId][userId] = struct{}{}
	s.mu.Unlock()

	s.notify()
}

func (s *Session) handleStopTyping(chatId, userId string) {
	s.mu.Lock()
	if users, ok := s.typing[chatId]; ok {
		delete(users, userId)
		if len(users) == 0 {
			delete(s.typing, chatId)
		}
	}
	s.mu.Unlock()

	s.notify()
}

// handleReadReceipt applies a set union to each visible message's
// read-by list, so a repeated receipt is a no-op.
func (s *Session) handleReadReceipt(chatId, userId string) {
	s.mu.Lock()
	if chatId == s.selectedChat {
		updated := make([]types.Message, len(s.messages))
		for i, m := range s.messages {
			if !slices.Contains(m.ReadBy, userId) {
				m.ReadBy = append(slices.Clone(m.ReadBy), userId)
			}
			updated[i] = m
		}
		s.messages = updated
	}
	s.mu.Unlock()

	s.notify()
}

func (s *Session) State() FetchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SelectedChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedChat
}

// VisibleMessages returns the rendered timeline for the selected chat:
// the durable messages in order followed by the unconfirmed envelopes.
func (s *Session) VisibleMessages() ([]types.Message, []Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := slices.Clone(s.messages)

	var envelopes []Envelope
	for _, env := range s.outbox {
		if env.ChatId == s.selectedChat {
			envelopes = append(envelopes, *env)
		}
	}

	return messages, envelopes
}

func (s *Session) Chats() []types.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chats)
}

func (s *Session) Notifications() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notifications)
}

func (s *Session) ClearNotifications(chatId string) {
	s.mu.Lock()
	s.notifications = slices.DeleteFunc(s.notifications, func(n types.Message) bool {
		return n.ChatId == chatId
	})
	s.mu.Unlock()

	s.notify()
}

func (s *Session) IsUserOnline(userId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.onlineUsers[userId]
	return ok
}

func (s *Session) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	userIds := make([]string, 0, len(s.onlineUsers))
	for id := range s.onlineUsers {
		userIds = append(userIds, id)
	}
	sort.Strings(userIds)

	return userIds
}

func (s *Session) TypingUsers(chatId string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	userIds := make([]string, 0, len(s.typing[chatId]))
	for id := range s.typing[chatId] {
		userIds = append(userIds, id)
	}
	sort.Strings(userIds)

	return userIds
}
