package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/Saurabhtbj1201/chat-app/internal/api"
	"github.com/Saurabhtbj1201/chat-app/internal/config"
	"github.com/Saurabhtbj1201/chat-app/internal/server"
	"github.com/Saurabhtbj1201/chat-app/internal/stats"
	"github.com/Saurabhtbj1201/chat-app/internal/store"
	"github.com/Saurabhtbj1201/chat-app/internal/testutil"
	"github.com/Saurabhtbj1201/chat-app/internal/types"
)

func TestConnSendQueuesWhileDisconnected(t *testing.T) {
	c := NewConn(testutil.TestLogger(t), "http://localhost:0", Handlers{})

	c.Send(&server.ClientEvent{Typing: &server.TypingSignal{ChatId: "c1", UserId: "u1"}})
	c.Send(&server.ClientEvent{MarkRead: &server.MarkRead{ChatId: "c1", UserId: "u1"}})

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.pending, 2, "expected events queued while disconnected")
	assert.Equal(t, 1, c.pending[0].Id, "expected monotonically assigned event ids")
	assert.Equal(t, 2, c.pending[1].Id, "expected monotonically assigned event ids")
	assert.False(t, c.pending[0].Timestamp.IsZero(), "expected timestamp to be assigned")
}

func TestReconnectDelayBounds(t *testing.T) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		floor := reconnectBaseDelay << (attempt - 1)
		ceiling := floor + 250*time.Millisecond

		for range 20 {
			delay := reconnectDelay(attempt)
			assert.GreaterOrEqual(t, delay, floor, "expected delay at least the exponential floor for attempt %d", attempt)
			assert.Less(t, delay, ceiling, "expected jitter bounded by 250ms for attempt %d", attempt)
		}
	}
}

func TestConnDispatch(t *testing.T) {
	var (
		online   []string
		received []types.Message
		typing   []string
		acks     []int
	)

	c := NewConn(testutil.TestLogger(t), "http://localhost:0", Handlers{
		UserOnline:      func(userId string) { online = append(online, userId) },
		MessageReceived: func(msg types.Message) { received = append(received, msg) },
		Typing:          func(chatId, userId string) { typing = append(typing, userId) },
		Response:        func(id, code int, errMsg string) { acks = append(acks, code) },
	})

	msg := types.Message{Id: "m1", ChatId: "c1"}
	c.dispatch(&server.ServerEvent{UserOnline: &server.PresenceDelta{UserId: "u2"}})
	c.dispatch(&server.ServerEvent{MessageReceived: &msg})
	c.dispatch(&server.ServerEvent{Typing: &server.TypingSignal{ChatId: "c1", UserId: "u2"}})
	c.dispatch(server.NoErrOK(1))

	// events with no registered handler are ignored
	c.dispatch(&server.ServerEvent{UserOffline: &server.PresenceDelta{UserId: "u2"}})

	assert.Equal(t, []string{"u2"}, online, "expected user online handler to fire")
	assert.Len(t, received, 1, "expected message handler to fire")
	assert.Equal(t, "m1", received[0].Id, "expected delivered message to match")
	assert.Equal(t, []string{"u2"}, typing, "expected typing handler to fire")
	assert.Equal(t, []int{200}, acks, "expected response handler to fire")
}

func TestConnConnect_Integration(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test password: %v", err)
	}

	db := &store.MockChatStore{}
	db.On("GetAccountByEmail", "test@example.com").Return(store.User{
		Id:           "u1",
		Username:     "testuser",
		EmailAddress: "test@example.com",
		PasswordHash: string(hash),
	}, nil).Once()
	db.On("GetAccountById", "u1").Return(store.User{
		Id:       "u1",
		Username: "testuser",
	}, nil)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(5)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, su)
	if err != nil {
		t.Fatalf("failed to create chat server: %v", err)
	}
	go cs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	}()

	mux := http.NewServeMux()
	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	api.NewChatApp(mux, logger, cs, db, su, cfg)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := NewSession(logger, ts.URL, nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = s.Login(ctx, "test@example.com", "s3cret")
	assert.NoError(t, err, "expected login to succeed")
	assert.Equal(t, "u1", s.UserId(), "expected session user id from login")

	err = s.Connect(func(reason string) {
		t.Errorf("unexpected auth failure: %s", reason)
	})
	assert.NoError(t, err, "expected connect to succeed")
	assert.True(t, s.Conn().IsConnected(), "expected live connection")

	// the setup handshake registers this user with the server
	assert.Eventually(t, func() bool {
		return cs.Registry().IsOnline("u1")
	}, time.Second, 10*time.Millisecond, "expected setup to register the user online")
}

func TestConnConnect_AuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewConn(testutil.TestLogger(t), ts.URL, Handlers{})

	var reason string
	err := c.Connect("u1", "expired-token", func(r string) { reason = r })
	assert.Error(t, err, "expected connect to fail")
	assert.Equal(t, "auth_failed", reason, "expected auth failure callback")
	assert.False(t, c.IsConnected(), "expected no live connection")
}
