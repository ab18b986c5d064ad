package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Saurabhtbj1201/chat-app/internal/testutil"
	"github.com/Saurabhtbj1201/chat-app/internal/types"
)

func TestClientEventUnmarshal(t *testing.T) {
	tcases := []struct {
		name  string
		raw   string
		check func(t *testing.T, evt ClientEvent)
	}{
		{
			name: "setup",
			raw:  `{"id":1,"setup":{"user_id":"user1"}}`,
			check: func(t *testing.T, evt ClientEvent) {
				assert.Equal(t, 1, evt.Id, "expected event id to be parsed")
				assert.NotNil(t, evt.Setup, "expected setup variant")
				assert.Equal(t, "user1", evt.Setup.UserId, "expected user id to be parsed")
			},
		},
		{
			name: "new message",
			raw:  `{"id":2,"new_message":{"message":{"id":"m1","chat_id":"c1","sender_id":"u1","content":"hi"}}}`,
			check: func(t *testing.T, evt ClientEvent) {
				assert.NotNil(t, evt.NewMessage, "expected new_message variant")
				assert.Equal(t, "m1", evt.NewMessage.Message.Id, "expected message id to be parsed")
				assert.Equal(t, "c1", evt.NewMessage.Message.ChatId, "expected chat id to be parsed")
			},
		},
		{
			name: "typing",
			raw:  `{"id":3,"typing":{"chat_id":"c1","user_id":"u1"}}`,
			check: func(t *testing.T, evt ClientEvent) {
				assert.NotNil(t, evt.Typing, "expected typing variant")
				assert.Nil(t, evt.StopTyping, "expected stop_typing to be unset")
			},
		},
		{
			name: "mark read",
			raw:  `{"id":4,"mark_read":{"chat_id":"c1","user_id":"u1"}}`,
			check: func(t *testing.T, evt ClientEvent) {
				assert.NotNil(t, evt.MarkRead, "expected mark_read variant")
				assert.Equal(t, "c1", evt.MarkRead.ChatId, "expected chat id to be parsed")
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var evt ClientEvent
			err := json.Unmarshal([]byte(tc.raw), &evt)
			assert.NoError(t, err, "expected no error unmarshaling event")
			tc.check(t, evt)
		})
	}
}

func TestServerEventMarshal(t *testing.T) {
	msg := types.Message{Id: "m1", ChatId: "c1", SenderId: "u1", Content: "hi"}

	evt := &ServerEvent{
		BaseEvent:       BaseEvent{Id: 9, Timestamp: Now()},
		MessageReceived: &msg,
		SkipClient:      &Client{},
	}

	raw, err := serializeEvent(evt)
	assert.NoError(t, err, "expected no error serializing event")
	assert.Contains(t, string(raw), `"message_received"`, "expected message_received key")
	assert.NotContains(t, string(raw), "SkipClient", "expected SkipClient to be excluded from the wire")

	var decoded map[string]json.RawMessage
	err = json.Unmarshal(raw, &decoded)
	assert.NoError(t, err, "expected serialized event to be valid json")
	assert.NotContains(t, decoded, "response", "expected unset variants to be omitted")
}

func TestResponseFactories(t *testing.T) {
	tcases := []struct {
		name         string
		evt          *ServerEvent
		expectedCode int
		expectErr    bool
	}{
		{name: "ok", evt: NoErrOK(1), expectedCode: 200, expectErr: false},
		{name: "chat not found", evt: ErrChatNotFound(2), expectedCode: 404, expectErr: true},
		{name: "internal error", evt: ErrInternalError(3), expectedCode: 500, expectErr: true},
		{name: "not set up", evt: ErrNotSetUp(4), expectedCode: 401, expectErr: true},
		{name: "service unavailable", evt: ErrServiceUnavailable(5), expectedCode: 503, expectErr: true},
		{name: "invalid event", evt: ErrInvalidEvent(6), expectedCode: 400, expectErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotNil(t, tc.evt.Response, "expected response to be set")
			assert.Equal(t, tc.expectedCode, tc.evt.Response.ResponseCode, "expected response code to match")
			if tc.expectErr {
				assert.NotEmpty(t, tc.evt.Response.Error, "expected error message to be set")
			} else {
				assert.Empty(t, tc.evt.Response.Error, "expected no error message")
			}
			assert.False(t, tc.evt.Timestamp.IsZero(), "expected timestamp to be set")
		})
	}
}

func TestClientQueueEvent(t *testing.T) {
	c := &Client{send: make(chan *ServerEvent, 1), log: testutil.TestLogger(t)}

	assert.True(t, c.queueEvent(NoErrOK(1)), "expected queue to accept event with capacity")
	assert.False(t, c.queueEvent(NoErrOK(2)), "expected queue to reject event when full")
	assert.Len(t, c.send, 1, "expected only the first event to be queued")
}
