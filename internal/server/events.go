package server

import (
	"net/http"
	"time"

	"github.com/Saurabhtbj1201/chat-app/internal/types"
)

type BaseEvent struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientEvent is an event received from a client. Exactly one of the
// variant fields is set.
type ClientEvent struct {
	BaseEvent
	Setup      *Setup        `json:"setup,omitempty"`
	NewMessage *NewMessage   `json:"new_message,omitempty"`
	JoinChat   *JoinChat     `json:"join_chat,omitempty"`
	LeaveChat  *LeaveChat    `json:"leave_chat,omitempty"`
	Typing     *TypingSignal `json:"typing,omitempty"`
	StopTyping *TypingSignal `json:"stop_typing,omitempty"`
	MarkRead   *MarkRead     `json:"mark_read,omitempty"`
	client     *Client
}

type Setup struct {
	UserId string `json:"user_id"`
}

// NewMessage announces a message that was already persisted by the REST
// collaborator. The server never assigns message ids.
type NewMessage struct {
	Message types.Message `json:"message"`
}

type JoinChat struct {
	ChatId string `json:"chat_id"`
}

type LeaveChat struct {
	ChatId string `json:"chat_id"`
}

type TypingSignal struct {
	ChatId string `json:"chat_id"`
	UserId string `json:"user_id"`
}

type MarkRead struct {
	ChatId string `json:"chat_id"`
	UserId string `json:"user_id"`
}

// ServerEvent is an event pushed to a client. Exactly one of the variant
// fields is set.
type ServerEvent struct {
	BaseEvent
	Response        *Response      `json:"response,omitempty"`
	UserOnline      *PresenceDelta `json:"user_online,omitempty"`
	UserOffline     *PresenceDelta `json:"user_offline,omitempty"`
	OnlineUsers     *OnlineUsers   `json:"online_users,omitempty"`
	MessageReceived *types.Message `json:"message_received,omitempty"`
	Typing          *TypingSignal  `json:"typing,omitempty"`
	StopTyping      *TypingSignal  `json:"stop_typing,omitempty"`
	ReadReceipt     *ReadReceipt   `json:"read_receipt,omitempty"`
	SkipClient      *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type PresenceDelta struct {
	UserId string `json:"user_id"`
}

type OnlineUsers struct {
	UserIds []string `json:"user_ids"`
}

type ReadReceipt struct {
	ChatId string `json:"chat_id"`
	UserId string `json:"user_id"`
}

func NoErrOK(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
		},
	}
}

func ErrChatNotFound(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "chat not found",
		},
	}
}

func ErrInternalError(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrNotSetUp(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusUnauthorized,
			Error:        "connection not set up",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidEvent(id int) *ServerEvent {
	evt := &ServerEvent{
		BaseEvent: BaseEvent{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid event format",
		},
	}

	if id > 0 {
		evt.Id = id
	}
	return evt
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
