package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Saurabhtbj1201/chat-app/internal/store"
	"github.com/Saurabhtbj1201/chat-app/internal/types"
)

func authedRequest(method, target string, body []byte, userId string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(WithUserId(r.Context(), userId))
}

func TestSearchUsers(t *testing.T) {
	t.Run("returns matching users", func(t *testing.T) {
		db := &store.MockChatStore{}
		db.On("SearchAccounts", "ali", "u1").Return([]store.User{
			{Id: "u2", Username: "alice", EmailAddress: "alice@example.com"},
		}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		w := httptest.NewRecorder()

		app.searchUsers(w, authedRequest(http.MethodGet, "/api/users?search=ali", nil, "u1"))
		assert.Equal(t, http.StatusOK, w.Code, "expected 200 for user search")

		var users []types.User
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&users), "expected json user list")
		assert.Len(t, users, 1, "expected 1 matching user")
		assert.Equal(t, "alice", users[0].Username, "expected matched username")
	})

	t.Run("empty query is rejected", func(t *testing.T) {
		app := newTestApp(t, &store.MockChatStore{})
		w := httptest.NewRecorder()

		app.searchUsers(w, authedRequest(http.MethodGet, "/api/users", nil, "u1"))
		assert.Equal(t, http.StatusBadRequest, w.Code, "expected 400 for empty search query")
	})
}

func TestCreateChat(t *testing.T) {
	t.Run("requester is always a participant", func(t *testing.T) {
		db := &store.MockChatStore{}
		db.On("CreateChat", store.CreateChatParams{
			Name:           "team",
			IsGroup:        true,
			ParticipantIds: []string{"u2", "u3", "u1"},
		}).Return(store.Chat{Id: "c1", Name: "team", IsGroup: true}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		body, _ := json.Marshal(CreateChatRequest{
			Name:           "team",
			IsGroup:        true,
			ParticipantIds: []string{"u2", "u3"},
		})
		w := httptest.NewRecorder()

		app.createChat(w, authedRequest(http.MethodPost, "/api/chats", body, "u1"))
		assert.Equal(t, http.StatusCreated, w.Code, "expected 201 for new chat")

		var chat types.Chat
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&chat), "expected json chat in response")
		assert.Equal(t, "c1", chat.Id, "expected created chat id")
	})

	t.Run("no participants is rejected", func(t *testing.T) {
		app := newTestApp(t, &store.MockChatStore{})

		body, _ := json.Marshal(CreateChatRequest{Name: "empty"})
		w := httptest.NewRecorder()

		app.createChat(w, authedRequest(http.MethodPost, "/api/chats", body, "u1"))
		assert.Equal(t, http.StatusBadRequest, w.Code, "expected 400 without participants")
	})
}

func TestListChats(t *testing.T) {
	db := &store.MockChatStore{}
	db.On("ListChatsForAccount", "u1").Return([]store.Chat{
		{
			Id:   "c1",
			Name: "team",
			LatestMessage: &store.Message{
				Id:     "m9",
				ChatId: "c1",
			},
		},
	}, nil).Once()
	defer db.AssertExpectations(t)

	app := newTestApp(t, db)
	w := httptest.NewRecorder()

	app.listChats(w, authedRequest(http.MethodGet, "/api/chats", nil, "u1"))
	assert.Equal(t, http.StatusOK, w.Code, "expected 200 for chat list")

	var chats []types.Chat
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&chats), "expected json chat list")
	assert.Len(t, chats, 1, "expected 1 chat")
	assert.NotNil(t, chats[0].LatestMessage, "expected latest message to be included")
	assert.Equal(t, "m9", chats[0].LatestMessage.Id, "expected latest message id to match")
}

func TestCreateMessage(t *testing.T) {
	t.Run("participant can send", func(t *testing.T) {
		db := &store.MockChatStore{}
		db.On("GetChatParticipants", "c1").Return([]string{"u1", "u2"}, nil).Once()
		db.On("CreateMessage", store.CreateMessageParams{
			ChatId:   "c1",
			SenderId: "u1",
			Content:  "hello",
		}).Return(store.Message{
			Id:       "m1",
			ChatId:   "c1",
			SenderId: "u1",
			Content:  "hello",
			ReadBy:   []string{"u1"},
		}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		body, _ := json.Marshal(CreateMessageRequest{ChatId: "c1", Content: "hello"})
		w := httptest.NewRecorder()

		app.createMessage(w, authedRequest(http.MethodPost, "/api/messages", body, "u1"))
		assert.Equal(t, http.StatusCreated, w.Code, "expected 201 for new message")

		var msg types.Message
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&msg), "expected json message in response")
		assert.Equal(t, "m1", msg.Id, "expected created message id")
		assert.Contains(t, msg.ReadBy, "u1", "expected sender to have read its own message")
	})

	t.Run("non-participant is forbidden", func(t *testing.T) {
		db := &store.MockChatStore{}
		db.On("GetChatParticipants", "c1").Return([]string{"u2", "u3"}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		body, _ := json.Marshal(CreateMessageRequest{ChatId: "c1", Content: "hello"})
		w := httptest.NewRecorder()

		app.createMessage(w, authedRequest(http.MethodPost, "/api/messages", body, "u1"))
		assert.Equal(t, http.StatusForbidden, w.Code, "expected 403 for non-participant")
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		app := newTestApp(t, &store.MockChatStore{})

		body, _ := json.Marshal(CreateMessageRequest{ChatId: "c1"})
		w := httptest.NewRecorder()

		app.createMessage(w, authedRequest(http.MethodPost, "/api/messages", body, "u1"))
		assert.Equal(t, http.StatusBadRequest, w.Code, "expected 400 for empty content")
	})
}

func TestGetMessages(t *testing.T) {
	t.Run("returns a message page", func(t *testing.T) {
		db := &store.MockChatStore{}
		db.On("GetChatParticipants", "c1").Return([]string{"u1", "u2"}, nil).Once()
		db.On("ListMessages", "c1", 2, 10).Return([]store.Message{
			{Id: "m1", ChatId: "c1", SenderId: "u2", Content: "older"},
		}, 11, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		w := httptest.NewRecorder()

		app.getMessages(w, authedRequest(http.MethodGet, "/api/messages?chat_id=c1&page=2&page_size=10", nil, "u1"))
		assert.Equal(t, http.StatusOK, w.Code, "expected 200 for message page")

		var page MessagePage
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&page), "expected json message page")
		assert.Len(t, page.Messages, 1, "expected 1 message in page")
		assert.Equal(t, 11, page.Total, "expected total count to match")
		assert.Equal(t, 2, page.Page, "expected requested page to be echoed")
		assert.Equal(t, 10, page.PageSize, "expected requested page size to be echoed")
	})

	t.Run("defaults to first page", func(t *testing.T) {
		db := &store.MockChatStore{}
		db.On("GetChatParticipants", "c1").Return([]string{"u1"}, nil).Once()
		db.On("ListMessages", "c1", 1, 50).Return([]store.Message{}, 0, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		w := httptest.NewRecorder()

		app.getMessages(w, authedRequest(http.MethodGet, "/api/messages?chat_id=c1", nil, "u1"))
		assert.Equal(t, http.StatusOK, w.Code, "expected 200 with default paging")
	})

	t.Run("missing chat id is rejected", func(t *testing.T) {
		app := newTestApp(t, &store.MockChatStore{})
		w := httptest.NewRecorder()

		app.getMessages(w, authedRequest(http.MethodGet, "/api/messages", nil, "u1"))
		assert.Equal(t, http.StatusBadRequest, w.Code, "expected 400 without chat id")
	})

	t.Run("invalid page is rejected", func(t *testing.T) {
		app := newTestApp(t, &store.MockChatStore{})
		w := httptest.NewRecorder()

		app.getMessages(w, authedRequest(http.MethodGet, "/api/messages?chat_id=c1&page=0", nil, "u1"))
		assert.Equal(t, http.StatusBadRequest, w.Code, "expected 400 for page below 1")
	})

	t.Run("non-participant is forbidden", func(t *testing.T) {
		db := &store.MockChatStore{}
		db.On("GetChatParticipants", "c1").Return([]string{"u2"}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		w := httptest.NewRecorder()

		app.getMessages(w, authedRequest(http.MethodGet, "/api/messages?chat_id=c1", nil, "u1"))
		assert.Equal(t, http.StatusForbidden, w.Code, "expected 403 for non-participant")
	})
}
