package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Saurabhtbj1201/chat-app/internal/api"
	"github.com/Saurabhtbj1201/chat-app/internal/types"
)

const requestTimeout = 8 * time.Second

// RestClient talks to the durable REST collaborator. Every request
// carries a bounded timeout so a hung request can never wedge the
// caller's loading state on its own.
type RestClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewRestClient(baseURL string) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (rc *RestClient) SetToken(token string) {
	rc.token = token
}

func (rc *RestClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, rc.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if rc.token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.token)
	}

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.ApiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.StatusCode == 0 {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (rc *RestClient) Login(ctx context.Context, email, password string) (types.User, string, error) {
	var resp api.LoginResponse
	err := rc.do(ctx, http.MethodPost, "/api/auth/login", api.LoginRequest{
		Email:    email,
		Password: password,
	}, &resp)
	if err != nil {
		return types.User{}, "", err
	}

	rc.token = resp.Token
	return resp.User, resp.Token, nil
}

func (rc *RestClient) ListChats(ctx context.Context) ([]types.Chat, error) {
	var chats []types.Chat
	err := rc.do(ctx, http.MethodGet, "/api/chats", nil, &chats)
	return chats, err
}

func (rc *RestClient) CreateChat(ctx context.Context, name string, isGroup bool, participantIds []string) (types.Chat, error) {
	var chat types.Chat
	err := rc.do(ctx, http.MethodPost, "/api/chats", api.CreateChatRequest{
		Name:           name,
		IsGroup:        isGroup,
		ParticipantIds: participantIds,
	}, &chat)
	return chat, err
}

func (rc *RestClient) CreateMessage(ctx context.Context, chatId, content string) (types.Message, error) {
	var msg types.Message
	err := rc.do(ctx, http.MethodPost, "/api/messages", api.CreateMessageRequest{
		ChatId:  chatId,
		Content: content,
	}, &msg)
	return msg, err
}

func (rc *RestClient) ListMessages(ctx context.Context, chatId string, page, pageSize int) ([]types.Message, int, error) {
	params := url.Values{}
	params.Set("chat_id", chatId)
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))

	var resp api.MessagePage
	err := rc.do(ctx, http.MethodGet, "/api/messages?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, 0, err
	}

	return resp.Messages, resp.Total, nil
}
