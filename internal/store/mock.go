package store

import (
	"github.com/stretchr/testify/mock"
)

type MockChatStore struct {
	mock.Mock
}

func (m *MockChatStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatStore) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatStore) GetAccountById(accountId string) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatStore) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatStore) SearchAccounts(query string, excludeId string) ([]User, error) {
	args := m.Called(query, excludeId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatStore) CreateChat(params CreateChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatStore) GetChatById(chatId string) (Chat, error) {
	args := m.Called(chatId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatStore) ListChatsForAccount(accountId string) ([]Chat, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockChatStore) GetChatParticipants(chatId string) ([]string, error) {
	args := m.Called(chatId)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatStore) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatStore) ListMessages(chatId string, page, pageSize int) ([]Message, int, error) {
	args := m.Called(chatId, page, pageSize)
	return args.Get(0).([]Message), args.Int(1), args.Error(2)
}
func (m *MockChatStore) AppendReader(chatId, accountId string) error {
	args := m.Called(chatId, accountId)
	return args.Error(0)
}
