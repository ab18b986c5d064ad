package store

// ChatStore is the storage collaborator for the real-time core. All
// durability and per-row concurrency control lives behind this interface.
type ChatStore interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId string) (User, error)
	GetAccountByEmail(email string) (User, error)
	SearchAccounts(query string, excludeId string) ([]User, error)
	CreateChat(params CreateChatParams) (Chat, error)
	GetChatById(chatId string) (Chat, error)
	ListChatsForAccount(accountId string) ([]Chat, error)
	GetChatParticipants(chatId string) ([]string, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	ListMessages(chatId string, page, pageSize int) ([]Message, int, error)
	AppendReader(chatId, accountId string) error
}
