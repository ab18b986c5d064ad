package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PgChatStore struct {
	conn *sql.DB
}

func NewPgChatStore(dsn string) (*PgChatStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgChatStore{conn: db}, nil
}

func (db *PgChatStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgChatStore) Ping() error {
	return db.conn.Ping()
}

func (db *PgChatStore) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (id, username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, created_at",
		uuid.NewString(),
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatStore) GetAccountById(accountId string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	var updatedAt sql.NullTime
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&updatedAt,
	)
	user.UpdatedAt = updatedAt.Time

	return user, err
}

func (db *PgChatStore) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgChatStore) SearchAccounts(query string, excludeId string) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, email FROM accounts "+
			"WHERE (username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%') "+
			"AND id != $2 ORDER BY username LIMIT 20",
		query,
		excludeId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.EmailAddress); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatStore) CreateChat(params CreateChatParams) (Chat, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Chat{}, err
	}
	defer tx.Rollback()

	chat := Chat{
		Id:        uuid.NewString(),
		Name:      params.Name,
		IsGroup:   params.IsGroup,
		CreatedAt: time.Now().UTC(),
	}

	_, err = tx.Exec(
		"INSERT INTO chats (id, name, is_group, created_at) VALUES ($1, $2, $3, $4)",
		chat.Id,
		chat.Name,
		chat.IsGroup,
		chat.CreatedAt,
	)
	if err != nil {
		return Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	for _, accountId := range params.ParticipantIds {
		_, err = tx.Exec(
			"INSERT INTO chat_participants (chat_id, account_id) VALUES ($1, $2) "+
				"ON CONFLICT DO NOTHING",
			chat.Id,
			accountId,
		)
		if err != nil {
			return Chat{}, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, err
	}

	return db.GetChatById(chat.Id)
}

func (db *PgChatStore) GetChatById(chatId string) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, is_group, COALESCE(latest_message_id, ''), created_at FROM chats "+
			"WHERE id = $1 LIMIT 1",
		chatId,
	)

	var chat Chat
	err := row.Scan(
		&chat.Id,
		&chat.Name,
		&chat.IsGroup,
		&chat.LatestMessageId,
		&chat.CreatedAt,
	)
	if err != nil {
		return Chat{}, err
	}

	rows, err := db.conn.Query(
		"SELECT a.id, a.username, a.email FROM accounts a "+
			"JOIN chat_participants cp ON cp.account_id = a.id "+
			"WHERE cp.chat_id = $1 ORDER BY a.username",
		chatId,
	)
	if err != nil {
		return Chat{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.EmailAddress); err != nil {
			return Chat{}, err
		}
		chat.Participants = append(chat.Participants, u)
	}

	return chat, rows.Err()
}

func (db *PgChatStore) ListChatsForAccount(accountId string) ([]Chat, error) {
	rows, err := db.conn.Query(
		`SELECT
			c.id,
			c.name,
			c.is_group,
			c.created_at,
			COALESCE(m.id, ''),
			COALESCE(m.sender_id, ''),
			COALESCE(m.content, ''),
			m.created_at
		FROM chats c
		JOIN chat_participants cp ON cp.chat_id = c.id
		LEFT JOIN messages m ON m.id = c.latest_message_id
		WHERE cp.account_id = $1
		ORDER BY m.created_at DESC NULLS LAST, c.created_at DESC`,
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		var msgId, msgSender, msgContent string
		var msgCreatedAt sql.NullTime
		err := rows.Scan(
			&chat.Id,
			&chat.Name,
			&chat.IsGroup,
			&chat.CreatedAt,
			&msgId,
			&msgSender,
			&msgContent,
			&msgCreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if msgId != "" {
			chat.LatestMessageId = msgId
			chat.LatestMessage = &Message{
				Id:        msgId,
				ChatId:    chat.Id,
				SenderId:  msgSender,
				Content:   msgContent,
				CreatedAt: msgCreatedAt.Time,
			}
		}

		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

func (db *PgChatStore) GetChatParticipants(chatId string) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT account_id FROM chat_participants WHERE chat_id = $1",
		chatId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CreateMessage inserts the message, marks the sender as a reader and
// advances the chat's latest message pointer in a single transaction.
func (db *PgChatStore) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	msg := Message{
		Id:        uuid.NewString(),
		ChatId:    params.ChatId,
		SenderId:  params.SenderId,
		Content:   params.Content,
		ReadBy:    []string{params.SenderId},
		CreatedAt: time.Now().UTC(),
	}

	_, err = tx.Exec(
		"INSERT INTO messages (id, chat_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5)",
		msg.Id,
		msg.ChatId,
		msg.SenderId,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO message_reads (message_id, account_id) VALUES ($1, $2) "+
			"ON CONFLICT DO NOTHING",
		msg.Id,
		msg.SenderId,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert read: %w", err)
	}

	_, err = tx.Exec(
		"UPDATE chats SET latest_message_id = $2, updated_at = $3 WHERE id = $1",
		msg.ChatId,
		msg.Id,
		msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("update latest message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// ListMessages returns one page of a chat's history in ascending creation
// order along with the total message count. Page 1 is the most recent page.
func (db *PgChatStore) ListMessages(chatId string, page, pageSize int) ([]Message, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var total int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE chat_id = $1",
		chatId,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.conn.Query(
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
			COALESCE(array_agg(mr.account_id) FILTER (WHERE mr.account_id IS NOT NULL), '{}')
		FROM (
			SELECT * FROM messages
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		) m
		LEFT JOIN message_reads mr ON mr.message_id = m.id
		GROUP BY m.id, m.chat_id, m.sender_id, m.content, m.created_at
		ORDER BY m.created_at ASC`,
		chatId,
		pageSize,
		(page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.Id,
			&msg.ChatId,
			&msg.SenderId,
			&msg.Content,
			&msg.CreatedAt,
			pq.Array(&msg.ReadBy),
		)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}

	return messages, total, rows.Err()
}

// AppendReader marks every message in the chat as read by the account.
// Inserting an existing (message, account) pair is a no-op.
func (db *PgChatStore) AppendReader(chatId, accountId string) error {
	_, err := db.conn.Exec(
		"INSERT INTO message_reads (message_id, account_id) "+
			"SELECT id, $2 FROM messages WHERE chat_id = $1 "+
			"ON CONFLICT DO NOTHING",
		chatId,
		accountId,
	)

	return err
}
