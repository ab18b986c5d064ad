package store

import "time"

type User struct {
	Id           string
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Chat struct {
	Id              string
	Name            string
	IsGroup         bool
	LatestMessageId string
	Participants    []User
	LatestMessage   *Message
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Message struct {
	Id        string
	ChatId    string
	SenderId  string
	Content   string
	ReadBy    []string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateChatParams struct {
	Name           string
	IsGroup        bool
	ParticipantIds []string
}

type CreateMessageParams struct {
	ChatId   string
	SenderId string
	Content  string
}
