package core

import (
	"context"
	"strings"
)

type (
	// User is a registered account. Password holds the bcrypt hash and never
	// leaves the process.
	User struct {
		ID          string   `json:"_id"`
		Username    string   `json:"username"`
		Password    string   `json:"-"`
		ActiveChats []string `json:"-"`
		Friends     []string `json:"friends"`
		CreatedAt   int64    `json:"createdAt"`
	}

	// Participant is the public projection of a user inside a room.
	Participant struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
	}

	// Room is the conversation container for a pair of users. UnreadBy lists
	// the participants with at least one unacknowledged message.
	Room struct {
		ID           string        `json:"_id"`
		Participants []Participant `json:"participants"`
		LastMessage  *Message      `json:"lastMessage,omitempty"`
		UnreadBy     []string      `json:"unreadBy"`
		CreatedAt    int64         `json:"createdAt"`
	}

	// Message is immutable once created except for the ReadAt transition.
	// Timestamps are unix milliseconds.
	Message struct {
		ID        string `json:"_id"`
		RoomID    string `json:"roomId"`
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
		Body      string `json:"message"`
		ReadAt    *int64 `json:"readAt,omitempty"`
		CreatedAt int64  `json:"createdAt"`
	}

	UserStore interface {
		CreateUser(ctx context.Context, username, password string) (*User, error)
		FindUserByID(ctx context.Context, id string) (*User, error)
		FindUserByUsername(ctx context.Context, username string) (*User, error)
		SearchUsers(ctx context.Context, query, excludeID string) ([]User, error)
		AddFriend(ctx context.Context, userID, friendID string) (current *User, friend *User, err error)
		AddActiveChat(ctx context.Context, userID, roomID string) (isNewActive bool, err error)
		ActiveChats(ctx context.Context, userID string) ([]Room, error)
	}

	RoomStore interface {
		FindRoomByParticipants(ctx context.Context, userID, friendID string) (*Room, error)
		CreateRoom(ctx context.Context, userID, friendID string) (*Room, error)
		AttachLastMessage(ctx context.Context, roomID, messageID, recipientID string) (*Room, error)
		ClearUnread(ctx context.Context, roomID, readerID string) (*Room, error)
	}

	MessageStore interface {
		CreateMessage(ctx context.Context, senderID, recipientID, roomID, body string) (*Message, error)
		MessagesByRoom(ctx context.Context, roomID string) ([]Message, error)
		MarkMessagesRead(ctx context.Context, roomID, readerID string) ([]Message, error)
	}

	Store interface {
		UserStore
		RoomStore
		MessageStore
	}
)

// PairKey derives the canonical key for an unordered participant pair. Both
// stores key room uniqueness on it, which is what makes CreateRoom safe to
// race: the second writer for the same pair hits the key and fails with
// ErrRoomExists.
func PairKey(userID, friendID string) string {
	if strings.Compare(userID, friendID) > 0 {
		userID, friendID = friendID, userID
	}
	return userID + ":" + friendID
}

// HasParticipant reports whether the given user belongs to the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// IsUnreadBy reports whether the given participant has unread messages.
func (r *Room) IsUnreadBy(userID string) bool {
	for _, id := range r.UnreadBy {
		if id == userID {
			return true
		}
	}
	return false
}
