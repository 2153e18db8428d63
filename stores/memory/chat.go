package memory

import (
	"chat-server/core"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// chatStore keeps all durable chat state in mutex-guarded maps. It is the
// default backend and the one the realtime tests run against.
type chatStore struct {
	mu        sync.RWMutex
	users     map[string]*core.User
	usernames map[string]string   // username -> user id
	rooms     map[string]*roomRec
	pairs     map[string]string   // canonical pair key -> room id
	messages  map[string]*core.Message
	byRoom    map[string][]string // room id -> message ids, creation order
}

type roomRec struct {
	id           string
	participants [2]string
	lastMessage  string
	unreadBy     map[string]struct{}
	createdAt    int64
}

func NewChatStore() core.Store {
	return &chatStore{
		users:     make(map[string]*core.User),
		usernames: make(map[string]string),
		rooms:     make(map[string]*roomRec),
		pairs:     make(map[string]string),
		messages:  make(map[string]*core.Message),
		byRoom:    make(map[string][]string),
	}
}

func (s *chatStore) CreateUser(ctx context.Context, username, password string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[username]; taken {
		return nil, core.ErrUsernameTaken
	}

	user := &core.User{
		ID:        ulid.Make().String(),
		Username:  username,
		Password:  password,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.users[user.ID] = user
	s.usernames[username] = user.ID

	logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": username,
	}).Info("User created")

	return copyUser(user), nil
}

func (s *chatStore) FindUserByID(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		logrus.WithField("user_id", id).Warn("User with specified ID not found")
		return nil, core.ErrNotFound
	}
	return copyUser(user), nil
}

func (s *chatStore) FindUserByUsername(ctx context.Context, username string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyUser(s.users[id]), nil
}

func (s *chatStore) SearchUsers(ctx context.Context, query, excludeID string) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(query)
	matches := lo.Filter(lo.Values(s.users), func(u *core.User, _ int) bool {
		if u.ID == excludeID {
			return false
		}
		if !strings.Contains(strings.ToLower(u.Username), query) {
			return false
		}
		// Users who already befriended the searcher are not suggested again.
		return !lo.Contains(u.Friends, excludeID)
	})

	users := lo.Map(matches, func(u *core.User, _ int) core.User {
		return *copyUser(u)
	})
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *chatStore) AddFriend(ctx context.Context, userID, friendID string) (*core.User, *core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, nil, core.ErrNotFound
	}
	friend, ok := s.users[friendID]
	if !ok {
		return nil, nil, core.ErrNotFound
	}

	if !lo.Contains(user.Friends, friendID) {
		user.Friends = append(user.Friends, friendID)
	}
	if !lo.Contains(friend.Friends, userID) {
		friend.Friends = append(friend.Friends, userID)
	}

	return copyUser(user), copyUser(friend), nil
}

func (s *chatStore) AddActiveChat(ctx context.Context, userID, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return false, core.ErrNotFound
	}
	if lo.Contains(user.ActiveChats, roomID) {
		return false, nil
	}
	user.ActiveChats = append(user.ActiveChats, roomID)
	return true, nil
}

func (s *chatStore) ActiveChats(ctx context.Context, userID string) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, core.ErrNotFound
	}

	rooms := make([]core.Room, 0, len(user.ActiveChats))
	for _, roomID := range user.ActiveChats {
		rec, ok := s.rooms[roomID]
		if !ok {
			continue
		}
		rooms = append(rooms, *s.buildRoom(rec))
	}
	return rooms, nil
}

func (s *chatStore) FindRoomByParticipants(ctx context.Context, userID, friendID string) (*core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roomID, ok := s.pairs[core.PairKey(userID, friendID)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return s.buildRoom(s.rooms[roomID]), nil
}

func (s *chatStore) CreateRoom(ctx context.Context, userID, friendID string) (*core.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := core.PairKey(userID, friendID)
	if _, exists := s.pairs[key]; exists {
		return nil, core.ErrRoomExists
	}

	rec := &roomRec{
		id:           ulid.Make().String(),
		participants: [2]string{userID, friendID},
		unreadBy:     make(map[string]struct{}),
		createdAt:    time.Now().UnixMilli(),
	}
	s.rooms[rec.id] = rec
	s.pairs[key] = rec.id

	logrus.WithFields(logrus.Fields{
		"room_id":      rec.id,
		"participants": rec.participants,
	}).Info("Room created")

	return s.buildRoom(rec), nil
}

func (s *chatStore) AttachLastMessage(ctx context.Context, roomID, messageID, recipientID string) (*core.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rooms[roomID]
	if !ok {
		return nil, core.ErrNotFound
	}
	if _, ok := s.messages[messageID]; !ok {
		return nil, core.ErrNotFound
	}

	rec.lastMessage = messageID
	if recipientID == rec.participants[0] || recipientID == rec.participants[1] {
		rec.unreadBy[recipientID] = struct{}{}
	}
	return s.buildRoom(rec), nil
}

func (s *chatStore) ClearUnread(ctx context.Context, roomID, readerID string) (*core.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rooms[roomID]
	if !ok {
		return nil, core.ErrNotFound
	}
	delete(rec.unreadBy, readerID)
	return s.buildRoom(rec), nil
}

func (s *chatStore) CreateMessage(ctx context.Context, senderID, recipientID, roomID, body string) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, core.ErrNotFound
	}

	msg := &core.Message{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Sender:    senderID,
		Recipient: recipientID,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.messages[msg.ID] = msg
	s.byRoom[roomID] = append(s.byRoom[roomID], msg.ID)
	return copyMessage(msg), nil
}

func (s *chatStore) MessagesByRoom(ctx context.Context, roomID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byRoom[roomID]
	messages := make([]core.Message, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, *copyMessage(s.messages[id]))
	}
	return messages, nil
}

func (s *chatStore) MarkMessagesRead(ctx context.Context, roomID, readerID string) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	updated := make([]core.Message, 0)
	for _, id := range s.byRoom[roomID] {
		msg := s.messages[id]
		if msg.Recipient != readerID || msg.ReadAt != nil {
			continue
		}
		readAt := now
		msg.ReadAt = &readAt
		updated = append(updated, *copyMessage(msg))
	}
	return updated, nil
}

// buildRoom assembles the populated view of a room record. Callers must hold
// at least the read lock.
func (s *chatStore) buildRoom(rec *roomRec) *core.Room {
	room := &core.Room{
		ID:        rec.id,
		UnreadBy:  make([]string, 0, len(rec.unreadBy)),
		CreatedAt: rec.createdAt,
	}
	for _, id := range rec.participants {
		p := core.Participant{ID: id}
		if user, ok := s.users[id]; ok {
			p.Username = user.Username
		}
		room.Participants = append(room.Participants, p)
	}
	for id := range rec.unreadBy {
		room.UnreadBy = append(room.UnreadBy, id)
	}
	sort.Strings(room.UnreadBy)
	if rec.lastMessage != "" {
		if msg, ok := s.messages[rec.lastMessage]; ok {
			room.LastMessage = copyMessage(msg)
		}
	}
	return room
}

func copyUser(u *core.User) *core.User {
	c := *u
	c.ActiveChats = append([]string(nil), u.ActiveChats...)
	c.Friends = append([]string(nil), u.Friends...)
	return &c
}

func copyMessage(m *core.Message) *core.Message {
	c := *m
	if m.ReadAt != nil {
		readAt := *m.ReadAt
		c.ReadAt = &readAt
	}
	return &c
}
