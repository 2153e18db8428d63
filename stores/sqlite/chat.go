package sqlite

import (
	"chat-server/core"
	"context"
	"database/sql"
	"errors"
	stdlog "log"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type chatStore struct {
	db *sql.DB
}

// NewChatStore opens (or creates) the sqlite database backing the chat store.
// The UNIQUE pair_key column on rooms is what upholds the one-room-per-pair
// invariant under concurrent creates.
func NewChatStore(dataSourceName string) core.Store {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS friends (
			user_id TEXT NOT NULL,
			friend_id TEXT NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		);`,
		`CREATE TABLE IF NOT EXISTS active_chats (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			PRIMARY KEY (user_id, room_id)
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			pair_key TEXT NOT NULL UNIQUE,
			last_message_id TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS room_unread (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (room_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			body TEXT NOT NULL,
			read_at INTEGER,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id, created_at);`,
	}
	for _, sts := range tables {
		if _, err := db.Exec(sts); err != nil {
			stdlog.Fatal(err)
		}
	}

	return &chatStore{db}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *chatStore) CreateUser(ctx context.Context, username, password string) (*core.User, error) {
	id := ulid.Make().String()
	createdAt := time.Now().UnixMilli()
	log := logrus.WithFields(logrus.Fields{
		"user_id":  id,
		"username": username,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password, created_at) VALUES (?, ?, ?, ?)",
		id, username, password, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			log.Warn("Username already taken")
			return nil, core.ErrUsernameTaken
		}
		log.WithField("error", err).Error("Failed to create user")
		return nil, err
	}

	log.Info("User created successfully")
	return &core.User{ID: id, Username: username, Password: password, CreatedAt: createdAt}, nil
}

func (s *chatStore) FindUserByID(ctx context.Context, id string) (*core.User, error) {
	return s.findUser(ctx, "id", id)
}

func (s *chatStore) FindUserByUsername(ctx context.Context, username string) (*core.User, error) {
	return s.findUser(ctx, "username", username)
}

func (s *chatStore) findUser(ctx context.Context, column, value string) (*core.User, error) {
	log := logrus.WithField(column, value)
	log.Debug("Retrieving user")

	var user core.User
	query := "SELECT id, username, password, created_at FROM users WHERE " + column + " = ?"
	err := s.db.QueryRowContext(ctx, query, value).
		Scan(&user.ID, &user.Username, &user.Password, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn("User not found")
			return nil, core.ErrNotFound
		}
		log.WithField("error", err).Error("Failed to retrieve user")
		return nil, err
	}

	if user.Friends, err = s.stringColumn(ctx,
		"SELECT friend_id FROM friends WHERE user_id = ? ORDER BY rowid", user.ID); err != nil {
		return nil, err
	}
	if user.ActiveChats, err = s.stringColumn(ctx,
		"SELECT room_id FROM active_chats WHERE user_id = ? ORDER BY rowid", user.ID); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *chatStore) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close rows")
		}
	}()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *chatStore) SearchUsers(ctx context.Context, query, excludeID string) ([]core.User, error) {
	log := logrus.WithField("query", query)
	log.Debug("Searching users")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username FROM users
		 WHERE id != ? AND username LIKE '%' || ? || '%' COLLATE NOCASE
		   AND NOT EXISTS (SELECT 1 FROM friends f WHERE f.user_id = users.id AND f.friend_id = ?)
		 ORDER BY username`,
		excludeID, query, excludeID)
	if err != nil {
		log.WithField("error", err).Error("Failed to search users")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close user rows")
		}
	}()

	var users []core.User
	for rows.Next() {
		var user core.User
		if err := rows.Scan(&user.ID, &user.Username); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *chatStore) AddFriend(ctx context.Context, userID, friendID string) (*core.User, *core.User, error) {
	// Both sides must exist before any row is written; a failed lookup must
	// not leave friendship rows behind.
	if _, err := s.FindUserByID(ctx, userID); err != nil {
		return nil, nil, err
	}
	if _, err := s.FindUserByID(ctx, friendID); err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	for _, pair := range [][2]string{{userID, friendID}, {friendID, userID}} {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)",
			pair[0], pair[1]); err != nil {
			_ = tx.Rollback()
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	current, err := s.FindUserByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	friend, err := s.FindUserByID(ctx, friendID)
	if err != nil {
		return nil, nil, err
	}
	return current, friend, nil
}

func (s *chatStore) AddActiveChat(ctx context.Context, userID, roomID string) (bool, error) {
	if _, err := s.FindUserByID(ctx, userID); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO active_chats (user_id, room_id) VALUES (?, ?)",
		userID, roomID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"room_id": roomID,
			"error":   err,
		}).Error("Failed to add active chat")
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

func (s *chatStore) ActiveChats(ctx context.Context, userID string) ([]core.Room, error) {
	roomIDs, err := s.stringColumn(ctx,
		"SELECT room_id FROM active_chats WHERE user_id = ? ORDER BY rowid", userID)
	if err != nil {
		return nil, err
	}

	rooms := make([]core.Room, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		room, err := s.roomByID(ctx, roomID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

func (s *chatStore) FindRoomByParticipants(ctx context.Context, userID, friendID string) (*core.Room, error) {
	var roomID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM rooms WHERE pair_key = ?", core.PairKey(userID, friendID)).Scan(&roomID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return s.roomByID(ctx, roomID)
}

func (s *chatStore) CreateRoom(ctx context.Context, userID, friendID string) (*core.Room, error) {
	id := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{
		"room_id":      id,
		"participants": []string{userID, friendID},
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, participant_a, participant_b, pair_key, created_at) VALUES (?, ?, ?, ?, ?)",
		id, userID, friendID, core.PairKey(userID, friendID), time.Now().UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			log.Debug("Room already exists for pair")
			return nil, core.ErrRoomExists
		}
		log.WithField("error", err).Error("Failed to create room")
		return nil, err
	}

	log.Info("Room created successfully")
	return s.roomByID(ctx, id)
}

func (s *chatStore) AttachLastMessage(ctx context.Context, roomID, messageID, recipientID string) (*core.Room, error) {
	log := logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"message_id": messageID,
	})

	room, err := s.roomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE rooms SET last_message_id = ? WHERE id = ?", messageID, roomID); err != nil {
		_ = tx.Rollback()
		log.WithField("error", err).Error("Failed to update last message")
		return nil, err
	}
	if room.HasParticipant(recipientID) {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO room_unread (room_id, user_id) VALUES (?, ?)",
			roomID, recipientID); err != nil {
			_ = tx.Rollback()
			log.WithField("error", err).Error("Failed to mark unread")
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.roomByID(ctx, roomID)
}

func (s *chatStore) ClearUnread(ctx context.Context, roomID, readerID string) (*core.Room, error) {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM room_unread WHERE room_id = ? AND user_id = ?", roomID, readerID); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"user_id": readerID,
			"error":   err,
		}).Error("Failed to clear unread")
		return nil, err
	}
	return s.roomByID(ctx, roomID)
}

func (s *chatStore) roomByID(ctx context.Context, roomID string) (*core.Room, error) {
	log := logrus.WithField("room_id", roomID)

	var (
		room          core.Room
		a, b          string
		lastMessageID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, participant_a, participant_b, last_message_id, created_at FROM rooms WHERE id = ?",
		roomID).Scan(&room.ID, &a, &b, &lastMessageID, &room.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn("Room with specified ID not found")
			return nil, core.ErrNotFound
		}
		log.WithField("error", err).Error("Failed to retrieve room")
		return nil, err
	}

	for _, id := range []string{a, b} {
		p := core.Participant{ID: id}
		if err := s.db.QueryRowContext(ctx,
			"SELECT username FROM users WHERE id = ?", id).Scan(&p.Username); err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		room.Participants = append(room.Participants, p)
	}

	if room.UnreadBy, err = s.stringColumn(ctx,
		"SELECT user_id FROM room_unread WHERE room_id = ? ORDER BY user_id", roomID); err != nil {
		return nil, err
	}
	if room.UnreadBy == nil {
		room.UnreadBy = []string{}
	}

	if lastMessageID.Valid {
		msg, err := s.messageByID(ctx, lastMessageID.String)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		room.LastMessage = msg
	}
	return &room, nil
}

func (s *chatStore) CreateMessage(ctx context.Context, senderID, recipientID, roomID, body string) (*core.Message, error) {
	if _, err := s.roomByID(ctx, roomID); err != nil {
		return nil, err
	}

	msg := &core.Message{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Sender:    senderID,
		Recipient: recipientID,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	}
	log := logrus.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"room_id":    roomID,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, room_id, sender_id, recipient_id, body, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, roomID, senderID, recipientID, body, msg.CreatedAt)
	if err != nil {
		log.WithField("error", err).Error("Failed to create message")
		return nil, err
	}

	log.Info("Message created successfully")
	return msg, nil
}

func (s *chatStore) messageByID(ctx context.Context, id string) (*core.Message, error) {
	var (
		msg    core.Message
		readAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, room_id, sender_id, recipient_id, body, read_at, created_at FROM messages WHERE id = ?",
		id).Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Recipient, &msg.Body, &readAt, &msg.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Int64
	}
	return &msg, nil
}

func (s *chatStore) MessagesByRoom(ctx context.Context, roomID string) ([]core.Message, error) {
	return s.queryMessages(ctx,
		"SELECT id, room_id, sender_id, recipient_id, body, read_at, created_at FROM messages WHERE room_id = ? ORDER BY created_at, rowid",
		roomID)
}

func (s *chatStore) MarkMessagesRead(ctx context.Context, roomID, readerID string) ([]core.Message, error) {
	readAt := time.Now().UnixMilli()
	log := logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": readerID,
	})

	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET read_at = ? WHERE room_id = ? AND recipient_id = ? AND read_at IS NULL",
		readAt, roomID, readerID)
	if err != nil {
		log.WithField("error", err).Error("Failed to mark messages read")
		return nil, err
	}

	updated, err := s.queryMessages(ctx,
		"SELECT id, room_id, sender_id, recipient_id, body, read_at, created_at FROM messages WHERE room_id = ? AND recipient_id = ? AND read_at = ? ORDER BY created_at, rowid",
		roomID, readerID, readAt)
	if err != nil {
		return nil, err
	}
	log.WithField("count", len(updated)).Debug("Messages marked read")
	return updated, nil
}

func (s *chatStore) queryMessages(ctx context.Context, query string, args ...any) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close message rows")
		}
	}()

	messages := make([]core.Message, 0)
	for rows.Next() {
		var (
			msg    core.Message
			readAt sql.NullInt64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Recipient, &msg.Body, &readAt, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if readAt.Valid {
			value := readAt.Int64
			msg.ReadAt = &value
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
