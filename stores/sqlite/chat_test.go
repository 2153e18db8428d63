package sqlite

import (
	"chat-server/core"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestMain(m *testing.M) {
	if !CGOEnabled {
		fmt.Println("skipping sqlite store tests: CGO disabled")
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *chatStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	return NewChatStore(dbPath).(*chatStore)
}

func seedUser(t *testing.T, store core.Store, username string) *core.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), username, "secret-hash")
	if err != nil {
		t.Fatalf("CreateUser(%q) failed: %v", username, err)
	}
	return user
}

func TestNewChatStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewChatStore(dbPath)

	if store == nil {
		t.Fatal("NewChatStore() returned nil")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("NewChatStore() did not create database file")
	}
}

func TestNewChatStore_TablesCreated(t *testing.T) {
	store := setupTestDB(t)

	for _, table := range []string{"users", "friends", "active_chats", "rooms", "room_unread", "messages"} {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not created: %v", table, err)
		}
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	store := setupTestDB(t)
	seedUser(t, store, "alice")

	_, err := store.CreateUser(context.Background(), "alice", "other-hash")
	if !errors.Is(err, core.ErrUsernameTaken) {
		t.Fatalf("CreateUser() duplicate error = %v, want ErrUsernameTaken", err)
	}
}

func TestFindUserByUsername_RoundTrip(t *testing.T) {
	store := setupTestDB(t)
	created := seedUser(t, store, "alice")

	user, err := store.FindUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindUserByUsername() failed: %v", err)
	}
	if user.ID != created.ID {
		t.Errorf("FindUserByUsername() id = %q, want %q", user.ID, created.ID)
	}
	if user.Password != "secret-hash" {
		t.Errorf("FindUserByUsername() did not load password hash")
	}
}

func TestCreateRoom_PairConstraint(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")

	room, err := store.CreateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	// The reversed pair hits the same unique key.
	if _, err := store.CreateRoom(ctx, bob.ID, alice.ID); !errors.Is(err, core.ErrRoomExists) {
		t.Fatalf("CreateRoom() reversed pair error = %v, want ErrRoomExists", err)
	}

	found, err := store.FindRoomByParticipants(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("FindRoomByParticipants() failed: %v", err)
	}
	if found.ID != room.ID {
		t.Errorf("FindRoomByParticipants() id = %q, want %q", found.ID, room.ID)
	}
}

func TestAttachLastMessage_UnreadLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")
	room, err := store.CreateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	msg, err := store.CreateMessage(ctx, alice.ID, bob.ID, room.ID, "hi")
	if err != nil {
		t.Fatalf("CreateMessage() failed: %v", err)
	}

	updated, err := store.AttachLastMessage(ctx, room.ID, msg.ID, bob.ID)
	if err != nil {
		t.Fatalf("AttachLastMessage() failed: %v", err)
	}
	if updated.LastMessage == nil || updated.LastMessage.ID != msg.ID {
		t.Errorf("last message not attached: %+v", updated.LastMessage)
	}
	if !updated.IsUnreadBy(bob.ID) {
		t.Errorf("recipient missing from unread set: %v", updated.UnreadBy)
	}

	// Idempotent: re-attaching does not duplicate the unread entry.
	updated, err = store.AttachLastMessage(ctx, room.ID, msg.ID, bob.ID)
	if err != nil {
		t.Fatalf("AttachLastMessage() second call failed: %v", err)
	}
	if len(updated.UnreadBy) != 1 {
		t.Errorf("unreadBy = %v, want exactly one entry", updated.UnreadBy)
	}

	read, err := store.MarkMessagesRead(ctx, room.ID, bob.ID)
	if err != nil {
		t.Fatalf("MarkMessagesRead() failed: %v", err)
	}
	if len(read) != 1 || read[0].ReadAt == nil {
		t.Errorf("MarkMessagesRead() = %+v, want one message with readAt", read)
	}

	cleared, err := store.ClearUnread(ctx, room.ID, bob.ID)
	if err != nil {
		t.Fatalf("ClearUnread() failed: %v", err)
	}
	if cleared.IsUnreadBy(bob.ID) {
		t.Errorf("reader still in unread set after ClearUnread()")
	}
}

func TestMarkMessagesRead_Empty(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")
	room, err := store.CreateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	updated, err := store.MarkMessagesRead(ctx, room.ID, bob.ID)
	if err != nil {
		t.Fatalf("MarkMessagesRead() with nothing unread failed: %v", err)
	}
	if len(updated) != 0 {
		t.Errorf("MarkMessagesRead() returned %d messages, want 0", len(updated))
	}
}

func TestActiveChats_Populated(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")
	room, err := store.CreateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	isNew, err := store.AddActiveChat(ctx, alice.ID, room.ID)
	if err != nil || !isNew {
		t.Fatalf("AddActiveChat() = (%v, %v), want (true, nil)", isNew, err)
	}
	msg, err := store.CreateMessage(ctx, alice.ID, bob.ID, room.ID, "latest")
	if err != nil {
		t.Fatalf("CreateMessage() failed: %v", err)
	}
	if _, err := store.AttachLastMessage(ctx, room.ID, msg.ID, bob.ID); err != nil {
		t.Fatalf("AttachLastMessage() failed: %v", err)
	}

	chats, err := store.ActiveChats(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ActiveChats() failed: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("ActiveChats() returned %d rooms, want 1", len(chats))
	}
	got := chats[0]
	if len(got.Participants) != 2 || got.Participants[0].Username == "" {
		t.Errorf("participants not populated: %+v", got.Participants)
	}
	if got.LastMessage == nil || got.LastMessage.Body != "latest" {
		t.Errorf("last message not populated: %+v", got.LastMessage)
	}
}

func TestAddFriend_UnknownUserWritesNothing(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	bob := seedUser(t, store, "bob")

	tests := []struct {
		name     string
		userID   string
		friendID string
	}{
		{"unknown caller", "ghost", bob.ID},
		{"unknown friend", bob.ID, "ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := store.AddFriend(ctx, tt.userID, tt.friendID)
			if !errors.Is(err, core.ErrNotFound) {
				t.Fatalf("AddFriend() error = %v, want ErrNotFound", err)
			}

			var count int
			if err := store.db.QueryRow(
				"SELECT COUNT(*) FROM friends WHERE user_id = ? OR friend_id = ?",
				"ghost", "ghost").Scan(&count); err != nil {
				t.Fatalf("counting friendship rows failed: %v", err)
			}
			if count != 0 {
				t.Errorf("failed AddFriend() left %d friendship rows", count)
			}
		})
	}
}

func TestAddFriend_Mutual(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")

	current, friend, err := store.AddFriend(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("AddFriend() failed: %v", err)
	}
	if len(current.Friends) != 1 || current.Friends[0] != bob.ID {
		t.Errorf("current friends = %v, want [%s]", current.Friends, bob.ID)
	}
	if len(friend.Friends) != 1 || friend.Friends[0] != alice.ID {
		t.Errorf("friend friends = %v, want [%s]", friend.Friends, alice.ID)
	}
}

func TestSearchUsers_ExcludesSelfAndFriends(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	seedUser(t, store, "alina")
	carol := seedUser(t, store, "alberta")
	if _, _, err := store.AddFriend(ctx, alice.ID, carol.ID); err != nil {
		t.Fatalf("AddFriend() failed: %v", err)
	}

	results, err := store.SearchUsers(ctx, "al", alice.ID)
	if err != nil {
		t.Fatalf("SearchUsers() failed: %v", err)
	}
	if len(results) != 1 || results[0].Username != "alina" {
		t.Errorf("SearchUsers() = %+v, want only alina", results)
	}
}

func TestMessagesByRoom_Order(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")
	room, err := store.CreateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	bodies := []string{"first", "second", "third"}
	for _, body := range bodies {
		if _, err := store.CreateMessage(ctx, alice.ID, bob.ID, room.ID, body); err != nil {
			t.Fatalf("CreateMessage() failed: %v", err)
		}
	}

	messages, err := store.MessagesByRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("MessagesByRoom() failed: %v", err)
	}
	if len(messages) != len(bodies) {
		t.Fatalf("MessagesByRoom() returned %d messages, want %d", len(messages), len(bodies))
	}
	for i, body := range bodies {
		if messages[i].Body != body {
			t.Errorf("message %d body = %q, want %q", i, messages[i].Body, body)
		}
	}
}
