package websocket

import (
	"context"
	"errors"
	"fmt"

	"chat-server/core"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Coordinator owns the transient realtime state (presence table, room
// subscription table) and drives every chat operation against the store. It
// is initialized once at process start; the tables live and die with it.
type Coordinator struct {
	store      core.Store
	presence   *presenceTracker
	membership *roomMembership
}

func NewCoordinator(store core.Store) *Coordinator {
	return &Coordinator{
		store:      store,
		presence:   newPresenceTracker(),
		membership: newRoomMembership(),
	}
}

// Identify binds the connection to a user identity, flags it foreground and
// surfaces the user as online to every open conversation, so a user
// connecting from a new device shows up everywhere at once.
func (c *Coordinator) Identify(ctx context.Context, conn Conn, userID string) error {
	if userID == "" {
		return core.Invalid("userId")
	}

	c.presence.Register(userID, conn)
	c.presence.SetForeground(userID, conn.ID(), true)
	c.broadcastPresence(ctx, userID, true, conn.ID())
	return nil
}

// SetForeground flips the app-state flag for the connection and notifies the
// user's rooms of the transition.
func (c *Coordinator) SetForeground(ctx context.Context, conn Conn, userID string, foreground bool) error {
	if userID == "" {
		return core.Invalid("userId")
	}

	if foreground {
		// "active app" may arrive before "identity" on reconnect.
		c.presence.Register(userID, conn)
	}
	c.presence.SetForeground(userID, conn.ID(), foreground)
	c.broadcastPresence(ctx, userID, foreground, conn.ID())
	return nil
}

// NotifyOnline re-announces the user as online to its rooms without touching
// the presence table.
func (c *Coordinator) NotifyOnline(ctx context.Context, conn Conn, userID string) {
	c.broadcastPresence(ctx, userID, true, conn.ID())
}

// broadcastPresence emits the transition to the rooms the user participates
// in, never globally. The triggering connection is excluded; it knows.
func (c *Coordinator) broadcastPresence(ctx context.Context, userID string, online bool, excludeConnID string) {
	rooms, err := c.store.ActiveChats(ctx, userID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Warn("Failed to load rooms for presence broadcast")
		return
	}

	roomIDs := lo.Map(rooms, func(r core.Room, _ int) string { return r.ID })
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"online":  online,
		"rooms":   roomIDs,
	}).Debug("Broadcasting presence transition")

	event := OnlineInfoEvent{IsOnline: online, RecipientID: userID}
	for _, roomID := range roomIDs {
		c.membership.Broadcast(roomID, "get online info", excludeConnID, event)
	}
}

// IsOnline reports whether the user has any live connection.
func (c *Coordinator) IsOnline(userID string) bool {
	return c.presence.IsOnline(userID)
}

// IsActive reports whether the user has the app in foreground anywhere. The
// "get online info" event answers with this stricter signal.
func (c *Coordinator) IsActive(userID string) bool {
	return c.presence.IsActive(userID)
}

// InitChat resolves the room for the pair, creating it if absent, and records
// it on the caller's active-chat list. Concurrent calls for the same pair,
// from either side, settle on one room.
func (c *Coordinator) InitChat(ctx context.Context, userID, friendID string) (*core.Room, bool, error) {
	if userID == "" {
		return nil, false, core.Invalid("userId")
	}
	if friendID == "" {
		return nil, false, core.Invalid("friendId")
	}

	room, err := c.resolveRoom(ctx, userID, friendID)
	if err != nil {
		return nil, false, err
	}

	isNewActive, err := c.store.AddActiveChat(ctx, userID, room.ID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"room_id": room.ID,
			"error":   err,
		}).Warn("Failed to record active chat")
	}
	return room, isNewActive, nil
}

// resolveRoom is the find-or-create for the unordered pair. The store's
// uniqueness constraint on the pair key decides races: the loser of a
// concurrent create gets ErrRoomExists and falls back to the winner's row.
func (c *Coordinator) resolveRoom(ctx context.Context, userID, friendID string) (*core.Room, error) {
	room, err := c.store.FindRoomByParticipants(ctx, userID, friendID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("resolve room: %w", err)
	}

	room, err = c.store.CreateRoom(ctx, userID, friendID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, core.ErrRoomExists) {
		return nil, fmt.Errorf("resolve room: %w", err)
	}

	room, err = c.store.FindRoomByParticipants(ctx, userID, friendID)
	if err != nil {
		return nil, fmt.Errorf("resolve room after conflict: %w", err)
	}
	return room, nil
}

// Join subscribes the connection to the given rooms.
func (c *Coordinator) Join(conn Conn, roomIDs []string) {
	for _, roomID := range roomIDs {
		c.membership.Join(conn, roomID)
	}
}

// Leave unsubscribes the connection from the room.
func (c *Coordinator) Leave(conn Conn, roomID string) {
	c.membership.Leave(conn.ID(), roomID)
}

// SendMessage persists the message, rolls the room's last-message and unread
// state forward, subscribes the recipient's live connections and fans the
// result out to the room. Nothing is broadcast and no room state moves if the
// persist fails.
func (c *Coordinator) SendMessage(ctx context.Context, conn Conn, req SendMessageRequest) (*MessageEvent, error) {
	switch {
	case req.RoomID == "":
		return nil, core.Invalid("roomId")
	case req.RecipientID == "":
		return nil, core.Invalid("recipientId")
	case req.SenderID == "":
		return nil, core.Invalid("senderId")
	}

	message, err := c.store.CreateMessage(ctx, req.SenderID, req.RecipientID, req.RoomID, req.Body)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	updatedRoom, err := c.store.AttachLastMessage(ctx, req.RoomID, message.ID, req.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}

	if _, err := c.store.AddActiveChat(ctx, req.RecipientID, req.RoomID); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": req.RecipientID,
			"room_id": req.RoomID,
			"error":   err,
		}).Warn("Failed to add chat to recipient's list")
	}

	c.subscribeRecipient(req.RecipientID, req.RoomID)
	c.membership.Join(conn, req.RoomID)

	event := &MessageEvent{Message: message, UpdatedRoom: updatedRoom}
	c.membership.Broadcast(req.RoomID, "send message", "", event)
	return event, nil
}

// subscribeRecipient joins every currently-live connection of the recipient
// to the room, so delivery needs no join round-trip. A connection that shows
// up after this point picks the room up through "get active chats".
func (c *Coordinator) subscribeRecipient(recipientID, roomID string) {
	for _, conn := range c.presence.Connections(recipientID) {
		c.membership.Join(conn, roomID)
	}
}

// FetchMessages returns the room's messages in creation order.
func (c *Coordinator) FetchMessages(ctx context.Context, roomID string) ([]core.Message, error) {
	if roomID == "" {
		return nil, core.Invalid("roomId")
	}
	return c.store.MessagesByRoom(ctx, roomID)
}

// ReadMessages acknowledges everything addressed to the reader in the room:
// sets readAt on each unread message, drops the reader from the room's unread
// set and fans the delta out. Calling with nothing unread yields an empty
// delta, not an error.
func (c *Coordinator) ReadMessages(ctx context.Context, roomID, readerID string) (*ReadMessagesEvent, error) {
	if roomID == "" {
		return nil, core.Invalid("roomId")
	}
	if readerID == "" {
		return nil, core.Invalid("userId")
	}

	updatedMessages, err := c.store.MarkMessagesRead(ctx, roomID, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	updatedRoom, err := c.store.ClearUnread(ctx, roomID, readerID)
	if err != nil {
		return nil, fmt.Errorf("clear unread: %w", err)
	}

	event := &ReadMessagesEvent{UpdatedMessages: updatedMessages, UpdatedRoom: updatedRoom}
	c.membership.Broadcast(roomID, "read messages", "", event)
	return event, nil
}

// ActiveChats returns the user's chat list with participants and last message
// populated.
func (c *Coordinator) ActiveChats(ctx context.Context, userID string) ([]core.Room, error) {
	if userID == "" {
		return nil, core.Invalid("userId")
	}
	return c.store.ActiveChats(ctx, userID)
}

// NotifyTyping relays the typing indicator to the room, excluding the sender.
func (c *Coordinator) NotifyTyping(conn Conn, roomID string, isTyping bool) {
	c.membership.Broadcast(roomID, "notify typing", conn.ID(), isTyping)
}

// AddFriend links the two users and pushes the caller's card to the friend's
// live connections. The friend's card is returned for the caller.
func (c *Coordinator) AddFriend(ctx context.Context, userID, friendID string) (*core.User, error) {
	if userID == "" {
		return nil, core.Invalid("userId")
	}
	if friendID == "" {
		return nil, core.Invalid("friendId")
	}

	current, friend, err := c.store.AddFriend(ctx, userID, friendID)
	if err != nil {
		return nil, fmt.Errorf("add friend: %w", err)
	}

	for _, conn := range c.presence.Connections(friendID) {
		if err := conn.Emit("add friend", current); err != nil {
			logrus.WithFields(logrus.Fields{
				"connection_id": conn.ID(),
				"error":         err,
			}).Debug("Failed to deliver friend update")
		}
	}
	return friend, nil
}

// Disconnect tears down everything the connection owned: its room
// subscriptions and presence records. If it was the identity's last live
// connection, its rooms learn the user went offline.
func (c *Coordinator) Disconnect(ctx context.Context, conn Conn) {
	connID := conn.ID()
	c.membership.RemoveConn(connID)

	userID, wentOffline := c.presence.Unregister(connID)
	if wentOffline && userID != "" {
		c.broadcastPresence(ctx, userID, false, connID)
	}
}

// ActiveRooms reports the rooms with live subscribers and their connection
// counts; exposed on the admin surface.
func (c *Coordinator) ActiveRooms() map[string]int {
	return c.membership.Counts()
}
