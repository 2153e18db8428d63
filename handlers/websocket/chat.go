package websocket

import (
	"context"
	"regexp"

	"chat-server/core"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// SetupSocketIO builds the Socket.IO server carrying the chat protocol. Event
// names are the original client protocol and must not change.
func SetupSocketIO(store core.Store) (*socketio.Server, *Coordinator) {
	opts := socketio.DefaultServerOptions()
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin:      []any{localhostOrigin},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	coord := NewCoordinator(store)
	validate := validator.New()

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		conn := socketConn{socket}
		ctx := context.Background()

		utils.Log().Printf("a user connected with ID => %v\n", socket.Id())

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("identity", func(datas ...any) {
			userID, ok := stringArg(datas, 0)
			if !ok {
				logrus.WithField("connection_id", conn.ID()).Warn("identity without user id")
				return
			}
			if err := coord.Identify(ctx, conn, userID); err != nil {
				logEventError(conn, "identity", err)
			}
		})

		socket.On("init chat", func(datas ...any) {
			var req InitChatRequest
			if len(datas) == 0 || decodePayload(datas[0], &req) != nil || validate.Struct(req) != nil {
				logEventError(conn, "init chat", core.Invalid("payload"))
				return
			}

			room, isNewActive, err := coord.InitChat(ctx, req.UserID, req.FriendID)
			if err != nil {
				logEventError(conn, "init chat", err)
				return
			}
			_ = socket.Emit("init chat", InitChatEvent{
				Room:        room,
				IsNewActive: isNewActive,
				FriendID:    req.FriendID,
			})
		})

		socket.On("join room", func(datas ...any) {
			if len(datas) == 0 {
				return
			}
			roomIDs := stringList(datas[0])
			if len(roomIDs) == 0 {
				return
			}
			utils.Log().Printf("user %v join room: %v\n", socket.Id(), roomIDs)
			coord.Join(conn, roomIDs)
		})

		socket.On("leave room", func(datas ...any) {
			roomID, ok := stringArg(datas, 0)
			if !ok {
				return
			}
			utils.Log().Printf("user %v leave room: %v\n", socket.Id(), roomID)
			coord.Leave(conn, roomID)
		})

		socket.On("send message", func(datas ...any) {
			var req SendMessageRequest
			if len(datas) == 0 || decodePayload(datas[0], &req) != nil {
				logEventError(conn, "send message", core.Invalid("payload"))
				return
			}
			if err := validate.Struct(req); err != nil {
				logEventError(conn, "send message", core.Invalid("payload"))
				return
			}

			if _, err := coord.SendMessage(ctx, conn, req); err != nil {
				logEventError(conn, "send message", err)
			}
		})

		socket.On("fetch messages", func(datas ...any) {
			roomID, ok := stringArg(datas, 0)
			if !ok {
				logEventError(conn, "fetch messages", core.Invalid("roomId"))
				return
			}

			messages, err := coord.FetchMessages(ctx, roomID)
			if err != nil {
				logEventError(conn, "fetch messages", err)
				return
			}
			_ = socket.Emit("fetch messages", messages)
		})

		socket.On("read messages", func(datas ...any) {
			roomID, ok := stringArg(datas, 0)
			if !ok {
				logEventError(conn, "read messages", core.Invalid("roomId"))
				return
			}
			userID, ok := stringArg(datas, 1)
			if !ok {
				logEventError(conn, "read messages", core.Invalid("userId"))
				return
			}

			if _, err := coord.ReadMessages(ctx, roomID, userID); err != nil {
				logEventError(conn, "read messages", err)
			}
		})

		socket.On("get active chats", func(datas ...any) {
			userID, ok := stringArg(datas, 0)
			if !ok {
				logEventError(conn, "get active chats", core.Invalid("userId"))
				return
			}

			rooms, err := coord.ActiveChats(ctx, userID)
			if err != nil {
				logEventError(conn, "get active chats", err)
				return
			}
			_ = socket.Emit("get active chats", rooms)
		})

		socket.On("notify typing", func(datas ...any) {
			isTyping, ok := boolArg(datas, 0)
			if !ok {
				return
			}
			roomID, ok := stringArg(datas, 1)
			if !ok {
				return
			}
			coord.NotifyTyping(conn, roomID, isTyping)
		})

		socket.On("get online info", func(datas ...any) {
			recipientID, ok := stringArg(datas, 0)
			if !ok {
				return
			}
			_ = socket.Emit("get online info", OnlineInfoEvent{
				IsOnline:    coord.IsActive(recipientID),
				RecipientID: recipientID,
			})
		})

		socket.On("notify online", func(datas ...any) {
			userID, ok := stringArg(datas, 0)
			if !ok {
				return
			}
			coord.NotifyOnline(ctx, conn, userID)
		})

		socket.On("add friend", func(datas ...any) {
			friendID, ok := stringArg(datas, 0)
			if !ok {
				logEventError(conn, "add friend", core.Invalid("friendId"))
				return
			}
			userID, ok := stringArg(datas, 1)
			if !ok {
				logEventError(conn, "add friend", core.Invalid("userId"))
				return
			}

			friend, err := coord.AddFriend(ctx, userID, friendID)
			if err != nil {
				logEventError(conn, "add friend", err)
				return
			}
			_ = socket.Emit("add friend", friend)
		})

		socket.On("active app", func(datas ...any) {
			userID, ok := stringArg(datas, 0)
			if !ok {
				return
			}
			if err := coord.SetForeground(ctx, conn, userID, true); err != nil {
				logEventError(conn, "active app", err)
			}
		})

		socket.On("background app", func(datas ...any) {
			userID, ok := stringArg(datas, 0)
			if !ok {
				return
			}
			if err := coord.SetForeground(ctx, conn, userID, false); err != nil {
				logEventError(conn, "background app", err)
			}
		})

		socket.On("disconnect", func(datas ...any) {
			reason := ""
			if len(datas) > 0 {
				reason, _ = datas[0].(string)
			}
			utils.Log().Printf("DISCONNECTED...| reason: %v\n", reason)

			coord.Disconnect(ctx, conn)
			socket.RemoveAllListeners("")
		})
	})

	return srv, coord
}

func logEventError(conn Conn, event string, err error) {
	log := logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"event":         event,
		"error":         err,
	})
	if core.IsValidation(err) {
		log.Warn("Rejected malformed event payload")
		return
	}
	log.Error("Event handling failed")
}
