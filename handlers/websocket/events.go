package websocket

import (
	"encoding/json"

	"chat-server/core"
)

// Inbound payloads. The wire protocol is duck typed, so every event argument
// is decoded into one of these tagged structs and validated before it
// reaches the coordinator.
type (
	InitChatRequest struct {
		UserID   string `json:"userId" validate:"required"`
		FriendID string `json:"friendId" validate:"required"`
	}

	SendMessageRequest struct {
		RoomID      string `json:"roomId" validate:"required"`
		SenderID    string `json:"senderId" validate:"required"`
		RecipientID string `json:"recipientId" validate:"required"`
		Body        string `json:"message"`
	}
)

// Outbound payloads; field names match the original client protocol.
type (
	InitChatEvent struct {
		Room        *core.Room `json:"room"`
		IsNewActive bool       `json:"isNewActive"`
		FriendID    string     `json:"friendId"`
	}

	MessageEvent struct {
		Message     *core.Message `json:"message"`
		UpdatedRoom *core.Room    `json:"updatedRoom"`
	}

	ReadMessagesEvent struct {
		UpdatedMessages []core.Message `json:"updatedMessages"`
		UpdatedRoom     *core.Room     `json:"updatedRoom"`
	}

	OnlineInfoEvent struct {
		IsOnline    bool   `json:"isOnline"`
		RecipientID string `json:"recipientId"`
	}
)

// decodePayload converts a loosely typed event argument (a map, as the
// Socket.IO parser delivers objects) into a tagged struct.
func decodePayload(data any, into any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return core.Invalid("payload")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return core.Invalid("payload")
	}
	return nil
}

// stringArg extracts the i-th argument as a string.
func stringArg(datas []any, i int) (string, bool) {
	if i >= len(datas) {
		return "", false
	}
	s, ok := datas[i].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// boolArg extracts the i-th argument as a bool.
func boolArg(datas []any, i int) (bool, bool) {
	if i >= len(datas) {
		return false, false
	}
	b, ok := datas[i].(bool)
	return b, ok
}

// stringList accepts a single room id or an array of them; the original
// client sends both shapes on "join room".
func stringList(data any) []string {
	switch v := data.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	case []string:
		return v
	default:
		return nil
	}
}
