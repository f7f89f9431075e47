package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one protocol frame, a flat JSON object. Constructors below
// stamp the "type" discriminator and the conventional "timestamp" field
// (unix milliseconds).
type Message map[string]any

// Parse decodes one extracted frame. The returned message always has a
// non-empty "type".
func Parse(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if msg.Type() == "" {
		return nil, fmt.Errorf("frame has no type field")
	}
	return msg, nil
}

// Encode serializes the message to its wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Type returns the frame's type discriminator, "" if absent.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// String returns a string field, "" if absent or not a string.
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns a numeric field as an int. JSON numbers decode as float64.
func (m Message) Int(key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// UserID returns a numeric field as a user id.
func (m Message) UserID(key string) uint {
	n := m.Int(key)
	if n < 0 {
		return 0
	}
	return uint(n)
}

func now() int64 {
	return time.Now().UnixMilli()
}

// Friend is one friends-list entry.
type Friend struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

// ChatMessageView is one message as presented on the wire.
type ChatMessageView struct {
	ID       int64  `json:"id"`
	SenderID uint   `json:"sender_id"`
	Content  string `json:"content"`
	SentAt   int64  `json:"sent_at"`
	ReadAt   *int64 `json:"read_at,omitempty"`
}

// InvitationView is one invitation as seen from either side: the
// counterpart's identity snapshot plus the shared request id.
type InvitationView struct {
	RequestID uint   `json:"request_id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// UnreadEntry reports unread messages pending from one counterpart.
type UnreadEntry struct {
	UserID uint  `json:"user_id"`
	Count  int64 `json:"count"`
}

func NewError(message string) Message {
	return Message{"type": TypeError, "message": message, "timestamp": now()}
}

func NewLoginResponse(userID uint, token string) Message {
	return Message{
		"type":      TypeLoginResponse,
		"status":    "success",
		"userId":    userID,
		"token":     token,
		"timestamp": now(),
	}
}

func NewRegisterResponse(success bool, message string) Message {
	return Message{
		"type":      TypeRegisterResponse,
		"status":    statusWord(success),
		"message":   message,
		"timestamp": now(),
	}
}

func NewLogoutResponse() Message {
	return Message{"type": TypeLogoutResponse, "status": "success", "timestamp": now()}
}

func NewStatusResponse(status string) Message {
	return Message{"type": TypeStatusResponse, "status": status, "timestamp": now()}
}

func NewFriendsListResponse(friends []Friend) Message {
	return Message{"type": TypeFriendsListResponse, "friends": friendsOrEmpty(friends), "timestamp": now()}
}

func NewFriendsStatusUpdate(friends []Friend) Message {
	return Message{"type": TypeFriendsStatusUpdate, "friends": friendsOrEmpty(friends), "timestamp": now()}
}

func NewMessageAck(messageID int64) Message {
	return Message{"type": TypeMessageAck, "message_id": messageID, "status": "success", "timestamp": now()}
}

func NewNewMessages(content string, from uint, sentAt int64) Message {
	return Message{
		"type":      TypeNewMessages,
		"content":   content,
		"from":      from,
		"timestamp": sentAt,
	}
}

func NewUnreadFrom(entries []UnreadEntry) Message {
	if entries == nil {
		entries = []UnreadEntry{}
	}
	return Message{"type": TypeUnreadFrom, "unread": entries, "timestamp": now()}
}

func NewChatHistoryResponse(messages []ChatMessageView, hasMore bool, offset int) Message {
	return Message{
		"type":      TypeChatHistoryResponse,
		"messages":  messagesOrEmpty(messages),
		"has_more":  hasMore,
		"offset":    offset,
		"timestamp": now(),
	}
}

func NewLatestMessagesResponse(messages []ChatMessageView) Message {
	return Message{"type": TypeLatestMessagesResponse, "messages": messagesOrEmpty(messages), "timestamp": now()}
}

func NewMoreHistoryResponse(messages []ChatMessageView, hasMore bool, offset int) Message {
	return Message{
		"type":      TypeMoreHistoryResponse,
		"messages":  messagesOrEmpty(messages),
		"has_more":  hasMore,
		"offset":    offset,
		"timestamp": now(),
	}
}

func NewMessageReadResponse() Message {
	return Message{"type": TypeMessageReadResponse, "status": "success", "timestamp": now()}
}

func NewSearchUsersResponse(users []Friend) Message {
	return Message{"type": TypeSearchUsersResponse, "users": friendsOrEmpty(users), "timestamp": now()}
}

func NewRemoveFriendResponse(success bool) Message {
	return Message{"type": TypeRemoveFriendResp, "status": statusWord(success), "timestamp": now()}
}

func NewFriendRemoved(friendID uint) Message {
	return Message{"type": TypeFriendRemoved, "friend_id": friendID, "timestamp": now()}
}

func NewAddFriendResponse(success bool, message string) Message {
	return Message{
		"type":      TypeAddFriendResponse,
		"status":    statusWord(success),
		"message":   message,
		"timestamp": now(),
	}
}

func NewInvitationAlreadyExists(userID uint, username string) Message {
	return Message{
		"type":       TypeInvitationAlreadyExists,
		"user_id":    userID,
		"username":   username,
		"status":     "error",
		"error_code": "INVITATION_ALREADY_EXISTS",
		"message":    "Invitation already sent to this user",
		"timestamp":  now(),
	}
}

func NewFriendRequestReceived(requestID, fromUserID uint, username string) Message {
	return Message{
		"type":         TypeFriendRequestReceived,
		"request_id":   requestID,
		"from_user_id": fromUserID,
		"username":     username,
		"timestamp":    now(),
	}
}

func NewFriendRequestAcceptResponse(success bool, message string) Message {
	return Message{
		"type":      TypeFriendRequestAcceptResp,
		"status":    statusWord(success),
		"message":   message,
		"timestamp": now(),
	}
}

func NewFriendRequestRejectResponse(success bool, message string) Message {
	return Message{
		"type":      TypeFriendRequestRejectResp,
		"status":    statusWord(success),
		"message":   message,
		"timestamp": now(),
	}
}

func NewFriendRequestAcceptedNotification(userID uint, username string) Message {
	return Message{
		"type":      TypeFriendRequestAcceptedNtf,
		"user_id":   userID,
		"username":  username,
		"timestamp": now(),
	}
}

func NewCancelFriendRequestResponse(success bool, message string) Message {
	return Message{
		"type":      TypeCancelFriendRequestResp,
		"status":    statusWord(success),
		"message":   message,
		"timestamp": now(),
	}
}

func NewFriendRequestCancelledNotification(requestID, fromUserID uint) Message {
	return Message{
		"type":         TypeFriendRequestCancelled,
		"request_id":   requestID,
		"from_user_id": fromUserID,
		"timestamp":    now(),
	}
}

func NewSentInvitationsResponse(invitations []InvitationView) Message {
	return Message{"type": TypeSentInvitationsResponse, "invitations": invitationsOrEmpty(invitations), "timestamp": now()}
}

func NewReceivedInvitationsResponse(invitations []InvitationView) Message {
	return Message{"type": TypeReceivedInvitationsResp, "invitations": invitationsOrEmpty(invitations), "timestamp": now()}
}

func NewPing() Message {
	return Message{"type": TypePing, "timestamp": now()}
}

func NewPong(timestamp int64) Message {
	return Message{"type": TypePong, "timestamp": timestamp}
}

func statusWord(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func friendsOrEmpty(friends []Friend) []Friend {
	if friends == nil {
		return []Friend{}
	}
	return friends
}

func messagesOrEmpty(messages []ChatMessageView) []ChatMessageView {
	if messages == nil {
		return []ChatMessageView{}
	}
	return messages
}

func invitationsOrEmpty(invitations []InvitationView) []InvitationView {
	if invitations == nil {
		return []InvitationView{}
	}
	return invitations
}
