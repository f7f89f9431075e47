package protocol

// Frame type discriminators. Every frame on the wire carries exactly one
// of these in its "type" field.
const (
	TypeLogin            = "login"
	TypeLoginResponse    = "login_response"
	TypeRegister         = "register"
	TypeRegisterResponse = "register_response"
	TypeLogout           = "logout"
	TypeLogoutResponse   = "logout_response"

	TypeGetStatus      = "get_status"
	TypeStatusUpdate   = "status_update"
	TypeStatusResponse = "status_response"

	TypeGetFriendsList      = "get_friends_list"
	TypeFriendsListResponse = "friends_list_response"
	TypeFriendsStatusUpdate = "friends_status_update"
	TypeRemoveFriend        = "remove_friend"
	TypeRemoveFriendResp    = "remove_friend_response"
	TypeFriendRemoved       = "friend_removed"
	TypeSearchUsers         = "search_users"
	TypeSearchUsersResponse = "search_users_response"

	TypeSendMessage            = "send_message"
	TypeMessageAck             = "message_ack"
	TypeNewMessages            = "new_messages"
	TypeGetChatHistory         = "get_chat_history"
	TypeChatHistoryResponse    = "chat_history_response"
	TypeGetLatestMessages      = "get_latest_messages"
	TypeLatestMessagesResponse = "latest_messages_response"
	TypeGetMoreHistory         = "get_more_history"
	TypeMoreHistoryResponse    = "more_history_response"
	TypeMessageRead            = "message_read"
	TypeMessageReadResponse    = "message_read_response"
	TypeUnreadFrom             = "unread_from"

	TypeAddFriendRequest         = "add_friend_request"
	TypeAddFriendResponse        = "add_friend_response"
	TypeInvitationAlreadyExists  = "invitation_already_exists"
	TypeFriendRequestReceived    = "friend_request_received"
	TypeFriendRequestAccept      = "friend_request_accept"
	TypeFriendRequestAcceptResp  = "friend_request_accept_response"
	TypeFriendRequestReject      = "friend_request_reject"
	TypeFriendRequestRejectResp  = "friend_request_reject_response"
	TypeFriendRequestAcceptedNtf = "friend_request_accepted_notification"
	TypeCancelFriendRequest      = "cancel_friend_request"
	TypeCancelFriendRequestResp  = "cancel_friend_request_response"
	TypeFriendRequestCancelled   = "friend_request_cancelled_notification"
	TypeGetSentInvitations       = "get_sent_invitations"
	TypeSentInvitationsResponse  = "sent_invitations_response"
	TypeGetReceivedInvitations   = "get_received_invitations"
	TypeReceivedInvitationsResp  = "received_invitations_response"

	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// State of one connection's protocol engine.
type State int

const (
	StateInitial State = iota
	StateAuthenticated
)

// allowed holds the per-state request allow-lists. Responses and pushes
// are server-origin and never appear here.
var allowed = map[State]map[string]bool{
	StateInitial: {
		TypeLogin:    true,
		TypeRegister: true,
		TypePing:     true,
		TypePong:     true,
	},
	StateAuthenticated: {
		TypeLogout:                 true,
		TypeGetStatus:              true,
		TypeStatusUpdate:           true,
		TypeGetFriendsList:         true,
		TypeRemoveFriend:           true,
		TypeSearchUsers:            true,
		TypeSendMessage:            true,
		TypeGetChatHistory:         true,
		TypeGetLatestMessages:      true,
		TypeGetMoreHistory:         true,
		TypeMessageRead:            true,
		TypeAddFriendRequest:       true,
		TypeFriendRequestAccept:    true,
		TypeFriendRequestReject:    true,
		TypeCancelFriendRequest:    true,
		TypeGetSentInvitations:     true,
		TypeGetReceivedInvitations: true,
		TypePing:                   true,
		TypePong:                   true,
	},
}

// Allowed reports whether a request of the given type may be dispatched in
// the given state.
func Allowed(state State, msgType string) bool {
	return allowed[state][msgType]
}
