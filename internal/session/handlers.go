package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fluxchat/fluxchat/internal/models"
	"github.com/fluxchat/fluxchat/internal/protocol"
	"github.com/fluxchat/fluxchat/internal/repositories"
	"github.com/fluxchat/fluxchat/pkg/utils"
)

const defaultPageSize = 20

// dispatch routes one allowed request to its handler and returns the
// response frame, or nil when the handler has nothing to answer.
func (s *Session) dispatch(msg protocol.Message) protocol.Message {
	switch msg.Type() {
	case protocol.TypePing:
		return protocol.NewPong(int64(msg.Int("timestamp")))
	case protocol.TypeLogin:
		return s.handleLogin(msg)
	case protocol.TypeRegister:
		return s.handleRegister(msg)
	case protocol.TypeLogout:
		return s.handleLogout()
	case protocol.TypeGetStatus:
		return s.handleGetStatus()
	case protocol.TypeStatusUpdate:
		return s.handleStatusUpdate(msg)
	case protocol.TypeGetFriendsList:
		return s.handleGetFriendsList()
	case protocol.TypeRemoveFriend:
		return s.handleRemoveFriend(msg)
	case protocol.TypeSearchUsers:
		return s.handleSearchUsers(msg)
	case protocol.TypeSendMessage:
		return s.handleSendMessage(msg)
	case protocol.TypeGetChatHistory:
		return s.handleChatHistory(msg, false)
	case protocol.TypeGetMoreHistory:
		return s.handleChatHistory(msg, true)
	case protocol.TypeGetLatestMessages:
		return s.handleLatestMessages(msg)
	case protocol.TypeMessageRead:
		return s.handleMessageRead(msg)
	case protocol.TypeAddFriendRequest:
		return s.handleAddFriendRequest(msg)
	case protocol.TypeFriendRequestAccept:
		return s.handleFriendRequestAccept(msg)
	case protocol.TypeFriendRequestReject:
		return s.handleFriendRequestReject(msg)
	case protocol.TypeCancelFriendRequest:
		return s.handleCancelFriendRequest(msg)
	case protocol.TypeGetSentInvitations:
		return s.handleGetSentInvitations()
	case protocol.TypeGetReceivedInvitations:
		return s.handleGetReceivedInvitations()
	}
	return protocol.NewError("Unknown message type")
}

// allow charges one request against a rate limit window.
func (s *Session) allow(key string, limit int) bool {
	return s.cfg.Limiter.Allow(context.Background(), key, limit, time.Minute)
}

// storageError logs the real cause server-side and returns the generic
// failure frame. Storage details never reach the client.
func (s *Session) storageError(op string, err error) protocol.Message {
	s.log.Error("storage operation failed", zap.String("op", op), zap.Error(err))
	return protocol.NewError("Operation failed")
}

func (s *Session) handleLogin(msg protocol.Message) protocol.Message {
	if !s.allow("login:"+s.remoteHost(), s.cfg.Rules.LoginPerMinute) {
		return protocol.NewError("Too many login attempts")
	}

	username := msg.String("username")
	password := msg.String("password")

	user, err := s.repos.Users.Authenticate(username, password)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidCredentials) {
			// Deliberately identical for unknown user and wrong password.
			return protocol.NewError("Invalid username or password")
		}
		return s.storageError("authenticate", err)
	}

	s.state = protocol.StateAuthenticated
	s.userID = user.ID
	s.username = user.Username
	s.log = s.log.WithFields(zap.Uint("user_id", user.ID))

	if prev := s.reg.Register(user.ID, s); prev != nil {
		prev.Evict("Logged in from another location")
	}

	token, err := utils.GenerateToken(user.ID, user.Username)
	if err != nil {
		s.log.Warn("failed to issue session token", zap.Error(err))
	}

	s.send(protocol.NewLoginResponse(user.ID, token))

	// Proactively report which counterparts have unread messages, then
	// the current friends list, in that order.
	unread, err := s.repos.Chats.UnreadPartners(user.ID)
	if err != nil {
		s.log.Error("failed to load unread partners", zap.Error(err))
	} else {
		entries := make([]protocol.UnreadEntry, 0, len(unread))
		for id, count := range unread {
			entries = append(entries, protocol.UnreadEntry{UserID: id, Count: count})
		}
		s.send(protocol.NewUnreadFrom(entries))
	}

	if friends, err := s.friendViews(); err != nil {
		s.log.Error("failed to load friends list", zap.Error(err))
	} else {
		s.send(protocol.NewFriendsListResponse(friends))
	}

	s.log.Info("user logged in", zap.String("username", user.Username))
	return nil
}

func (s *Session) handleRegister(msg protocol.Message) protocol.Message {
	if !s.allow("register:"+s.remoteHost(), s.cfg.Rules.RegisterPerMinute) {
		return protocol.NewError("Too many registration attempts")
	}

	username := msg.String("username")
	password := msg.String("password")
	email := msg.String("email")

	_, err := s.repos.Users.Register(username, password, email)
	switch {
	case err == nil:
		s.log.Info("user registered", zap.String("username", username))
		return protocol.NewRegisterResponse(true, "Registration successful")
	case errors.Is(err, repositories.ErrInvalidUsername),
		errors.Is(err, repositories.ErrInvalidPassword),
		errors.Is(err, repositories.ErrInvalidEmail),
		errors.Is(err, repositories.ErrUsernameTaken):
		return protocol.NewRegisterResponse(false, err.Error())
	default:
		return s.storageError("register", err)
	}
}

// handleLogout returns the session to the unauthenticated state; the
// connection stays open for a subsequent login.
func (s *Session) handleLogout() protocol.Message {
	uid := s.userID

	if s.reg.Unregister(uid, s) {
		if err := s.repos.Users.UpdateStatus(uid, models.StatusOffline); err != nil {
			s.log.Warn("failed to mark user offline", zap.Error(err))
		}
	}

	s.state = protocol.StateInitial
	s.userID = 0
	s.username = ""
	s.log.Info("user logged out", zap.Uint("user_id", uid))
	return protocol.NewLogoutResponse()
}

func (s *Session) handleGetStatus() protocol.Message {
	status, err := s.repos.Users.GetStatus(s.userID)
	if err != nil {
		return s.storageError("get status", err)
	}
	return protocol.NewStatusResponse(status)
}

func (s *Session) handleStatusUpdate(msg protocol.Message) protocol.Message {
	status := msg.String("status")
	if !models.ValidStatus(status) {
		return protocol.NewError("Invalid status")
	}
	if err := s.repos.Users.UpdateStatus(s.userID, status); err != nil {
		return s.storageError("update status", err)
	}
	return protocol.NewStatusResponse(status)
}

func (s *Session) handleGetFriendsList() protocol.Message {
	friends, err := s.friendViews()
	if err != nil {
		return s.storageError("friends list", err)
	}
	return protocol.NewFriendsListResponse(friends)
}

func (s *Session) handleRemoveFriend(msg protocol.Message) protocol.Message {
	friendID := msg.UserID("friend_id")
	if friendID == 0 {
		return protocol.NewError("Invalid friend id")
	}

	err := s.repos.Friends.RemoveFriend(s.userID, friendID)
	switch {
	case err == nil:
		s.pushTo(friendID, protocol.NewFriendRemoved(s.userID))
		return protocol.NewRemoveFriendResponse(true)
	case errors.Is(err, repositories.ErrNotFriends):
		return protocol.NewRemoveFriendResponse(false)
	default:
		return s.storageError("remove friend", err)
	}
}

func (s *Session) handleSearchUsers(msg protocol.Message) protocol.Message {
	users, err := s.repos.Users.SearchUsers(msg.String("query"), s.userID)
	if err != nil {
		return s.storageError("search users", err)
	}
	results := make([]protocol.Friend, 0, len(users))
	for _, u := range users {
		results = append(results, protocol.Friend{ID: u.ID, Username: u.Username, Status: u.Status})
	}
	return protocol.NewSearchUsersResponse(results)
}

// handleSendMessage persists the message first, then acknowledges the
// sender and, when the recipient is online, pushes it straight into the
// recipient's connection.
func (s *Session) handleSendMessage(msg protocol.Message) protocol.Message {
	if !s.allow(fmt.Sprintf("message:%d", s.userID), s.cfg.Rules.MessagesPerMinute) {
		return protocol.NewError("Too many messages")
	}

	receiverID := msg.UserID("receiver_id")
	content := msg.String("content")
	if receiverID == 0 || receiverID == s.userID {
		return protocol.NewError("Invalid receiver id")
	}
	if content == "" {
		return protocol.NewError("Message content is empty")
	}

	stored, err := s.repos.Chats.StoreMessage(s.userID, receiverID, content)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return protocol.NewError("Invalid receiver id")
		}
		return s.storageError("store message", err)
	}

	s.pushTo(receiverID, protocol.NewNewMessages(stored.Content, s.userID, stored.SentAt.UnixMilli()))
	return protocol.NewMessageAck(stored.ID)
}

func (s *Session) handleChatHistory(msg protocol.Message, more bool) protocol.Message {
	friendID := msg.UserID("friend_id")
	if friendID == 0 {
		return protocol.NewError("Invalid friend id")
	}
	limit := msg.Int("limit")
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := msg.Int("offset")
	if offset < 0 {
		offset = 0
	}

	messages, err := s.repos.Chats.GetChatHistory(s.userID, friendID, limit, offset)
	if err != nil {
		return s.storageError("chat history", err)
	}
	hasMore, err := s.repos.Chats.HasMoreHistory(s.userID, friendID, offset, limit)
	if err != nil {
		return s.storageError("chat history", err)
	}

	views := messageViews(messages)
	if more {
		return protocol.NewMoreHistoryResponse(views, hasMore, offset)
	}
	return protocol.NewChatHistoryResponse(views, hasMore, offset)
}

func (s *Session) handleLatestMessages(msg protocol.Message) protocol.Message {
	friendID := msg.UserID("friend_id")
	if friendID == 0 {
		return protocol.NewError("Invalid friend id")
	}
	limit := msg.Int("limit")
	if limit <= 0 {
		limit = defaultPageSize
	}

	messages, err := s.repos.Chats.GetLatestMessages(s.userID, friendID, limit)
	if err != nil {
		return s.storageError("latest messages", err)
	}
	return protocol.NewLatestMessagesResponse(messageViews(messages))
}

func (s *Session) handleMessageRead(msg protocol.Message) protocol.Message {
	friendID := msg.UserID("friendId")
	if friendID == 0 {
		friendID = msg.UserID("friend_id")
	}
	if friendID == 0 {
		return protocol.NewError("Invalid friend id")
	}
	if err := s.repos.Chats.MarkChatAsRead(s.userID, friendID); err != nil {
		return s.storageError("mark as read", err)
	}
	return protocol.NewMessageReadResponse()
}

func (s *Session) handleAddFriendRequest(msg protocol.Message) protocol.Message {
	targetID := msg.UserID("user_id")
	if targetID == 0 {
		return protocol.NewError("Invalid user id")
	}

	inv, err := s.repos.Invitations.Send(s.userID, targetID)
	switch {
	case err == nil:
		s.pushTo(targetID, protocol.NewFriendRequestReceived(inv.ID, s.userID, s.username))
		return protocol.NewAddFriendResponse(true, "Friend request sent")
	case errors.Is(err, repositories.ErrInvitationExists):
		username := ""
		if target, lookupErr := s.repos.Users.GetByID(targetID); lookupErr == nil {
			username = target.Username
		}
		return protocol.NewInvitationAlreadyExists(targetID, username)
	case errors.Is(err, repositories.ErrSelfInvitation),
		errors.Is(err, repositories.ErrAlreadyFriends),
		errors.Is(err, repositories.ErrUserNotFound):
		return protocol.NewAddFriendResponse(false, err.Error())
	default:
		return s.storageError("send invitation", err)
	}
}

// handleFriendRequestAccept flips the invitation, establishes mutual
// friendship, refreshes both sides' friend lists and notifies the online
// counterpart.
func (s *Session) handleFriendRequestAccept(msg protocol.Message) protocol.Message {
	requestID := msg.UserID("request_id")
	if requestID == 0 {
		return protocol.NewError("Invalid request id")
	}

	inv, err := s.repos.Invitations.Accept(s.userID, requestID)
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrNotPending):
		return protocol.NewFriendRequestAcceptResponse(false, "Invitation is not pending")
	default:
		return s.storageError("accept invitation", err)
	}

	s.send(protocol.NewFriendRequestAcceptResponse(true, "Friend request accepted"))
	if friends, err := s.friendViews(); err == nil {
		s.send(protocol.NewFriendsListResponse(friends))
	}

	s.pushTo(inv.SenderID, protocol.NewFriendRequestAcceptedNotification(s.userID, s.username))
	if senderFriends, err := s.repos.Friends.GetFriendsList(inv.SenderID); err == nil {
		s.pushTo(inv.SenderID, protocol.NewFriendsListResponse(friendInfoViews(senderFriends)))
	}
	return nil
}

// handleFriendRequestReject: no counterpart notification, the sender just
// sees the status change next time they list sent invitations.
func (s *Session) handleFriendRequestReject(msg protocol.Message) protocol.Message {
	requestID := msg.UserID("request_id")
	if requestID == 0 {
		return protocol.NewError("Invalid request id")
	}

	_, err := s.repos.Invitations.Reject(s.userID, requestID)
	switch {
	case err == nil:
		return protocol.NewFriendRequestRejectResponse(true, "Friend request rejected")
	case errors.Is(err, repositories.ErrNotPending):
		return protocol.NewFriendRequestRejectResponse(false, "Invitation is not pending")
	default:
		return s.storageError("reject invitation", err)
	}
}

func (s *Session) handleCancelFriendRequest(msg protocol.Message) protocol.Message {
	requestID := msg.UserID("request_id")
	if requestID == 0 {
		return protocol.NewError("Invalid request id")
	}

	inv, err := s.repos.Invitations.Cancel(s.userID, requestID)
	switch {
	case err == nil:
		s.pushTo(inv.ReceiverID, protocol.NewFriendRequestCancelledNotification(inv.ID, s.userID))
		return protocol.NewCancelFriendRequestResponse(true, "Friend request cancelled")
	case errors.Is(err, repositories.ErrNotPending):
		return protocol.NewCancelFriendRequestResponse(false, "Invitation is not pending")
	default:
		return s.storageError("cancel invitation", err)
	}
}

func (s *Session) handleGetSentInvitations() protocol.Message {
	invitations, err := s.repos.Invitations.ListSent(s.userID)
	if err != nil {
		return s.storageError("sent invitations", err)
	}
	return protocol.NewSentInvitationsResponse(invitationViews(invitations, true))
}

func (s *Session) handleGetReceivedInvitations() protocol.Message {
	invitations, err := s.repos.Invitations.ListReceived(s.userID)
	if err != nil {
		return s.storageError("received invitations", err)
	}
	return protocol.NewReceivedInvitationsResponse(invitationViews(invitations, false))
}

func (s *Session) friendViews() ([]protocol.Friend, error) {
	friends, err := s.repos.Friends.GetFriendsList(s.userID)
	if err != nil {
		return nil, err
	}
	return friendInfoViews(friends), nil
}

func friendInfoViews(friends []models.FriendInfo) []protocol.Friend {
	views := make([]protocol.Friend, 0, len(friends))
	for _, f := range friends {
		views = append(views, protocol.Friend{ID: f.ID, Username: f.Username, Status: f.Status})
	}
	return views
}

func messageViews(messages []models.ChatMessage) []protocol.ChatMessageView {
	views := make([]protocol.ChatMessageView, 0, len(messages))
	for _, m := range messages {
		view := protocol.ChatMessageView{
			ID:       m.ID,
			SenderID: m.SenderID,
			Content:  m.Content,
			SentAt:   m.SentAt.UnixMilli(),
		}
		if m.ReadAt != nil {
			readAt := m.ReadAt.UnixMilli()
			view.ReadAt = &readAt
		}
		views = append(views, view)
	}
	return views
}

// invitationViews projects invitations for one side: the counterpart is
// the receiver of a sent invitation and the sender of a received one.
func invitationViews(invitations []models.Invitation, sent bool) []protocol.InvitationView {
	views := make([]protocol.InvitationView, 0, len(invitations))
	for _, inv := range invitations {
		view := protocol.InvitationView{
			RequestID: inv.ID,
			Status:    inv.Status,
			CreatedAt: inv.CreatedAt.UnixMilli(),
		}
		if sent {
			view.UserID = inv.ReceiverID
			view.Username = inv.ReceiverName
		} else {
			view.UserID = inv.SenderID
			view.Username = inv.SenderName
		}
		views = append(views, view)
	}
	return views
}
