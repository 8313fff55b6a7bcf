package commands

import (
	"errors"
	"fmt"

	"github.com/susu3304/anonchat/internal/session"
)

const (
	textHelp = "👋 Welcome! This bot relays messages anonymously between you and your counterparty.\n\n" +
		"/sessions: list your active chats\n" +
		"/switch_<number>: switch to a chat from the list\n" +
		"/pay: confirm payment for the current chat\n" +
		"/confirm_completion: confirm the order is complete\n" +
		"/status: show the current chat status\n" +
		"/close_chat: propose closing the current chat\n" +
		"/approve_close: approve closing the current chat\n\n" +
		"Anything else you send is forwarded to the counterparty of your current chat."
	textNoSessions        = "You have no active chats."
	textPaymentLink       = "💳 Payment link for your order:"
	textPaymentLinkFailed = "Payment is confirmed, but a payment link could not be created. Please try again later."
)

func switchedText(s *session.Session, userID string) string {
	return fmt.Sprintf("🔀 Switched to the chat with %s (order #%s).", s.TempIDOf(s.Other(userID)), s.OrderID)
}

// UserMessage renders an error from a chat operation for the acting user.
func UserMessage(err error) string {
	var ce *session.CompletionError
	switch {
	case errors.Is(err, errNoCurrentSession):
		return "You have no active chat selected. Use /sessions to pick one."
	case errors.Is(err, errInvalidIndex):
		return "Invalid chat number. Use /sessions to see your chats."
	case errors.Is(err, errUnknownAction):
		return "Unknown action."
	case errors.As(err, &ce):
		return fmt.Sprintf("Both parties must confirm completion before the chat can be closed (%d/2 confirmed). Use /confirm_completion.", ce.Approvals)
	case errors.Is(err, session.ErrNotFound):
		return "Chat not found or expired."
	case errors.Is(err, session.ErrNotParticipant):
		return "You are not a participant of this chat."
	case errors.Is(err, session.ErrInvalidState):
		return "This chat is already closed."
	case errors.Is(err, session.ErrPaymentRequired):
		return "Payment has not been confirmed yet. Use /pay first."
	case errors.Is(err, session.ErrAlreadyConfirmed):
		return "❌ Payment has already been confirmed."
	case errors.Is(err, session.ErrConflict):
		return "The chat was updated at the same moment by the other side. Please try again."
	case errors.Is(err, session.ErrInvalidParticipants):
		return "A chat needs two different participants."
	case session.IsStorage(err):
		return "Temporary storage problem. Please try again later."
	}
	return "Something went wrong. Please try again later."
}
