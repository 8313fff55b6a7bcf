package consensus

import (
	"fmt"
	"strings"

	"github.com/susu3304/anonchat/internal/relay"
	"github.com/susu3304/anonchat/internal/session"
)

func welcomeText(s *session.Session, userID string) string {
	return fmt.Sprintf("🤝 A new anonymous chat has been opened for order #%s.\n\n"+
		"Your ID: %s\n"+
		"Counterparty: %s\n\n"+
		"Messages and files you send here are forwarded anonymously.\n"+
		"/pay confirms payment, /confirm_completion confirms the work is done, "+
		"/close_chat proposes closing the chat, /status shows progress and /sessions lists your chats.",
		s.OrderID, s.TempIDOf(userID), s.TempIDOf(s.Other(userID)))
}

const (
	textPaymentConfirmed      = "✅ Payment confirmed. The counterparty has been notified."
	textPaymentPrompt         = "💳 The counterparty has confirmed payment. Once the work is done, send /confirm_completion."
	textCompletionBoth        = "🎉 Both parties confirmed completion. You can now close the chat with /close_chat."
	textCompletionRecorded    = "✅ Your confirmation has been recorded. Waiting for the counterparty."
	textCompletionPrompt      = "📋 The counterparty confirmed the order is complete. Send /confirm_completion to confirm as well."
	textCloseProposed         = "🔒 The counterparty proposes closing the chat. Send /approve_close to agree."
	textCloseRequestSent      = "📨 Close request sent. Waiting for the counterparty to approve."
	textCloseApprovedByOther  = "🔒 The counterparty approved closing the chat. Send /approve_close to close it."
	textCloseApprovalRecorded = "✅ Your approval has been recorded. Waiting for the counterparty."
	textClosed                = "🔚 The chat has been closed by mutual agreement."
)

func statusText(s *session.Session, userID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Chat status for order #%s\n", s.OrderID)
	fmt.Fprintf(&b, "Counterparty: %s\n", s.TempIDOf(s.Other(userID)))
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	if s.Paid {
		b.WriteString("Payment: ✅ confirmed\n")
	} else {
		b.WriteString("Payment: ⏳ pending\n")
	}
	fmt.Fprintf(&b, "Completion: %d/2 confirmed", s.CompletionApprovals.Len())
	if pending := pendingParty(s, s.CompletionApprovals, userID); s.Paid && pending != "" {
		fmt.Fprintf(&b, " (waiting for %s)", pending)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Close approvals: %d/2", s.CloseApprovals.Len())
	return b.String()
}

func pendingParty(s *session.Session, approvals session.Approvals, userID string) string {
	youDone := approvals.Contains(userID)
	otherDone := approvals.Contains(s.Other(userID))
	switch {
	case youDone && otherDone:
		return ""
	case youDone:
		return "the counterparty"
	case otherDone:
		return "you"
	}
	return "both parties"
}

func deliveredText(s *session.Session, from string) string {
	return "✓ Delivered to " + s.TempIDOf(s.Other(from))
}

func kindLabel(k relay.Kind) string {
	switch k {
	case relay.KindPhoto:
		return "📷 Photo"
	case relay.KindVoice:
		return "🎤 Voice message"
	case relay.KindVideo:
		return "🎥 Video"
	case relay.KindAudio:
		return "🎵 Audio"
	}
	return "📄 Document"
}

func forwardedText(tempID, text string) string {
	return fmt.Sprintf("💬 %s:\n%s", tempID, text)
}

func forwardedCaption(tempID string, file relay.File, caption string) string {
	out := fmt.Sprintf("%s from %s", kindLabel(file.Kind), tempID)
	if caption != "" {
		out += "\n" + caption
	}
	if file.Kind == relay.KindDocument && file.Name != "" {
		out += "\n📎 " + file.Name
	}
	return out
}
