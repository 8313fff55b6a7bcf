package commands

import (
	"strconv"
	"strings"

	"github.com/susu3304/anonchat/internal/relay"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindSessions
	KindSwitchIndex
	KindPay
	KindConfirmCompletion
	KindStatus
	KindCloseChat
	KindApproveClose
	KindSwitchCallback
	KindCloseCallback
	KindRefreshSessions
	KindContent
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindStart:             "start",
	KindSessions:          "sessions",
	KindSwitchIndex:       "switch",
	KindPay:               "pay",
	KindConfirmCompletion: "confirm_completion",
	KindStatus:            "status",
	KindCloseChat:         "close_chat",
	KindApproveClose:      "approve_close",
	KindSwitchCallback:    "switch_callback",
	KindCloseCallback:     "close_callback",
	KindRefreshSessions:   "refresh_sessions",
	KindContent:           "content",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command is a parsed inbound event. Index is set for KindSwitchIndex and is
// zero when the index was not a positive number. SessionID is set for the
// callback kinds. Text, File and Caption are set for KindContent.
type Command struct {
	Kind      Kind
	Index     int
	SessionID string
	Text      string
	File      *relay.File
	Caption   string
}

const (
	tokenSwitch  = "switch_"
	tokenClose   = "close_"
	tokenRefresh = "refresh_sessions"
)

var fixedCommands = map[string]Kind{
	"/start":              KindStart,
	"/sessions":           KindSessions,
	"/pay":                KindPay,
	"/confirm_completion": KindConfirmCompletion,
	"/status":             KindStatus,
	"/close_chat":         KindCloseChat,
	"/approve_close":      KindApproveClose,
}

// Parse classifies an event. Commands match on the whole first word, so
// "/payment" is relayed as text rather than treated as "/pay". Any text that
// is not a known command is content for the counterparty.
func Parse(ev relay.Event) Command {
	if ev.Callback != "" {
		return parseCallback(ev.Callback)
	}
	if ev.File != nil {
		return Command{Kind: KindContent, File: ev.File, Caption: ev.Caption}
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Command{Kind: KindUnknown}
	}

	word := strings.Fields(text)[0]
	if i := strings.IndexByte(word, '@'); i > 0 {
		word = word[:i]
	}
	if kind, ok := fixedCommands[word]; ok {
		return Command{Kind: kind}
	}
	if rest, ok := strings.CutPrefix(word, "/"+tokenSwitch); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			n = 0
		}
		return Command{Kind: KindSwitchIndex, Index: n}
	}
	return Command{Kind: KindContent, Text: ev.Text}
}

func parseCallback(token string) Command {
	if token == tokenRefresh {
		return Command{Kind: KindRefreshSessions}
	}
	if id, ok := strings.CutPrefix(token, tokenSwitch); ok && id != "" {
		return Command{Kind: KindSwitchCallback, SessionID: id}
	}
	if id, ok := strings.CutPrefix(token, tokenClose); ok && id != "" {
		return Command{Kind: KindCloseCallback, SessionID: id}
	}
	return Command{Kind: KindUnknown}
}

func switchToken(sessionID string) string { return tokenSwitch + sessionID }
func closeToken(sessionID string) string  { return tokenClose + sessionID }
