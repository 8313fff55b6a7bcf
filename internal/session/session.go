package session

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Approvals is a set of participant ids kept sorted for stable encoding.
type Approvals []string

func (a Approvals) Contains(userID string) bool {
	i := sort.SearchStrings(a, userID)
	return i < len(a) && a[i] == userID
}

// Add inserts userID and reports whether the set changed.
func (a *Approvals) Add(userID string) bool {
	if a.Contains(userID) {
		return false
	}
	*a = append(*a, userID)
	sort.Strings(*a)
	return true
}

func (a Approvals) Len() int { return len(a) }

// Session is one anonymous conversation between two participants bound to
// a marketplace order.
type Session struct {
	ID                  string    `json:"session_id"`
	ParticipantA        string    `json:"participant_a"`
	ParticipantB        string    `json:"participant_b"`
	OrderID             string    `json:"order_id"`
	TempIDA             string    `json:"temp_id_a"`
	TempIDB             string    `json:"temp_id_b"`
	Status              Status    `json:"status"`
	Paid                bool      `json:"paid"`
	CompletionApprovals Approvals `json:"completion_approvals"`
	CloseApprovals      Approvals `json:"close_approvals"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivity        time.Time `json:"last_activity"`
	Version             int64     `json:"version"`
}

// New builds an unsaved ACTIVE session with fresh ids.
func New(participantA, participantB, orderID string, now time.Time) *Session {
	return &Session{
		ID:           NewID(),
		ParticipantA: participantA,
		ParticipantB: participantB,
		OrderID:      orderID,
		TempIDA:      NewTempID(),
		TempIDB:      NewTempID(),
		Status:       StatusActive,
		CreatedAt:    now,
		LastActivity: now,
	}
}

func NewID() string {
	return "session_" + uuid.NewString()
}

func NewTempID() string {
	return "user_" + strings.ToUpper(uuid.NewString()[:8])
}

func (s *Session) Active() bool { return s.Status == StatusActive }

func (s *Session) Has(userID string) bool {
	return userID != "" && (userID == s.ParticipantA || userID == s.ParticipantB)
}

// SamePair reports whether the session joins exactly a and b, in any order.
func (s *Session) SamePair(a, b string) bool {
	return (s.ParticipantA == a && s.ParticipantB == b) ||
		(s.ParticipantA == b && s.ParticipantB == a)
}

// Other returns the counterparty of userID, or "" for non-participants.
func (s *Session) Other(userID string) string {
	switch userID {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	}
	return ""
}

func (s *Session) TempIDOf(userID string) string {
	switch userID {
	case s.ParticipantA:
		return s.TempIDA
	case s.ParticipantB:
		return s.TempIDB
	}
	return ""
}

func (s *Session) Clone() *Session {
	c := *s
	c.CompletionApprovals = append(Approvals(nil), s.CompletionApprovals...)
	c.CloseApprovals = append(Approvals(nil), s.CloseApprovals...)
	return &c
}
