package consensus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/metrics"
	"github.com/susu3304/anonchat/internal/relay"
	"github.com/susu3304/anonchat/internal/session"
)

var ErrEmptyContent = errors.New("message has no text or file")

const defaultMaxRetries = 5

// Index is the part of the per-user session index the engine maintains.
type Index interface {
	SetCurrent(ctx context.Context, userID, sessionID string) error
	ClearCurrentIf(ctx context.Context, userID, sessionID string) error
	AddActive(ctx context.Context, userID, sessionID string) error
	RemoveActive(ctx context.Context, userID, sessionID string) error
}

// Content is a message forwarded between participants.
type Content struct {
	Text    string
	File    *relay.File
	Caption string
}

// Engine drives the session state machine. Every mutation is a versioned
// read-modify-write retried on conflict; notifications go out only after
// the write commits.
type Engine struct {
	store      session.Store
	index      Index
	relay      relay.Relay
	log        *zap.Logger
	now        func() time.Time
	maxRetries int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

func New(store session.Store, index Index, r relay.Relay, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:      store,
		index:      index,
		relay:      r,
		log:        log,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create opens a session for the pair on orderID. An ACTIVE session for the
// same pair and order is returned unchanged.
func (e *Engine) Create(ctx context.Context, participantA, participantB, orderID string) (*session.Session, error) {
	if participantA == "" || participantB == "" || participantA == participantB {
		return nil, session.ErrInvalidParticipants
	}

	if existing, err := e.existingFor(ctx, participantA, participantB, orderID); existing != nil || err != nil {
		return existing, err
	}

	saved, err := e.store.Save(ctx, session.New(participantA, participantB, orderID, e.now()))
	if errors.Is(err, session.ErrConflict) {
		// Lost a race with a concurrent create for the same order.
		if existing, ferr := e.existingFor(ctx, participantA, participantB, orderID); existing != nil || ferr != nil {
			return existing, ferr
		}
	}
	if err != nil {
		return nil, err
	}
	metrics.SessionTransitions.WithLabelValues("create").Inc()

	for _, user := range []string{participantA, participantB} {
		if err := e.index.SetCurrent(ctx, user, saved.ID); err != nil {
			e.log.Error("failed to set current session", zap.String("session_id", saved.ID), zap.String("user_id", user), zap.Error(err))
		}
		if err := e.index.AddActive(ctx, user, saved.ID); err != nil {
			e.log.Error("failed to index active session", zap.String("session_id", saved.ID), zap.String("user_id", user), zap.Error(err))
		}
	}

	e.log.Info("session created",
		zap.String("session_id", saved.ID),
		zap.String("order_id", orderID),
		zap.String("participant_a", participantA),
		zap.String("participant_b", participantB))

	e.relay.SendText(participantA, welcomeText(saved, participantA))
	e.relay.SendText(participantB, welcomeText(saved, participantB))
	return saved, nil
}

func (e *Engine) existingFor(ctx context.Context, a, b, orderID string) (*session.Session, error) {
	existing, err := e.store.FindByOrder(ctx, orderID, a, b)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.Active() && existing.SamePair(a, b) {
		return existing, nil
	}
	return nil, nil
}

func (e *Engine) ConfirmPayment(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	s, err := e.mutate(ctx, "confirm_payment", sessionID, userID, func(s *session.Session) error {
		if s.Paid {
			return session.ErrAlreadyConfirmed
		}
		s.Paid = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.relay.SendText(userID, textPaymentConfirmed)
	e.relay.SendText(s.Other(userID), textPaymentPrompt)
	return s, nil
}

func (e *Engine) ConfirmCompletion(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	s, err := e.mutate(ctx, "confirm_completion", sessionID, userID, func(s *session.Session) error {
		if !s.Paid {
			return session.ErrPaymentRequired
		}
		s.CompletionApprovals.Add(userID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.CompletionApprovals.Len() == 2 {
		e.relay.SendText(s.ParticipantA, textCompletionBoth)
		e.relay.SendText(s.ParticipantB, textCompletionBoth)
	} else {
		e.relay.SendText(s.Other(userID), textCompletionPrompt)
		e.relay.SendText(userID, textCompletionRecorded)
	}
	return s, nil
}

// InitiateClose records userID's wish to close. When both parties have
// approved, the session closes.
func (e *Engine) InitiateClose(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	s, err := e.mutate(ctx, "initiate_close", sessionID, userID, addCloseApproval(userID))
	if err != nil {
		return nil, err
	}

	if !s.Active() {
		e.finishClose(ctx, s)
		return s, nil
	}
	e.relay.SendText(s.Other(userID), textCloseProposed)
	e.relay.SendText(userID, textCloseRequestSent)
	return s, nil
}

func (e *Engine) ApproveClose(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	s, err := e.mutate(ctx, "approve_close", sessionID, userID, addCloseApproval(userID))
	if err != nil {
		return nil, err
	}

	if !s.Active() {
		e.finishClose(ctx, s)
		return s, nil
	}
	e.relay.SendText(s.Other(userID), textCloseApprovedByOther)
	e.relay.SendText(userID, textCloseApprovalRecorded)
	return s, nil
}

// addCloseApproval refuses to close a paid session until both parties have
// confirmed completion. Unpaid sessions may be closed at any time.
func addCloseApproval(userID string) func(*session.Session) error {
	return func(s *session.Session) error {
		if s.Paid && s.CompletionApprovals.Len() < 2 {
			return &session.CompletionError{Approvals: s.CompletionApprovals.Len()}
		}
		s.CloseApprovals.Add(userID)
		if s.CloseApprovals.Len() == 2 {
			s.Status = session.StatusClosed
		}
		return nil
	}
}

func (e *Engine) finishClose(ctx context.Context, s *session.Session) {
	for _, user := range []string{s.ParticipantA, s.ParticipantB} {
		if err := e.index.ClearCurrentIf(ctx, user, s.ID); err != nil {
			e.log.Error("failed to clear current session", zap.String("session_id", s.ID), zap.String("user_id", user), zap.Error(err))
		}
		if err := e.index.RemoveActive(ctx, user, s.ID); err != nil {
			e.log.Error("failed to remove active session", zap.String("session_id", s.ID), zap.String("user_id", user), zap.Error(err))
		}
		e.relay.SendText(user, textClosed)
	}
	e.log.Info("session closed", zap.String("session_id", s.ID), zap.String("order_id", s.OrderID))
}

// Status describes the session's payment and completion progress.
func (e *Engine) Status(ctx context.Context, sessionID, userID string) (string, error) {
	s, err := e.Session(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}
	return statusText(s, userID), nil
}

// Session loads a session on behalf of one of its participants.
func (e *Engine) Session(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	s, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Has(userID) {
		return nil, session.ErrNotParticipant
	}
	return s, nil
}

// Switch makes sessionID the user's current session.
func (e *Engine) Switch(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	s, err := e.Session(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !s.Active() {
		return nil, session.ErrInvalidState
	}
	if err := e.index.SetCurrent(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s, nil
}

// Forward relays content from one participant to the other under the
// sender's temporary id.
func (e *Engine) Forward(ctx context.Context, sessionID, from string, c Content) error {
	if c.File == nil && c.Text == "" {
		return ErrEmptyContent
	}
	s, err := e.mutate(ctx, "forward", sessionID, from, func(*session.Session) error { return nil })
	if err != nil {
		return err
	}

	to := s.Other(from)
	tempID := s.TempIDOf(from)
	if c.File != nil {
		e.relay.SendFile(to, *c.File, forwardedCaption(tempID, *c.File, c.Caption))
	} else {
		e.relay.SendText(to, forwardedText(tempID, c.Text))
	}
	e.relay.SendText(from, deliveredText(s, from))
	return nil
}

func (e *Engine) mutate(ctx context.Context, op, sessionID, userID string, fn func(*session.Session) error) (*session.Session, error) {
	for attempt := 1; ; attempt++ {
		current, err := e.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !current.Has(userID) {
			return nil, session.ErrNotParticipant
		}
		if !current.Active() {
			return nil, session.ErrInvalidState
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.LastActivity = e.now()

		saved, err := e.store.Save(ctx, next)
		if errors.Is(err, session.ErrConflict) && attempt < e.maxRetries {
			e.log.Debug("retrying after concurrent update", zap.String("session_id", sessionID), zap.String("op", op), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.SessionTransitions.WithLabelValues(op).Inc()
		e.log.Info("session updated",
			zap.String("op", op),
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Int64("version", saved.Version))
		return saved, nil
	}
}
