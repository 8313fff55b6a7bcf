package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/consensus"
	"github.com/susu3304/anonchat/internal/metrics"
	"github.com/susu3304/anonchat/internal/payment"
	"github.com/susu3304/anonchat/internal/relay"
	"github.com/susu3304/anonchat/internal/session"
)

var (
	errNoCurrentSession = errors.New("no current session")
	errInvalidIndex     = errors.New("invalid session index")
	errUnknownAction    = errors.New("unknown action")
)

// SessionIndex is the read side of the per-user index.
type SessionIndex interface {
	Current(ctx context.Context, userID string) (string, error)
	ListActive(ctx context.Context, userID string) ([]string, error)
	ActiveSessions(ctx context.Context, userID string) ([]*session.Session, error)
}

// MenuUpdater edits the message a callback came from. Transports without
// in-place edits may leave it nil.
type MenuUpdater interface {
	UpdateMenu(ctx context.Context, ref string, menu relay.Menu) error
	AckCallback(ctx context.Context, ref string) error
}

type OrderCollaborator interface {
	AmountFor(ctx context.Context, orderID string) (string, error)
}

type PaymentLinker interface {
	CreateLink(ctx context.Context, req payment.LinkRequest) (string, error)
}

type Router struct {
	engine   *consensus.Engine
	index    SessionIndex
	relay    relay.Relay
	menus    MenuUpdater
	orders   OrderCollaborator
	payments PaymentLinker
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Router)

func WithMenuUpdater(m MenuUpdater) Option { return func(r *Router) { r.menus = m } }

// WithPayments enables payment links after /pay.
func WithPayments(orders OrderCollaborator, payments PaymentLinker) Option {
	return func(r *Router) {
		r.orders = orders
		r.payments = payments
	}
}

func NewRouter(engine *consensus.Engine, index SessionIndex, rl relay.Relay, log *zap.Logger, opts ...Option) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{engine: engine, index: index, relay: rl, log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one inbound event. Failures are reported to the user and
// never returned.
func (r *Router) Handle(ctx context.Context, ev relay.Event) {
	cmd := Parse(ev)
	err := r.dispatch(ctx, ev, cmd)

	outcome := "ok"
	switch {
	case err == nil:
	case session.IsStorage(err):
		outcome = "storage_error"
	default:
		outcome = "rejected"
	}
	metrics.Commands.WithLabelValues(cmd.Kind.String(), outcome).Inc()

	if err == nil {
		return
	}
	if outcome == "storage_error" {
		r.log.Error("command failed", zap.String("command", cmd.Kind.String()), zap.String("user_id", ev.UserID), zap.Error(err))
	} else {
		r.log.Debug("command rejected", zap.String("command", cmd.Kind.String()), zap.String("user_id", ev.UserID), zap.Error(err))
	}
	if ev.CallbackRef != "" && r.menus != nil {
		if ackErr := r.menus.AckCallback(ctx, ev.CallbackRef); ackErr != nil {
			r.log.Warn("failed to acknowledge callback", zap.Error(ackErr))
		}
	}
	r.relay.SendText(ev.UserID, UserMessage(err))
}

func (r *Router) dispatch(ctx context.Context, ev relay.Event, cmd Command) error {
	user := ev.UserID
	switch cmd.Kind {
	case KindStart:
		r.relay.SendText(user, textHelp)
		return nil

	case KindSessions:
		return r.sendSessions(ctx, user)

	case KindRefreshSessions:
		return r.refreshSessions(ctx, ev)

	case KindSwitchIndex:
		return r.switchByIndex(ctx, user, cmd.Index)

	case KindSwitchCallback:
		s, err := r.engine.Switch(ctx, user, cmd.SessionID)
		if err != nil {
			return err
		}
		r.relay.SendText(user, switchedText(s, user))
		return r.refreshSessions(ctx, ev)

	case KindCloseCallback:
		if _, err := r.engine.InitiateClose(ctx, cmd.SessionID, user); err != nil {
			return err
		}
		return r.refreshSessions(ctx, ev)

	case KindPay:
		return r.withCurrent(ctx, user, func(sid string) error {
			s, err := r.engine.ConfirmPayment(ctx, sid, user)
			if err != nil {
				return err
			}
			r.sendPaymentLink(ctx, user, s)
			return nil
		})

	case KindConfirmCompletion:
		return r.withCurrent(ctx, user, func(sid string) error {
			_, err := r.engine.ConfirmCompletion(ctx, sid, user)
			return err
		})

	case KindStatus:
		return r.withCurrent(ctx, user, func(sid string) error {
			text, err := r.engine.Status(ctx, sid, user)
			if err != nil {
				return err
			}
			r.relay.SendText(user, text)
			return nil
		})

	case KindCloseChat:
		return r.withCurrent(ctx, user, func(sid string) error {
			_, err := r.engine.InitiateClose(ctx, sid, user)
			return err
		})

	case KindApproveClose:
		return r.withCurrent(ctx, user, func(sid string) error {
			_, err := r.engine.ApproveClose(ctx, sid, user)
			return err
		})

	case KindContent:
		return r.withCurrent(ctx, user, func(sid string) error {
			return r.engine.Forward(ctx, sid, user, consensus.Content{Text: cmd.Text, File: cmd.File, Caption: cmd.Caption})
		})
	}
	return errUnknownAction
}

func (r *Router) withCurrent(ctx context.Context, userID string, fn func(sessionID string) error) error {
	sid, err := r.index.Current(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return errNoCurrentSession
	}
	if err != nil {
		return err
	}
	return fn(sid)
}

func (r *Router) switchByIndex(ctx context.Context, userID string, n int) error {
	if n < 1 {
		return errInvalidIndex
	}
	ids, err := r.index.ListActive(ctx, userID)
	if err != nil {
		return err
	}
	if n > len(ids) {
		return errInvalidIndex
	}
	s, err := r.engine.Switch(ctx, userID, ids[n-1])
	if err != nil {
		return err
	}
	r.relay.SendText(userID, switchedText(s, userID))
	return nil
}

func (r *Router) sendSessions(ctx context.Context, userID string) error {
	menu, err := r.sessionsMenu(ctx, userID)
	if err != nil {
		return err
	}
	r.relay.SendMenu(userID, menu)
	return nil
}

// refreshSessions redraws the menu a callback came from, or sends a new one
// when the event did not come from a menu.
func (r *Router) refreshSessions(ctx context.Context, ev relay.Event) error {
	if ev.CallbackRef == "" || r.menus == nil {
		return r.sendSessions(ctx, ev.UserID)
	}
	menu, err := r.sessionsMenu(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if err := r.menus.UpdateMenu(ctx, ev.CallbackRef, menu); err != nil {
		r.log.Warn("failed to update sessions menu, sending a new one", zap.Error(err))
		r.relay.SendMenu(ev.UserID, menu)
	}
	return nil
}

func (r *Router) sessionsMenu(ctx context.Context, userID string) (relay.Menu, error) {
	sessions, err := r.index.ActiveSessions(ctx, userID)
	if err != nil {
		return relay.Menu{}, err
	}
	if len(sessions) == 0 {
		return relay.Menu{Text: textNoSessions}, nil
	}

	current, err := r.index.Current(ctx, userID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return relay.Menu{}, err
	}

	var b strings.Builder
	b.WriteString("💬 Your active chats:\n\n")
	rows := make([][]relay.Button, 0, len(sessions)+1)
	for i, s := range sessions {
		mark := "●"
		if s.ID == current {
			mark = "✅"
		}
		other := s.TempIDOf(s.Other(userID))
		fmt.Fprintf(&b, "%s %d. %s | order #%s | %s | %s\n",
			mark, i+1, other, s.OrderID, s.Status, s.CreatedAt.Format("2006-01-02 15:04"))
		rows = append(rows, []relay.Button{
			{Label: fmt.Sprintf("%s %d. %s", mark, i+1, other), Token: switchToken(s.ID)},
			{Label: "❌", Token: closeToken(s.ID)},
		})
	}
	b.WriteString("\nTap a chat to switch to it, ❌ to propose closing it, or use /switch_<number>.")
	rows = append(rows, []relay.Button{{Label: "🔄 Refresh", Token: tokenRefresh}})
	return relay.Menu{Text: b.String(), Rows: rows}, nil
}

func (r *Router) sendPaymentLink(ctx context.Context, userID string, s *session.Session) {
	if r.orders == nil || r.payments == nil {
		return
	}
	amount, err := r.orders.AmountFor(ctx, s.OrderID)
	if err != nil {
		r.log.Error("failed to look up order amount", zap.String("order_id", s.OrderID), zap.Error(err))
		r.relay.SendText(userID, textPaymentLinkFailed)
		return
	}
	req, err := payment.NewLinkRequest(amount, s.ParticipantA, s.ParticipantB, s.OrderID, r.now())
	if err != nil {
		r.log.Error("failed to build payment request", zap.String("order_id", s.OrderID), zap.Error(err))
		r.relay.SendText(userID, textPaymentLinkFailed)
		return
	}
	url, err := r.payments.CreateLink(ctx, req)
	var rejected *payment.RejectedError
	switch {
	case errors.As(err, &rejected) && rejected.Message != "":
		r.relay.SendText(userID, rejected.Message)
		return
	case err != nil:
		r.log.Error("failed to create payment link", zap.String("order_id", s.OrderID), zap.Error(err))
		r.relay.SendText(userID, textPaymentLinkFailed)
		return
	}
	r.relay.SendMenu(userID, relay.Menu{
		Text: textPaymentLink,
		Rows: [][]relay.Button{{{Label: "Go to payment", URL: url}}},
	})
}
