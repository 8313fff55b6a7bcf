package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/consensus"
	"github.com/susu3304/anonchat/internal/db"
	"github.com/susu3304/anonchat/internal/relay"
	"github.com/susu3304/anonchat/internal/session"
)

type createOrderRequest struct {
	ClientID    string `json:"client_id"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type acceptOrderRequest struct {
	ExecutorID string `json:"executor_id"`
}

type acceptOrderResponse struct {
	Order     *db.Order `json:"order"`
	SessionID string    `json:"session_id"`
}

type createSessionRequest struct {
	OrderID string `json:"order_id"`
	PartyA  string `json:"party_a"`
	PartyB  string `json:"party_b"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	FileID    string `json:"file_id"`
	FileType  string `json:"file_type"`
	FileName  string `json:"file_name"`
	Caption   string `json:"caption"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, check := range a.checks {
		if err := check(r.Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	if _, err := strconv.ParseInt(req.Price, 10, 64); err != nil {
		http.Error(w, "price must be an integer", http.StatusBadRequest)
		return
	}

	order, err := a.orders.CreateOrder(r.Context(), req.ClientID, req.Description, req.Price)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := db.ParseOrderID(mux.Vars(r)["order_id"])
	if err != nil {
		http.Error(w, "invalid order_id", http.StatusBadRequest)
		return
	}
	order, err := a.orders.GetOrder(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleAcceptOrder assigns the executor and opens the anonymous chat
// between the order's client and the executor. The order is reopened when
// the chat cannot be created.
func (a *API) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	id, err := db.ParseOrderID(mux.Vars(r)["order_id"])
	if err != nil {
		http.Error(w, "invalid order_id", http.StatusBadRequest)
		return
	}
	var req acceptOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExecutorID == "" {
		http.Error(w, "executor_id is required", http.StatusBadRequest)
		return
	}

	order, err := a.orders.GetOrder(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if order.ClientID == req.ExecutorID {
		a.writeError(w, r, session.ErrInvalidParticipants)
		return
	}

	order, err = a.orders.AcceptOrder(r.Context(), id, req.ExecutorID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	s, err := a.engine.Create(r.Context(), order.ClientID, req.ExecutorID, strconv.FormatInt(order.ID, 10))
	if err != nil {
		if rerr := a.orders.ReleaseOrder(r.Context(), order.ID); rerr != nil {
			a.log.Error("failed to release order after chat setup failed",
				zap.Int64("order_id", order.ID), zap.Error(rerr))
		}
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptOrderResponse{Order: order, SessionID: s.ID})
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}

	s, err := a.engine.Create(r.Context(), req.PartyA, req.PartyB, req.OrderID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	content := consensus.Content{Text: req.Message, Caption: req.Caption}
	if req.FileID != "" {
		content.File = &relay.File{Ref: req.FileID, Kind: relay.ParseKind(req.FileType), Name: req.FileName}
		if content.Caption == "" {
			content.Caption = req.Message
		}
	}

	if err := a.engine.Forward(r.Context(), req.SessionID, req.UserID, content); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCloseChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}
	s, err := a.engine.InitiateClose(r.Context(), req.SessionID, req.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleApproveClose(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}
	s, err := a.engine.ApproveClose(r.Context(), req.SessionID, req.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleSwitch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}
	s, err := a.engine.Switch(r.Context(), req.UserID, req.SessionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.index.ActiveSessions(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	id, err := a.index.Current(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.SessionID == "" || req.UserID == "" {
		http.Error(w, "session_id and user_id are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		service := ""
		if claims := claimsFrom(r.Context()); claims != nil {
			service = claims.Service
		}
		a.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("service", service),
			zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, db.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, session.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, session.ErrCompletionRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrAlreadyConfirmed),
		errors.Is(err, session.ErrConflict),
		errors.Is(err, db.ErrOrderNotAvailable):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidParticipants), errors.Is(err, consensus.ErrEmptyContent):
		return http.StatusBadRequest
	case session.IsStorage(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
