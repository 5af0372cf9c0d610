package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/pkg/keyservice"
	"github.com/corsarvpn/keyserver/pkg/payment"
)

// keyView is the JSON projection of a store.Key returned to the front-end.
type keyView struct {
	ID       int64  `json:"id"`
	ServerID int64  `json:"server_id"`
	URI      string `json:"uri"`
	Device   string `json:"device"`
	Name     string `json:"name"`
	Start    string `json:"start"`
	Finish   string `json:"finish"`
	Active   bool   `json:"active"`
	IsTest   bool   `json:"is_test"`
}

func toKeyView(k *store.Key) keyView {
	return keyView{
		ID:       k.ID,
		ServerID: k.ServerID,
		URI:      k.Key,
		Device:   k.Device,
		Name:     k.Name,
		Start:    k.Start.UTC().Format(time.RFC3339),
		Finish:   k.Finish.UTC().Format(time.RFC3339),
		Active:   k.Active,
		IsTest:   k.IsTest,
	}
}

// authenticateRequest is the body of POST /api/v1/users/authenticate.
type authenticateRequest struct {
	UserID   int64   `json:"user_id" validate:"required"`
	Username *string `json:"username"`
}

type authenticateResponse struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username,omitempty"`
	IsBanned  bool   `json:"is_banned"`
	BanReason string `json:"ban_reason,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
}

// handleAuthenticate implements user-authenticate: resolves or creates
// the chat identity and returns its banned/admin role triple, firing
// on_user_registered the first time the identity is seen.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	existing, err := s.store.Users.Get(ctx, req.UserID)
	isNew := errors.Is(err, store.ErrNotFound)
	if err != nil && !isNew {
		RespondError(w, http.StatusInternalServerError, "internal", "loading user failed")
		return
	}

	user, err := s.store.Users.CreateFromChatIdentity(ctx, req.UserID, req.Username)
	if err != nil {
		s.log.Error("creating chat identity", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "resolving user failed")
		return
	}
	_ = existing

	if isNew {
		if err := s.notify.OnUserRegistered(ctx, user.ID); err != nil {
			s.log.Error("on_user_registered hook failed", "user_id", user.ID, "error", err)
		}
	}

	resp := authenticateResponse{UserID: user.ID, IsBanned: user.IsBanned, IsAdmin: user.IsAdmin}
	if user.Username != nil {
		resp.Username = *user.Username
	}
	if user.BanReason != nil {
		resp.BanReason = *user.BanReason
	}
	Respond(w, http.StatusOK, resp)
}

// createTestKeyRequest is the body of POST /api/v1/keys/test.
type createTestKeyRequest struct {
	UserID     int64  `json:"user_id" validate:"required"`
	Device     string `json:"device"`
	TrialHours int    `json:"trial_hours" validate:"required,gte=1"`
}

// handleCreateTestKey implements create-test-key.
func (s *Server) handleCreateTestKey(w http.ResponseWriter, r *http.Request) {
	var req createTestKeyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	finish := s.clockNow().Add(time.Duration(req.TrialHours) * time.Hour)
	key, err := s.keys.Create(ctx, keyservice.CreateParams{
		UserID: req.UserID,
		Device: req.Device,
		Finish: finish,
		IsTest: true,
	})
	if err != nil {
		if errors.Is(err, keyservice.ErrNoServerAvailable) {
			RespondError(w, http.StatusServiceUnavailable, "no_server_available", err.Error())
			return
		}
		s.log.Error("creating test key", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "creating test key failed")
		return
	}

	Respond(w, http.StatusCreated, toKeyView(key))
}

// createPaymentRequest is the body of POST /api/v1/payments.
type createPaymentRequest struct {
	UserID    int64   `json:"user_id" validate:"required"`
	TariffID  int64   `json:"tariff_id" validate:"required"`
	Device    string  `json:"device"`
	KeyID     *int64  `json:"key_id"`
	PromoCode *string `json:"promo_code"`
}

type paymentView struct {
	ID     int64  `json:"id"`
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

func toPaymentView(p *store.Payment) paymentView {
	return paymentView{ID: p.ID, Label: p.Label, Amount: p.Amount, URL: p.URL, Status: string(p.Status)}
}

// handleCreatePayment implements create-paid-payment.
func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	created, err := s.payments.CreatePayment(ctx, payment.CreateParams{
		UserID:   req.UserID,
		TariffID: req.TariffID,
		Device:   req.Device,
		KeyID:    req.KeyID,
		Promo:    req.PromoCode,
	})
	if err != nil {
		if errors.Is(err, payment.ErrPromoRejected) {
			RespondError(w, http.StatusUnprocessableEntity, "promo_rejected", err.Error())
			return
		}
		s.log.Error("creating payment", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "creating payment failed")
		return
	}

	Respond(w, http.StatusCreated, toPaymentView(created))
}

// handleCancelPayment implements cancel-payment.
func (s *Server) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "paymentID")
	if !ok {
		return
	}
	if err := s.payments.CancelPayment(r.Context(), id); err != nil {
		s.log.Error("cancelling payment", "payment_id", id, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "cancelling payment failed")
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleListUserKeys implements list-user-keys.
func (s *Server) handleListUserKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathInt64(w, r, "userID")
	if !ok {
		return
	}
	keys, err := s.store.Keys.ListByUser(r.Context(), userID)
	if err != nil {
		s.log.Error("listing user keys", "user_id", userID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "listing keys failed")
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, toKeyView(k))
	}
	Respond(w, http.StatusOK, views)
}

// prolongKeyRequest is the body of POST /api/v1/keys/{keyID}/prolong.
type prolongKeyRequest struct {
	TariffID int64 `json:"tariff_id" validate:"required"`
}

// handleProlongKey implements prolong-key.
func (s *Server) handleProlongKey(w http.ResponseWriter, r *http.Request) {
	keyID, ok := s.pathInt64(w, r, "keyID")
	if !ok {
		return
	}
	var req prolongKeyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	tariff, err := s.store.Tariffs.Get(r.Context(), req.TariffID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondError(w, http.StatusNotFound, "not_found", "tariff not found")
			return
		}
		RespondError(w, http.StatusInternalServerError, "internal", "loading tariff failed")
		return
	}

	if err := s.keys.Prolong(r.Context(), keyID, tariff.Days); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondError(w, http.StatusNotFound, "not_found", "key not found")
			return
		}
		s.log.Error("prolonging key", "key_id", keyID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "prolonging key failed")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "prolonged"})
}

// pathInt64 parses a chi URL parameter as an int64, writing a 400 response
// and returning false on failure.
func (s *Server) pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid "+name)
		return 0, false
	}
	return v, true
}
