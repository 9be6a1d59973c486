package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wearforce/gateway/internal/deviceflow"
	"github.com/wearforce/gateway/internal/middleware"
	"github.com/wearforce/gateway/internal/observability"
)

// handleDeviceAuthorization starts a device grant.
// POST /oauth/device_authorization (application/x-www-form-urlencoded)
func (s *Server) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, s.logger, deviceflow.ErrInvalidRequest)
		return
	}

	resp, err := s.deviceFlow.Initiate(r.Context(),
		r.PostForm.Get("client_id"), r.PostForm.Get("scope"))
	if err != nil {
		writeOAuthError(w, s.logger, err)
		return
	}

	writeTokenJSON(w, http.StatusOK, resp)
}

// handleToken answers device grant polls.
// POST /oauth/token (application/x-www-form-urlencoded)
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, s.logger, deviceflow.ErrInvalidRequest)
		return
	}

	pair, err := s.deviceFlow.Poll(r.Context(),
		r.PostForm.Get("grant_type"),
		r.PostForm.Get("device_code"),
		r.PostForm.Get("client_id"))
	if err != nil {
		writeOAuthError(w, s.logger, err)
		return
	}

	writeTokenJSON(w, http.StatusOK, pair)
}

// deviceView is what the verification UI sees of a record.
type deviceView struct {
	UserCode  string    `json:"user_code"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope,omitempty"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newDeviceView(record *deviceflow.Record) deviceView {
	return deviceView{
		UserCode:  record.UserCode,
		ClientID:  record.ClientID,
		Scope:     record.Scope,
		Status:    string(record.Status),
		ExpiresAt: record.ExpiresAt,
	}
}

// handleDeviceVerify shows what a user code would grant, so the user
// can inspect the request before deciding.
// GET /device/verify?user_code=XXXX-XXXX
func (s *Server) handleDeviceVerify(w http.ResponseWriter, r *http.Request) {
	record, err := s.deviceFlow.Get(r.Context(), r.URL.Query().Get("user_code"))
	if err != nil {
		writeOAuthError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(record))
}

// authorizeRequest is the decision body.
type authorizeRequest struct {
	UserCode string `json:"user_code"`
	Approve  bool   `json:"approve"`
}

// handleDeviceAuthorize records the authenticated user's decision.
// POST /device/authorize (application/json, bearer auth)
func (s *Server) handleDeviceAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, s.logger, deviceflow.ErrInvalidRequest)
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeOAuthError(w, s.logger, deviceflow.ErrInvalidClient)
		return
	}

	record, err := s.deviceFlow.Authorize(r.Context(), req.UserCode, claims.Subject, req.Approve)
	if err != nil {
		writeOAuthError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(record))
}

// handleDeviceStatus reports where a grant stands.
// GET /device/status/{user_code}
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	record, err := s.deviceFlow.Get(r.Context(), r.PathValue("user_code"))
	if err != nil {
		writeOAuthError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(record))
}

// handleWSStats reports connection registry counters.
// GET /ws/stats (bearer auth)
func (s *Server) handleWSStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// writeOAuthError maps protocol errors onto the RFC 6749 error body.
// Anything else is a dependency failure and answers 500 without
// leaking detail.
func writeOAuthError(w http.ResponseWriter, logger observability.Logger, err error) {
	var oauthErr *deviceflow.Error
	if errors.As(err, &oauthErr) {
		writeTokenJSON(w, oauthErr.Status, oauthErr)
		return
	}

	logger.Error("request failed", observability.Error(err))
	writeTokenJSON(w, http.StatusInternalServerError, &deviceflow.Error{
		Code:        "server_error",
		Description: "temporary failure, retry later",
	})
}

// writeTokenJSON writes OAuth responses, which must never be cached.
func writeTokenJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
