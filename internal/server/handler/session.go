package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/session"
)

// SessionManager is the wallet connection as the HTTP layer drives it.
type SessionManager interface {
	Snapshot() session.Snapshot
	Connect(ctx context.Context, preferred domain.WalletType) (domain.WalletSession, error)
	Disconnect(ctx context.Context)
}

// NetworkGuard switches the wallet's active chain.
type NetworkGuard interface {
	SwitchToTargetChain(ctx context.Context, desired string) error
}

// SessionHandler serves the wallet session and network endpoints.
type SessionHandler struct {
	sessions SessionManager
	guard    NetworkGuard
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionManager, guard NetworkGuard, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, guard: guard, logger: logger}
}

type connectRequest struct {
	WalletType string `json:"walletType" validate:"omitempty,oneof=metamask trustwallet"`
}

type switchRequest struct {
	ChainID string `json:"chainId"`
}

// GetSession returns the current session snapshot.
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}

// Connect asks the wallet for account access. An empty walletType uses
// the stored preference.
// POST /api/session/connect
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	var preferred domain.WalletType
	if req.WalletType != "" {
		preferred, _ = domain.ParseWalletType(req.WalletType)
	}

	if _, err := h.sessions.Connect(r.Context(), preferred); err != nil {
		writeServiceError(w, r, h.logger, "connect", err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}

// Disconnect clears the session and the stored preference.
// POST /api/session/disconnect
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.sessions.Disconnect(r.Context())
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}

// SwitchNetwork moves the wallet to chainId, or to the target chain when
// it is omitted.
// POST /api/network/switch
func (h *SessionHandler) SwitchNetwork(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !h.sessions.Snapshot().Connected {
		writeError(w, http.StatusConflict, domain.ErrNotConnected.Error())
		return
	}
	if err := h.guard.SwitchToTargetChain(r.Context(), req.ChainID); err != nil {
		writeServiceError(w, r, h.logger, "switch network", err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}
