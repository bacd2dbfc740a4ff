package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/staking"
)

// ControlHandler serves the session control endpoints.
type ControlHandler struct {
	session  SessionService
	settings any
	logger   *slog.Logger
}

// NewControlHandler creates a ControlHandler. settings is the redacted
// process configuration returned alongside the trading parameters.
func NewControlHandler(sess SessionService, settings any, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{session: sess, settings: settings, logger: logger}
}

type botControlRequest struct {
	Action string `json:"action"`
}

// BotControl applies start, stop, pause, resume or toggle.
// POST /api/bot-control
func (h *ControlHandler) BotControl(w http.ResponseWriter, r *http.Request) {
	var req botControlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()
	action := strings.ToLower(strings.TrimSpace(req.Action))
	var err error
	switch action {
	case "start":
		err = h.session.Start(ctx)
	case "stop":
		err = h.session.Stop(ctx)
	case "pause":
		err = h.session.Pause(ctx)
	case "resume":
		err = h.session.Resume(ctx)
	case "toggle":
		_, err = h.session.Toggle(ctx)
	default:
		writeError(w, http.StatusBadRequest, "action must be one of start, stop, pause, resume, toggle")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionRunning), errors.Is(err, domain.ErrSessionStopped):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.ErrorContext(ctx, "handler: bot control failed",
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to "+action+" session")
		}
		return
	}

	h.logger.InfoContext(ctx, "handler: bot control", slog.String("action", action))
	writeJSON(w, http.StatusOK, map[string]any{
		"action": action,
		"status": h.session.Status(ctx),
	})
}

// Reset starts a fresh session state.
// POST /api/reset
func (h *ControlHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Reset(r.Context()); err != nil {
		if errors.Is(err, domain.ErrContractOpen) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: reset failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"state":   h.session.State(),
	})
}

// GetConfig returns the active trading parameters.
// GET /api/config
func (h *ControlHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"trading": h.session.Config()}
	if h.settings != nil {
		resp["settings"] = h.settings
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateConfig merges the request body over the active trading parameters.
// PUT /api/config
func (h *ControlHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.session.Config()
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cfg.ContractType = domain.ContractType(strings.ToUpper(string(cfg.ContractType)))

	if err := h.session.UpdateConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]staking.Config{"trading": h.session.Config()})
}
